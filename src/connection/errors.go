package connection

import "errors"

// -----------------------------------------------------------------------------

var (
	// ErrNotConnected is returned when attempting to send an event while the
	// connection is not established.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned when the manager was explicitly disconnected.
	ErrClosed = errors.New("connection closed")

	// ErrPongTimeout signals a keepalive ping that was never answered.
	ErrPongTimeout = errors.New("pong not received in time")

	// ErrHandshakeTimeout signals a transport that opened but never delivered
	// the connection_established event.
	ErrHandshakeTimeout = errors.New("handshake not received in time")
)
