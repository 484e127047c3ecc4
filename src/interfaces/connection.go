package interfaces

import (
	"context"
)

// -----------------------------------------------------------------------------

// IConnectionClient defines the interface for duplex transport connections.
// The raw-frame and closed callbacks are passed during client initialization
// (NewWebSocketClient).
type IConnectionClient interface {
	// Connect opens the connection and starts the receive loops.
	// It can be called again after the connection was lost or closed.
	Connect(ctx context.Context) error

	// Disconnect closes the connection
	Disconnect() error

	// IsRunning returns the connection status
	IsRunning() bool

	// GetName returns the client name
	GetName() string

	// GetType returns the transport type
	GetType() string

	// SendMessage sends a single text frame
	SendMessage([]byte) error
}
