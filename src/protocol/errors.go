package protocol

import "fmt"

// -----------------------------------------------------------------------------

// DecodeError reports an unparsable inbound frame. The dispatcher logs and
// discards these; they are never fatal to the connection.
type DecodeError struct {
	Frame []byte
	Err   error
}

// -----------------------------------------------------------------------------

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v (raw: %s)", e.Err, string(e.Frame))
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------

// BadEventNameError reports an event with a missing or invalid name.
type BadEventNameError struct {
	Reason string
}

func (e *BadEventNameError) Error() string {
	return fmt.Sprintf("bad event name: %s", e.Reason)
}

// -----------------------------------------------------------------------------
// Server error codes
// -----------------------------------------------------------------------------

// errorCodeText maps the documented server error codes to descriptions.
var errorCodeText = map[int]string{
	4000: "application only accepts SSL connections",
	4001: "application does not exist",
	4003: "application disabled",
	4004: "application is over connection quota",
	4005: "path not found",
	4006: "invalid version string format",
	4007: "unsupported protocol version",
	4008: "no protocol version supplied",

	4100: "over capacity",

	4200: "generic reconnect signal",
	4201: "ping/pong reply not received by server",
	4202: "connection closed after inactivity",

	4301: "client event rejected due to rate limit",
}

// -----------------------------------------------------------------------------

// ErrorCodeText returns the description for a server error code, or an
// empty string for unknown codes.
func ErrorCodeText(code int) string {
	return errorCodeText[code]
}

// -----------------------------------------------------------------------------

// ErrorAction tells the connection manager how to react to a server error.
type ErrorAction int

const (
	// ActionNone: informational, the connection stays up.
	ActionNone ErrorAction = iota

	// ActionClose: reconnecting with the same parameters cannot succeed
	// (4000-4099); give up instead of hammering the server.
	ActionClose

	// ActionReconnectBackoff: the server closed the connection, retry with
	// backoff (4100-4199).
	ActionReconnectBackoff

	// ActionReconnectImmediately: the server closed the connection and the
	// client may reconnect right away (4200-4299).
	ActionReconnectImmediately
)

// -----------------------------------------------------------------------------

// ClassifyErrorCode maps a server error code to the required reaction.
func ClassifyErrorCode(code int) ErrorAction {
	switch {
	case code >= 4000 && code < 4100:
		return ActionClose
	case code >= 4100 && code < 4200:
		return ActionReconnectBackoff
	case code >= 4200 && code < 4300:
		return ActionReconnectImmediately
	default:
		return ActionNone
	}
}
