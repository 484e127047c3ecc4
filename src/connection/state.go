package connection

// -----------------------------------------------------------------------------

// State is the connection lifecycle state.
type State int32

const (
	// StateDisconnected: initial state, before Connect is called
	StateDisconnected State = iota

	// StateConnecting: transport dialing or waiting for the handshake event
	StateConnecting

	// StateConnected: handshake completed, session established
	StateConnected

	// StateReconnecting: connection lost, retry scheduled
	StateReconnecting

	// StateClosed: explicit Disconnect, terminal
	StateClosed
)

// -----------------------------------------------------------------------------

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
