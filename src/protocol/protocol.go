package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"event-ingestor/src/models"
)

// -----------------------------------------------------------------------------
// Reserved protocol event names
// -----------------------------------------------------------------------------

const (
	EventConnectionEstablished = "pusher:connection_established"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventError                 = "pusher:error"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventSubscriptionError     = "pusher_internal:subscription_error"
)

// -----------------------------------------------------------------------------

// IsReserved reports whether an event name belongs to the protocol itself
// rather than to application code.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, "pusher:") || strings.HasPrefix(name, "pusher_internal:")
}

// -----------------------------------------------------------------------------
// Wire envelope
// -----------------------------------------------------------------------------

// wireEvent is the JSON envelope exchanged on every text frame.
type wireEvent struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// -----------------------------------------------------------------------------

// Encode converts an event to a serialized text frame. Ignores all fields
// except Name, Channel and Data.
func Encode(event *models.MEvent) ([]byte, error) {
	if event.Name == "" {
		return nil, &BadEventNameError{Reason: "event name not set"}
	}

	frame, err := json.Marshal(wireEvent{
		Event:   event.Name,
		Channel: event.Channel,
		Data:    event.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event '%s': %w", event.Name, err)
	}
	return frame, nil
}

// -----------------------------------------------------------------------------

// Decode parses a text frame into an event. Protocol events
// ("pusher:"/"pusher_internal:") may carry their data payload as a
// JSON-encoded string; that extra level is unwrapped here so the dispatcher
// always sees a plain JSON value.
func Decode(frame []byte) (*models.MEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal(frame, &wire); err != nil {
		return nil, &DecodeError{Frame: frame, Err: err}
	}
	if wire.Event == "" {
		return nil, &DecodeError{Frame: frame, Err: &BadEventNameError{Reason: "no event name field"}}
	}

	data := wire.Data
	if IsReserved(wire.Event) && len(data) > 0 && data[0] == '"' {
		// double-encoded payload: the data field is a JSON string holding JSON
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, &DecodeError{Frame: frame, Err: fmt.Errorf("unwrapping data of '%s': %w", wire.Event, err)}
		}
		data = json.RawMessage(inner)
	}

	return &models.MEvent{
		Name:    wire.Event,
		Channel: wire.Channel,
		Data:    data,
	}, nil
}

// -----------------------------------------------------------------------------
// Protocol payloads
// -----------------------------------------------------------------------------

// HandshakeData is the payload of a connection_established event.
type HandshakeData struct {
	SocketID string `json:"socket_id"`

	// ActivityTimeout is the server's keepalive hint, in seconds. Zero when
	// the server did not send one.
	ActivityTimeout int `json:"activity_timeout"`
}

// -----------------------------------------------------------------------------

// ParseHandshake extracts the session information from a
// connection_established payload.
func ParseHandshake(data []byte) (*HandshakeData, error) {
	var handshake HandshakeData
	if err := json.Unmarshal(data, &handshake); err != nil {
		return nil, fmt.Errorf("failed to parse handshake payload: %w", err)
	}
	if handshake.SocketID == "" {
		return nil, fmt.Errorf("handshake payload has no socket_id (raw: %s)", string(data))
	}
	return &handshake, nil
}

// -----------------------------------------------------------------------------

// ErrorData is the payload of a pusher:error event.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------

// ParseError extracts code and message from a pusher:error payload.
// Malformed payloads yield a zero-code ErrorData rather than an error; the
// server is allowed to send free-form error events.
func ParseError(data []byte) *ErrorData {
	var errData ErrorData
	if err := json.Unmarshal(data, &errData); err != nil {
		return &ErrorData{Message: string(data)}
	}
	return &errData
}

// -----------------------------------------------------------------------------
// Outbound event constructors
// -----------------------------------------------------------------------------

type subscribePayload struct {
	Channel string `json:"channel"`
}

// -----------------------------------------------------------------------------

// SubscribeEvent builds a pusher:subscribe request for a channel.
func SubscribeEvent(channel string) *models.MEvent {
	data, _ := json.Marshal(subscribePayload{Channel: channel})
	return &models.MEvent{Name: EventSubscribe, Data: data}
}

// -----------------------------------------------------------------------------

// UnsubscribeEvent builds a pusher:unsubscribe request for a channel.
func UnsubscribeEvent(channel string) *models.MEvent {
	data, _ := json.Marshal(subscribePayload{Channel: channel})
	return &models.MEvent{Name: EventUnsubscribe, Data: data}
}

// -----------------------------------------------------------------------------

// PingEvent builds a keepalive ping.
func PingEvent() *models.MEvent {
	return &models.MEvent{Name: EventPing}
}

// -----------------------------------------------------------------------------

// PongEvent builds the reply to a server-initiated ping.
func PongEvent() *models.MEvent {
	return &models.MEvent{Name: EventPong}
}
