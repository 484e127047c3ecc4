package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------

// MEvent represents a single decoded protocol event.
// This is the transient value flowing between the codec, the dispatcher and
// the channel bindings; it is never persisted.
type MEvent struct {
	// Name is the event name ("pusher:ping", "new-order", ...)
	Name string

	// Channel is the channel the event was published on.
	// Empty for connection-level events.
	Channel string

	// Data is the opaque JSON payload. The codec does not interpret it
	// beyond the envelope fields.
	Data json.RawMessage
}

// -----------------------------------------------------------------------------

// MPublishedEvent is the downstream representation of a received event,
// stamped with the feed it came from and the reception time.
type MPublishedEvent struct {
	Feed       string          `json:"feed"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// -----------------------------------------------------------------------------

// MSubscriptionError describes a subscribe request rejected by the server.
// It is delivered to the channel's error listeners and does not affect the
// connection or other channels.
type MSubscriptionError struct {
	Channel string `json:"channel"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// -----------------------------------------------------------------------------

// Error implements the error interface.
func (e *MSubscriptionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("subscription to channel '%s' failed (code %d): %s", e.Channel, e.Code, e.Reason)
	}
	return fmt.Sprintf("subscription to channel '%s' failed: %s", e.Channel, e.Reason)
}
