package models

// -----------------------------------------------------------------------------

// MFeedStatus represents the runtime status of one feed.
// It aggregates information from the underlying connection and channel
// registry.
type MFeedStatus struct {
	FeedName string           `json:"feed_name"`
	State    string           `json:"state"`     // connection state
	SocketID string           `json:"socket_id"` // empty unless connected
	Endpoint string           `json:"endpoint"`  // key masked for display
	Channels []MChannelStatus `json:"channels"`
}

// -----------------------------------------------------------------------------

// MChannelStatus reports the subscription state of a single channel.
type MChannelStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
