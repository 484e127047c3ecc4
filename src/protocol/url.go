package protocol

import (
	"fmt"

	"event-ingestor/src/models"
)

// -----------------------------------------------------------------------------

const (
	// ClientName and Version identify this client in the connection URL
	ClientName = "event-ingestor"
	Version    = "1.0.0"

	// ProtocolVersion is the wire protocol revision this client speaks
	ProtocolVersion = 7

	// DefaultHost is used when neither a host nor a cluster is configured
	DefaultHost = "ws.pusherapp.com"
)

// -----------------------------------------------------------------------------

// BuildURL assembles the websocket endpoint for a feed from its key and
// cluster/host configuration.
func BuildURL(feed *models.MFeedConfig) string {
	host := feed.Host
	if host == "" {
		if feed.Cluster != "" {
			host = fmt.Sprintf("ws-%s.pusher.com", feed.Cluster)
		} else {
			host = DefaultHost
		}
	}

	scheme := "ws"
	port := 80
	if feed.Secure {
		scheme = "wss"
		port = 443
	}
	if feed.Port != 0 {
		port = feed.Port
	}

	return fmt.Sprintf("%s://%s:%d/app/%s?client=%s&version=%s&protocol=%d",
		scheme, host, port, feed.Key, ClientName, Version, ProtocolVersion)
}
