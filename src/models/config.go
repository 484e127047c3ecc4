package models

import "time"

// -----------------------------------------------------------------------------

// MConfig is the top-level application configuration loaded from YAML.
type MConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`

	// REST API port
	Port int `yaml:"port"`

	// gRPC control/health endpoint
	GRPC_Host string `yaml:"grpc_host"`
	GRPC_Port int    `yaml:"grpc_port"`

	// Feeds are the upstream applications to connect to
	Feeds []*MFeedConfig `yaml:"feeds"`

	// NATS publishing configuration
	NATS MNATSConfig `yaml:"nats"`
}

// -----------------------------------------------------------------------------

// MFeedConfig describes one upstream connection: the application key,
// where to reach the broker, and which channels to subscribe.
type MFeedConfig struct {
	Name string `yaml:"name"`

	// Key is the application key used in the connection URL
	Key string `yaml:"key"`

	// Cluster selects the broker cluster host ("ws-<cluster>.pusher.com").
	// Host/Port override the cluster-derived endpoint entirely.
	Cluster string `yaml:"cluster,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`

	// Secure selects wss:// over ws://
	Secure bool `yaml:"secure"`

	// ActivityTimeout overrides the keepalive interval. The server's
	// handshake hint still applies when it is lower.
	ActivityTimeout time.Duration `yaml:"activity_timeout,omitempty"`

	// PongTimeout is how long to wait for a pong before declaring the
	// connection dead.
	PongTimeout time.Duration `yaml:"pong_timeout,omitempty"`

	// Channels to subscribe on connect
	Channels []*MChannelConfig `yaml:"channels"`
}

// -----------------------------------------------------------------------------

// MChannelConfig selects a channel and optionally restricts which event
// names are forwarded to the publisher. An empty Events list forwards all
// non-internal events on the channel.
type MChannelConfig struct {
	Name   string   `yaml:"name"`
	Events []string `yaml:"events,omitempty"`
}

// -----------------------------------------------------------------------------

// MNATSConfig holds the NATS publishing configuration.
type MNATSConfig struct {
	ClientID       string        `yaml:"client_id"`
	Servers        []string      `yaml:"servers"`
	SubjectPrefix  string        `yaml:"subject_prefix,omitempty"`
	Serializer     string        `yaml:"serializer,omitempty"` // "json" (default) or "gob"
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait,omitempty"`
	MaxReconnects  int           `yaml:"max_reconnects,omitempty"`
	FlushTimeout   time.Duration `yaml:"flush_timeout,omitempty"`

	JetStream *MJetStreamConfig `yaml:"jetstream,omitempty"`
}

// -----------------------------------------------------------------------------

// MJetStreamConfig enables persistent publishing through JetStream.
type MJetStreamConfig struct {
	Enabled    bool          `yaml:"enabled"`
	StreamName string        `yaml:"stream_name"`
	Subjects   []string      `yaml:"subjects"`
	Replicas   int           `yaml:"replicas,omitempty"`
	MaxAge     time.Duration `yaml:"max_age,omitempty"`
	MaxMsgs    int64         `yaml:"max_msgs,omitempty"`
	MaxBytes   int64         `yaml:"max_bytes,omitempty"`
	MaxMsgSize int           `yaml:"max_msg_size,omitempty"`
}
