package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

const validYAML = `
name: "event-ingestor"
log_level: "debug"
port: 8080
grpc_host: "0.0.0.0"
grpc_port: 50051
feeds:
  - name: "orders-feed"
    key: "abcdef123456"
    cluster: "eu"
    secure: true
    activity_timeout: 60s
    pong_timeout: 15s
    channels:
      - name: "orders"
        events:
          - "new-order"
nats:
  client_id: "event-ingestor"
  servers:
    - "nats://localhost:4222"
  subject_prefix: "ingest"
  serializer: "json"
  connect_timeout: 5s
  jetstream:
    enabled: true
    stream_name: "EVENTS"
    subjects:
      - "ingest.events.>"
`

// -----------------------------------------------------------------------------

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// -----------------------------------------------------------------------------

func TestNewConfigLoadsValidFile(t *testing.T) {
	config, err := NewConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "event-ingestor", config.Name)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, 50051, config.GRPC_Port)

	require.Len(t, config.Feeds, 1)
	feed := config.Feeds[0]
	assert.Equal(t, "orders-feed", feed.Name)
	assert.Equal(t, "eu", feed.Cluster)
	assert.True(t, feed.Secure)
	assert.Equal(t, 60*time.Second, feed.ActivityTimeout)
	assert.Equal(t, 15*time.Second, feed.PongTimeout)
	require.Len(t, feed.Channels, 1)
	assert.Equal(t, []string{"new-order"}, feed.Channels[0].Events)

	assert.Equal(t, []string{"nats://localhost:4222"}, config.NATS.Servers)
	require.NotNil(t, config.NATS.JetStream)
	assert.True(t, config.NATS.JetStream.Enabled)
}

// -----------------------------------------------------------------------------

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestNewConfigRejectsInvalidYAML(t *testing.T) {
	_, err := NewConfig(writeConfig(t, "feeds: [}"))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		mutate  string
		replace string
	}{
		{"empty name", `name: "event-ingestor"`, `name: ""`},
		{"bad port", `port: 8080`, `port: 80`},
		{"bad grpc port", `grpc_port: 50051`, `grpc_port: 70000`},
		{"missing key", `key: "abcdef123456"`, `key: ""`},
		{"bad serializer", `serializer: "json"`, `serializer: "xml"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := strings.Replace(validYAML, tc.mutate, tc.replace, 1)
			_, err := NewConfig(writeConfig(t, broken))
			require.Error(t, err)
		})
	}
}

// -----------------------------------------------------------------------------

func TestGetFeedByName(t *testing.T) {
	config, err := NewConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.NotNil(t, config.GetFeedByName("orders-feed"))
	assert.Nil(t, config.GetFeedByName("unknown"))
}
