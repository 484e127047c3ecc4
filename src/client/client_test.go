package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"event-ingestor/src/connection"
	"event-ingestor/src/interfaces"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fake transport standing in for the websocket layer
// -----------------------------------------------------------------------------

type fakeTransport struct {
	mu        sync.Mutex
	running   bool
	sent      [][]byte
	onRawData func([]byte)
	onClosed  func(error)
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeTransport) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTransport) GetName() string { return "fake" }
func (f *fakeTransport) GetType() string { return "fake" }

func (f *fakeTransport) SendMessage(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return fmt.Errorf("transport not running")
	}
	f.sent = append(f.sent, data)
	return nil
}

// serve simulates one inbound frame from the server.
func (f *fakeTransport) serve(frame string) {
	f.onRawData([]byte(frame))
}

// dropConnection simulates an unexpected transport failure.
func (f *fakeTransport) dropConnection() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	f.onClosed(fmt.Errorf("connection reset by peer"))
}

func (f *fakeTransport) sentCount(eventName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, frame := range f.sent {
		var wire struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(frame, &wire) == nil && wire.Event == eventName {
			count++
		}
	}
	return count
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func newTestClient(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{}
	factory := func(endpoint string, logg *logger.Logger, name string,
		onRawData func([]byte), onClosed func(error)) interfaces.IConnectionClient {
		transport.onRawData = onRawData
		transport.onClosed = onClosed
		return transport
	}

	feed := &models.MFeedConfig{Name: "test-feed", Key: "abcdef123456"}
	c, err := newClient(feed, logger.NewNop(), factory)
	require.NoError(t, err)
	return c, transport
}

// -----------------------------------------------------------------------------

func establishSession(t *testing.T, c *Client, transport *fakeTransport) {
	t.Helper()

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return transport.IsRunning() },
		time.Second, time.Millisecond)

	transport.serve(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"81.9\",\"activity_timeout\":120}"}`)
	require.Equal(t, connection.StateConnected, c.State())
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(nil, logger.NewNop())
	require.Error(t, err)

	_, err = NewClient(&models.MFeedConfig{Name: "nokey"}, logger.NewNop())
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

// Full session walkthrough: subscribe before connect, receive the
// confirmation, then get an application event delivered exactly once.
func TestSubscribeConnectReceive(t *testing.T) {
	c, transport := newTestClient(t)

	ch, err := c.Subscribe("orders")
	require.NoError(t, err)

	var received []*models.MEvent
	_, err = ch.Bind("new-order", func(event *models.MEvent) {
		received = append(received, event)
	})
	require.NoError(t, err)

	establishSession(t, c, transport)
	assert.Equal(t, "81.9", c.SocketID())

	// the deferred subscribe went out with the session
	assert.Equal(t, 1, transport.sentCount("pusher:subscribe"))

	transport.serve(`{"event":"pusher_internal:subscription_succeeded","channel":"orders","data":"{}"}`)
	assert.True(t, ch.IsSubscribed())

	transport.serve(`{"event":"new-order","channel":"orders","data":{"id":1}}`)

	require.Len(t, received, 1)
	assert.Equal(t, "new-order", received[0].Name)
	assert.Equal(t, "orders", received[0].Channel)
	assert.JSONEq(t, `{"id":1}`, string(received[0].Data))
}

// -----------------------------------------------------------------------------

func TestEventsForOtherChannelsNotDelivered(t *testing.T) {
	c, transport := newTestClient(t)

	ch, err := c.Subscribe("orders")
	require.NoError(t, err)

	calls := 0
	_, err = ch.Bind("new-order", func(*models.MEvent) { calls++ })
	require.NoError(t, err)

	establishSession(t, c, transport)

	transport.serve(`{"event":"new-order","channel":"payments","data":{}}`)
	transport.serve(`{"event":"new-order","channel":"orders","data":{}}`)

	assert.Equal(t, 1, calls)
}

// -----------------------------------------------------------------------------

func TestMalformedFramesAreDropped(t *testing.T) {
	c, transport := newTestClient(t)
	establishSession(t, c, transport)

	transport.serve(`this is not json`)
	transport.serve(`{"channel":"orders"}`)

	// the connection survives garbage input
	assert.Equal(t, connection.StateConnected, c.State())
}

// -----------------------------------------------------------------------------

func TestReconnectReplaysSubscriptions(t *testing.T) {
	c, transport := newTestClient(t)

	ch, err := c.Subscribe("orders")
	require.NoError(t, err)

	establishSession(t, c, transport)
	transport.serve(`{"event":"pusher_internal:subscription_succeeded","channel":"orders","data":"{}"}`)
	require.True(t, ch.IsSubscribed())

	var mu sync.Mutex
	var states []connection.State
	c.BindStateChange(func(prev, current connection.State) {
		mu.Lock()
		states = append(states, current)
		mu.Unlock()
	})

	transport.dropConnection()
	assert.Empty(t, c.SocketID())

	// backoff elapses, the transport reopens and the session is rebuilt
	require.Eventually(t, func() bool { return transport.IsRunning() },
		5*time.Second, 5*time.Millisecond)
	transport.serve(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"82.0\",\"activity_timeout\":120}"}`)

	require.Equal(t, connection.StateConnected, c.State())
	assert.Equal(t, "82.0", c.SocketID())

	// the channel was resubscribed without any application involvement
	assert.Equal(t, 2, transport.sentCount("pusher:subscribe"))
	transport.serve(`{"event":"pusher_internal:subscription_succeeded","channel":"orders","data":"{}"}`)
	assert.True(t, ch.IsSubscribed())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, connection.StateReconnecting)
	assert.Contains(t, states, connection.StateConnected)
}

// -----------------------------------------------------------------------------

func TestDisconnectIsTerminal(t *testing.T) {
	c, transport := newTestClient(t)
	establishSession(t, c, transport)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, connection.StateClosed, c.State())
	assert.False(t, transport.IsRunning())
}

// -----------------------------------------------------------------------------

// A state listener is allowed to call back into the client, including
// tearing it down.
func TestStateListenerMayDisconnectClient(t *testing.T) {
	c, transport := newTestClient(t)

	c.BindStateChange(func(prev, current connection.State) {
		if current == connection.StateConnected {
			assert.NoError(t, c.Disconnect())
		}
	})

	require.NoError(t, c.Connect())
	require.Eventually(t, func() bool { return transport.IsRunning() },
		time.Second, time.Millisecond)

	transport.serve(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"81.9\",\"activity_timeout\":120}"}`)

	assert.Equal(t, connection.StateClosed, c.State())
	assert.False(t, transport.IsRunning())
}

// -----------------------------------------------------------------------------

func TestErrorListenerReceivesTransportFailures(t *testing.T) {
	c, transport := newTestClient(t)

	var mu sync.Mutex
	var errors []error
	c.BindError(func(err error) {
		mu.Lock()
		errors = append(errors, err)
		mu.Unlock()
	})

	establishSession(t, c, transport)
	transport.dropConnection()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, errors)
	assert.Contains(t, errors[0].Error(), "connection reset by peer")
}

// -----------------------------------------------------------------------------

func TestStatusReport(t *testing.T) {
	c, transport := newTestClient(t)

	_, err := c.Subscribe("orders")
	require.NoError(t, err)

	establishSession(t, c, transport)
	transport.serve(`{"event":"pusher_internal:subscription_succeeded","channel":"orders","data":"{}"}`)

	status := c.Status()
	assert.Equal(t, "test-feed", status.FeedName)
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, "81.9", status.SocketID)
	assert.NotContains(t, status.Endpoint, "abcdef123456")
	require.Len(t, status.Channels, 1)
	assert.Equal(t, "orders", status.Channels[0].Name)
	assert.Equal(t, "subscribed", status.Channels[0].State)
}

// -----------------------------------------------------------------------------

func TestChannelAccessor(t *testing.T) {
	c, _ := newTestClient(t)

	ch, err := c.Subscribe("orders")
	require.NoError(t, err)
	assert.Same(t, ch, c.Channel("orders"))
	assert.Nil(t, c.Channel("unknown"))

	c.Unsubscribe("orders")
	assert.Nil(t, c.Channel("orders"))
}
