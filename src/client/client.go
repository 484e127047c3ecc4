package client

import (
	"fmt"
	"sync"

	"event-ingestor/src/channels"
	"event-ingestor/src/connection"
	"event-ingestor/src/dispatcher"
	"event-ingestor/src/interfaces"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/protocol"
	"event-ingestor/src/transports"
	"event-ingestor/src/utils"
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Client is the object applications hold: one connection to one upstream
// application, a channel registry, and the dispatch wiring between them.
type Client struct {
	name     string
	logger   *logger.Logger
	feed     *models.MFeedConfig
	endpoint string

	conn       *connection.Manager
	registry   *channels.Registry
	dispatcher *dispatcher.Dispatcher

	mu             sync.RWMutex
	stateListeners []func(prev, current connection.State)
	errorListeners []func(error)
}

// -----------------------------------------------------------------------------

// transportFactory builds the duplex transport; swapped out in tests.
type transportFactory func(endpoint string, logger *logger.Logger, name string,
	onRawData func([]byte), onClosed func(error)) interfaces.IConnectionClient

// -----------------------------------------------------------------------------
// CONSTRUCTOR
// -----------------------------------------------------------------------------

// NewClient creates a client for one feed configuration.
func NewClient(feed *models.MFeedConfig, log *logger.Logger) (*Client, error) {
	factory := func(endpoint string, logg *logger.Logger, name string,
		onRawData func([]byte), onClosed func(error)) interfaces.IConnectionClient {
		return transports.NewWebSocketClient(endpoint, logg, name, onRawData, onClosed)
	}
	return newClient(feed, log, factory)
}

// -----------------------------------------------------------------------------

// newClient wires transport, connection manager, registry and dispatcher.
func newClient(feed *models.MFeedConfig, logger *logger.Logger, factory transportFactory) (*Client, error) {
	if feed == nil {
		return nil, fmt.Errorf("feed configuration cannot be nil")
	}
	if feed.Key == "" {
		return nil, fmt.Errorf("feed '%s': application key cannot be empty", feed.Name)
	}

	c := &Client{
		name:     feed.Name,
		logger:   logger,
		feed:     feed,
		endpoint: protocol.BuildURL(feed),
	}

	// The transport callbacks reach the dispatcher and manager through the
	// client so construction order does not matter.
	transport := factory(c.endpoint, logger, feed.Name, c.handleRawData, c.handleTransportClosed)

	c.conn = connection.NewManager(feed, transport, logger, c.handleStateChange, c.handleError)
	c.registry = channels.NewRegistry(feed.Name, c.conn, logger, c.handleError)
	c.dispatcher = dispatcher.New(feed.Name, c.conn, c.registry, logger)

	return c, nil
}

// -----------------------------------------------------------------------------
// LIFECYCLE
// -----------------------------------------------------------------------------

// Connect starts the connection state machine. Channels subscribed before
// this call are picked up automatically once the session is established.
func (c *Client) Connect() error {
	c.logger.Info("%s : connecting to %s", c.name, utils.MaskAPIKey(c.endpoint))
	return c.conn.Connect()
}

// -----------------------------------------------------------------------------

// Disconnect terminates the client. This is the only terminal transition;
// the client cannot be reused afterwards.
func (c *Client) Disconnect() error {
	c.logger.Info("%s : disconnecting", c.name)
	return c.conn.Disconnect()
}

// -----------------------------------------------------------------------------
// CHANNELS
// -----------------------------------------------------------------------------

// Subscribe adds a channel to the desired set and returns its handle.
// Idempotent per channel name.
func (c *Client) Subscribe(channelName string) (*channels.Channel, error) {
	return c.registry.Subscribe(channelName)
}

// -----------------------------------------------------------------------------

// Unsubscribe drops a channel. Unknown names are a no-op.
func (c *Client) Unsubscribe(channelName string) {
	c.registry.Unsubscribe(channelName)
}

// -----------------------------------------------------------------------------

// Channel returns the handle for a tracked channel, or nil.
func (c *Client) Channel(channelName string) *channels.Channel {
	return c.registry.Get(channelName)
}

// -----------------------------------------------------------------------------
// OBSERVATION
// -----------------------------------------------------------------------------

// State returns the current connection state.
func (c *Client) State() connection.State {
	return c.conn.State()
}

// -----------------------------------------------------------------------------

// SocketID returns the server-assigned session id; empty unless connected.
func (c *Client) SocketID() string {
	return c.conn.SocketID()
}

// -----------------------------------------------------------------------------

// BindStateChange registers a listener for connection state transitions.
func (c *Client) BindStateChange(listener func(prev, current connection.State)) {
	if listener == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateListeners = append(c.stateListeners, listener)
}

// -----------------------------------------------------------------------------

// BindError registers a listener for non-fatal client errors: transport
// failures (recovered internally), server protocol errors, and panics
// recovered from event callbacks.
func (c *Client) BindError(listener func(error)) {
	if listener == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorListeners = append(c.errorListeners, listener)
}

// -----------------------------------------------------------------------------

// Status reports the feed's runtime status.
func (c *Client) Status() *models.MFeedStatus {
	return &models.MFeedStatus{
		FeedName: c.name,
		State:    c.conn.State().String(),
		SocketID: c.conn.SocketID(),
		Endpoint: utils.MaskAPIKey(c.endpoint),
		Channels: c.registry.Statuses(),
	}
}

// -----------------------------------------------------------------------------
// PRIVATE: WIRING
// -----------------------------------------------------------------------------

// handleRawData feeds inbound frames to the dispatcher.
func (c *Client) handleRawData(raw []byte) {
	c.dispatcher.Dispatch(raw)
}

// -----------------------------------------------------------------------------

// handleTransportClosed forwards connection loss to the manager.
func (c *Client) handleTransportClosed(err error) {
	c.conn.HandleTransportClosed(err)
}

// -----------------------------------------------------------------------------

// handleStateChange keeps the registry in step with the connection and then
// notifies application listeners.
func (c *Client) handleStateChange(prev, current connection.State) {
	if prev == connection.StateConnected {
		c.registry.OnDisconnected()
	}
	if current == connection.StateConnected {
		c.registry.OnConnected()
	}

	c.mu.RLock()
	listeners := make([]func(prev, current connection.State), len(c.stateListeners))
	copy(listeners, c.stateListeners)
	c.mu.RUnlock()

	for _, listener := range listeners {
		c.safeNotifyState(listener, prev, current)
	}
}

// -----------------------------------------------------------------------------

// handleError fans a non-fatal error out to the registered listeners.
func (c *Client) handleError(err error) {
	c.mu.RLock()
	listeners := make([]func(error), len(c.errorListeners))
	copy(listeners, c.errorListeners)
	c.mu.RUnlock()

	for _, listener := range listeners {
		c.safeNotifyError(listener, err)
	}
}

// -----------------------------------------------------------------------------

// safeNotifyState shields the client from a panicking state listener.
func (c *Client) safeNotifyState(listener func(prev, current connection.State), prev, current connection.State) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("%s : state listener panic: %v", c.name, rec)
		}
	}()
	listener(prev, current)
}

// -----------------------------------------------------------------------------

// safeNotifyError shields the client from a panicking error listener.
func (c *Client) safeNotifyError(listener func(error), err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("%s : error listener panic: %v", c.name, rec)
		}
	}()
	listener(err)
}
