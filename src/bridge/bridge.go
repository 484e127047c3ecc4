package bridge

import (
	"fmt"
	"sync"

	"event-ingestor/src/client"
	"event-ingestor/src/config"
	"event-ingestor/src/factories"
	"event-ingestor/src/interfaces"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/publishers"
	"event-ingestor/src/serializers"
)

// -----------------------------------------------------------------------------
// Core Application Struct
// -----------------------------------------------------------------------------

// Bridge connects upstream event feeds to the downstream publisher: every
// event received on a subscribed channel of any feed is forwarded to NATS.
type Bridge struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	// Publisher pushes received events to the message bus
	Publisher *interfaces.IPublisher
	// Factory dependency to create feed clients
	Factory *factories.FeedFactory
	// Running feed clients by feed name
	Feeds map[string]*client.Client
	mu    sync.RWMutex
}

// -----------------------------------------------------------------------------

// NewBridge creates a new Bridge instance
func NewBridge(config *config.Config, logger *logger.Logger) (*Bridge, error) {
	serializer, err := serializers.ForName(config.NATS.Serializer)
	if err != nil {
		return nil, fmt.Errorf("failed to create serializer: %w", err)
	}

	// create the nats publisher that handles and pushes messages
	publisher := publishers.NewNATSPublisher(&config.NATS, logger, serializer)

	bridge := &Bridge{
		Name:   "EventBridge",
		Config: config,
		Logger: logger,

		// Publisher, route and send message to the publisher (NATS...)
		Publisher: &publisher,

		// The factory forwards every received event to the publisher
		Factory: factories.NewFeedFactory(config, logger, publisher.OnEvent),

		Feeds: make(map[string]*client.Client),
	}

	return bridge, nil
}

// -----------------------------------------------------------------------------
// Public Lifecycle Methods (All Feeds)
// -----------------------------------------------------------------------------

// Start connects the publisher, creates all configured feed clients and
// starts their connections.
func (b *Bridge) Start() error {
	b.Logger.Info("%s : starting event bridge", b.Name)

	// 1. Connect to publisher first - fail fast if publisher unavailable
	b.Logger.Info("%s : connecting to publisher", b.Name)
	if err := (*b.Publisher).Connect(); err != nil {
		return fmt.Errorf("failed to connect to publisher: %w", err)
	}
	b.Logger.Info("%s : publisher connected successfully", b.Name)

	// 2. Create all feed clients using the factory
	feeds, err := b.Factory.CreateAllFeeds()
	if err != nil {
		return fmt.Errorf("failed to create feed clients: %w", err)
	}

	b.mu.Lock()
	b.Feeds = feeds
	b.mu.Unlock()

	// 3. Start all connections. Connect() returns immediately; the state
	// machine handles session establishment and reconnection internally.
	b.mu.RLock()
	for name, feedClient := range b.Feeds {
		b.Logger.Info("%s : starting feed %s", b.Name, name)
		if err := feedClient.Connect(); err != nil {
			b.Logger.Error("%s : feed %s startup error: %v", b.Name, name, err)
		}
	}
	b.mu.RUnlock()

	b.Logger.Info("%s : bridge started successfully, monitoring %d feeds", b.Name, len(b.Feeds))
	return nil
}

// -----------------------------------------------------------------------------

// Stop gracefully shuts down the bridge and all feed clients.
func (b *Bridge) Stop() error {
	b.Logger.Info("%s : stopping feeds", b.Name)

	b.mu.RLock()
	for name, feedClient := range b.Feeds {
		if err := feedClient.Disconnect(); err != nil {
			b.Logger.Error("%s : failed to disconnect feed %s: %v", b.Name, name, err)
		}
	}
	b.mu.RUnlock()

	// Disconnect publisher after all feeds have stopped
	b.Logger.Info("%s : disconnecting publisher", b.Name)
	if err := (*b.Publisher).Disconnect(); err != nil {
		b.Logger.Error("%s : failed to disconnect publisher: %v", b.Name, err)
	}

	b.Logger.Info("%s : bridge stopped", b.Name)
	return nil
}

// -----------------------------------------------------------------------------
// Dynamic Feed Management Methods
// -----------------------------------------------------------------------------

// AddFeed creates a feed client from its configuration entry and starts it.
// The feed must be present in the configuration.
func (b *Bridge) AddFeed(feedName string) error {
	b.Logger.Info("%s : attempting to add new feed: %s", b.Name, feedName)

	b.mu.RLock()
	_, exists := b.Feeds[feedName]
	b.mu.RUnlock()

	if exists {
		return fmt.Errorf("feed '%s' is already registered", feedName)
	}

	feedClient, err := b.Factory.CreateFeed(feedName)
	if err != nil {
		return fmt.Errorf("failed to create feed client for %s: %w", feedName, err)
	}

	if err := feedClient.Connect(); err != nil {
		return fmt.Errorf("failed to start feed %s: %w", feedName, err)
	}

	b.mu.Lock()
	b.Feeds[feedName] = feedClient
	b.mu.Unlock()

	b.Logger.Info("%s : feed '%s' successfully added and started", b.Name, feedName)
	return nil
}

// -----------------------------------------------------------------------------

// RemoveFeed disconnects a feed client and removes it from the map.
func (b *Bridge) RemoveFeed(feedName string) error {
	b.mu.RLock()
	feedClient, exists := b.Feeds[feedName]
	b.mu.RUnlock()

	if !exists {
		return fmt.Errorf("feed '%s' not found for deletion", feedName)
	}

	if err := feedClient.Disconnect(); err != nil {
		b.Logger.Error("%s : failed to disconnect feed %s: %v", b.Name, feedName, err)
	}

	b.mu.Lock()
	delete(b.Feeds, feedName)
	b.mu.Unlock()

	b.Logger.Info("%s : feed '%s' successfully removed", b.Name, feedName)
	return nil
}

// -----------------------------------------------------------------------------

// ListFeeds returns the names of all managed feeds.
func (b *Bridge) ListFeeds() []string {
	var names []string

	b.mu.RLock()
	defer b.mu.RUnlock()

	for name := range b.Feeds {
		names = append(names, name)
	}
	return names
}

// -----------------------------------------------------------------------------
// Subscription Management Methods
// -----------------------------------------------------------------------------

// SubscribeChannel subscribes a single feed to an additional channel at
// runtime. Events on the new channel are forwarded to the publisher.
func (b *Bridge) SubscribeChannel(feedName string, channelName string, events []string) error {
	b.mu.RLock()
	feedClient, ok := b.Feeds[feedName]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("feed '%s' not found", feedName)
	}

	b.Logger.Info("%s : subscribing feed %s to channel %s", b.Name, feedName, channelName)

	ch, err := feedClient.Subscribe(channelName)
	if err != nil {
		return fmt.Errorf("failed to subscribe feed %s to channel %s: %w", feedName, channelName, err)
	}

	forward := func(event *models.MEvent) {
		(*b.Publisher).OnEvent(feedName, event)
	}

	if len(events) == 0 {
		if _, err := ch.BindAll(forward); err != nil {
			return fmt.Errorf("failed to bind global callback on channel %s: %w", channelName, err)
		}
		return nil
	}

	for _, eventName := range events {
		if _, err := ch.Bind(eventName, forward); err != nil {
			return fmt.Errorf("failed to bind event %s on channel %s: %w", eventName, channelName, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// UnsubscribeChannel drops a channel subscription from a single feed.
func (b *Bridge) UnsubscribeChannel(feedName string, channelName string) error {
	b.mu.RLock()
	feedClient, ok := b.Feeds[feedName]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("feed '%s' not found", feedName)
	}

	b.Logger.Info("%s : unsubscribing feed %s from channel %s", b.Name, feedName, channelName)
	feedClient.Unsubscribe(channelName)
	return nil
}

// -----------------------------------------------------------------------------
// Status Methods
// -----------------------------------------------------------------------------

// GetFeedStatus returns the current status information for a single feed.
func (b *Bridge) GetFeedStatus(feedName string) (*models.MFeedStatus, error) {
	b.mu.RLock()
	feedClient, ok := b.Feeds[feedName]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("feed '%s' not found in bridge map", feedName)
	}

	return feedClient.Status(), nil
}

// -----------------------------------------------------------------------------

// GetAllFeedStatuses returns status information for every managed feed.
func (b *Bridge) GetAllFeedStatuses() []*models.MFeedStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	statuses := make([]*models.MFeedStatus, 0, len(b.Feeds))
	for _, feedClient := range b.Feeds {
		statuses = append(statuses, feedClient.Status())
	}
	return statuses
}

// -----------------------------------------------------------------------------

// IsPublisherConnected reports the downstream publisher state.
func (b *Bridge) IsPublisherConnected() bool {
	return (*b.Publisher).IsConnected()
}
