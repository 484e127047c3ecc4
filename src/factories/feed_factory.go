package factories

import (
	"fmt"

	"event-ingestor/src/channels"
	"event-ingestor/src/client"
	"event-ingestor/src/config"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"
)

// -----------------------------------------------------------------------------

// FeedFactory creates feed clients based on configuration
type FeedFactory struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	// The final callback function for distributing received events
	OnEventCallback func(feed string, event *models.MEvent)
}

// -----------------------------------------------------------------------------

// NewFeedFactory creates a new FeedFactory instance
func NewFeedFactory(config *config.Config, logger *logger.Logger, onEvent func(feed string, event *models.MEvent)) *FeedFactory {
	return &FeedFactory{
		Name:            "FeedFactory",
		Config:          config,
		Logger:          logger,
		OnEventCallback: onEvent,
	}
}

// -----------------------------------------------------------------------------

// CreateFeed creates a feed client by name and wires the configured channel
// subscriptions and event bindings to the distribution callback.
func (ff *FeedFactory) CreateFeed(feedName string) (*client.Client, error) {
	feedConfig := ff.Config.GetFeedByName(feedName)
	if feedConfig == nil {
		return nil, fmt.Errorf("feed %s not found in config", feedName)
	}

	feedClient, err := client.NewClient(feedConfig, ff.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed client %s: %w", feedName, err)
	}

	// Register the configured subscriptions up front. Subscription requests
	// are queued until the connection is established, so the order of
	// Subscribe vs Connect does not matter.
	for _, channelConfig := range feedConfig.Channels {
		ch, err := feedClient.Subscribe(channelConfig.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to register channel %s on feed %s: %w", channelConfig.Name, feedName, err)
		}

		if err := ff.bindChannel(feedName, ch, channelConfig.Events); err != nil {
			return nil, err
		}
	}

	ff.Logger.Info("%s : successfully created feed client %s with %d channels",
		ff.Name,
		feedName,
		len(feedConfig.Channels),
	)

	return feedClient, nil
}

// -----------------------------------------------------------------------------

// bindChannel forwards the configured events of a channel to the distribution
// callback. An empty event list means every non-protocol event is forwarded.
func (ff *FeedFactory) bindChannel(feedName string, ch *channels.Channel, events []string) error {
	forward := func(event *models.MEvent) {
		if ff.OnEventCallback != nil {
			ff.OnEventCallback(feedName, event)
		}
	}

	if len(events) == 0 {
		if _, err := ch.BindAll(forward); err != nil {
			return fmt.Errorf("failed to bind global callback on channel %s: %w", ch.Name(), err)
		}
		return nil
	}

	for _, eventName := range events {
		if _, err := ch.Bind(eventName, forward); err != nil {
			return fmt.Errorf("failed to bind event %s on channel %s: %w", eventName, ch.Name(), err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// CreateAllFeeds creates all feed clients from configuration
func (ff *FeedFactory) CreateAllFeeds() (map[string]*client.Client, error) {
	feeds := make(map[string]*client.Client)

	for _, feedConfig := range ff.Config.Feeds {
		feedClient, err := ff.CreateFeed(feedConfig.Name)
		if err != nil {
			ff.Logger.Error("%s : failed to create feed %s: %v", ff.Name, feedConfig.Name, err)
			continue
		}
		feeds[feedConfig.Name] = feedClient
	}

	if len(feeds) == 0 {
		return nil, fmt.Errorf("no valid feeds were initialized from configuration")
	}

	return feeds, nil
}
