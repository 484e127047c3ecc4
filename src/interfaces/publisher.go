package interfaces

import "event-ingestor/src/models"

// -----------------------------------------------------------------------------

// IPublisher defines the interface for publishing received events downstream
type IPublisher interface {
	// OnEvent processes and publishes a single received event
	OnEvent(feed string, event *models.MEvent)

	// Connect establishes connection to the message broker
	Connect() error

	// Disconnect closes the connection to the message broker
	Disconnect() error

	// IsConnected returns the current connection status
	IsConnected() bool
}
