package dispatcher

import (
	"errors"

	"event-ingestor/src/channels"
	"event-ingestor/src/connection"
	"event-ingestor/src/logger"
	"event-ingestor/src/protocol"
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Dispatcher turns raw inbound frames into routed events. Connection-level
// protocol events go to the connection manager, subscription confirmations
// and rejections to the registry, and everything else to the channel
// bindings. It runs on the transport's single processing goroutine, so
// frames are dispatched strictly in arrival order and all callbacks for one
// frame complete before the next frame is routed.
type Dispatcher struct {
	name     string
	logger   *logger.Logger
	conn     *connection.Manager
	registry *channels.Registry
}

// -----------------------------------------------------------------------------

// New creates a dispatcher wiring the connection manager and the registry.
func New(name string, conn *connection.Manager, registry *channels.Registry, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		name:     name,
		logger:   logger,
		conn:     conn,
		registry: registry,
	}
}

// -----------------------------------------------------------------------------

// Dispatch decodes and routes one inbound frame. Malformed frames are
// logged and dropped; they are never fatal to the connection.
func (d *Dispatcher) Dispatch(raw []byte) {
	event, err := protocol.Decode(raw)
	if err != nil {
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) {
			d.logger.Warning("%s : dropping malformed frame: %v", d.name, err)
		} else {
			d.logger.Warning("%s : dropping undecodable frame: %v", d.name, err)
		}
		return
	}

	// any inbound frame counts as activity for the keepalive
	d.conn.Touch()

	switch event.Name {
	case protocol.EventConnectionEstablished,
		protocol.EventPing,
		protocol.EventPong,
		protocol.EventError:
		d.conn.HandleReserved(event)

	case protocol.EventSubscriptionSucceeded:
		d.registry.HandleSubscriptionSucceeded(event)

	case protocol.EventSubscriptionError:
		d.registry.HandleSubscriptionError(event)

	default:
		if event.Channel == "" {
			d.logger.Debug("%s : dropping connection-level event '%s' with no handler", d.name, event.Name)
			return
		}
		d.registry.DispatchChannelEvent(event)
	}
}
