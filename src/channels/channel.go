package channels

import (
	"fmt"
	"sync"

	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/protocol"
)

// -----------------------------------------------------------------------------

// State is the subscription state of a channel.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribePending
	StateSubscribed
	StateSubscribeFailed
)

// -----------------------------------------------------------------------------

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribePending:
		return "subscribe_pending"
	case StateSubscribed:
		return "subscribed"
	case StateSubscribeFailed:
		return "subscribe_failed"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------

// EventCallback receives events delivered on a channel.
type EventCallback func(event *models.MEvent)

// -----------------------------------------------------------------------------

// Binding is one registered (event, callback) association. The value
// returned by Bind identifies the registration for Unbind.
type Binding struct {
	id       uint64
	event    string
	global   bool
	callback EventCallback
}

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Channel is the handle applications hold for one subscribed channel. It is
// owned by the Registry and remains valid across reconnects until
// explicitly unsubscribed.
type Channel struct {
	name    string
	logger  *logger.Logger
	onPanic func(error)

	mu             sync.RWMutex
	state          State
	subscribeSent  bool
	nextBindingID  uint64
	bindings       map[string][]*Binding
	globalBindings []*Binding
	errorListeners []func(*models.MSubscriptionError)
}

// -----------------------------------------------------------------------------

// newChannel creates a channel handle. Only the Registry does this.
func newChannel(name string, logger *logger.Logger, onPanic func(error)) *Channel {
	return &Channel{
		name:     name,
		logger:   logger,
		onPanic:  onPanic,
		state:    StateUnsubscribed,
		bindings: make(map[string][]*Binding),
	}
}

// -----------------------------------------------------------------------------
// ACCESSORS
// -----------------------------------------------------------------------------

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// -----------------------------------------------------------------------------

// State returns the current subscription state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// -----------------------------------------------------------------------------

// IsSubscribed reports whether the server has confirmed the subscription.
func (c *Channel) IsSubscribed() bool {
	return c.State() == StateSubscribed
}

// -----------------------------------------------------------------------------
// BINDINGS
// -----------------------------------------------------------------------------

// Bind registers a callback for a named event on this channel. Multiple
// bindings may exist for the same event; all are invoked for a matching
// message. There is no ordering guarantee relative to in-flight dispatch.
func (c *Channel) Bind(event string, callback EventCallback) (*Binding, error) {
	if callback == nil {
		return nil, fmt.Errorf("callback for event '%s' on channel '%s' cannot be nil", event, c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextBindingID++
	binding := &Binding{id: c.nextBindingID, event: event, callback: callback}
	c.bindings[event] = append(c.bindings[event], binding)
	return binding, nil
}

// -----------------------------------------------------------------------------

// BindAll registers a callback for every non-protocol event delivered on
// this channel.
func (c *Channel) BindAll(callback EventCallback) (*Binding, error) {
	if callback == nil {
		return nil, fmt.Errorf("global callback on channel '%s' cannot be nil", c.name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextBindingID++
	binding := &Binding{id: c.nextBindingID, global: true, callback: callback}
	c.globalBindings = append(c.globalBindings, binding)
	return binding, nil
}

// -----------------------------------------------------------------------------

// Unbind removes a single registration. Safe to call with an already
// removed binding (no-op).
func (c *Channel) Unbind(binding *Binding) {
	if binding == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if binding.global {
		c.globalBindings = removeBinding(c.globalBindings, binding.id)
		return
	}
	c.bindings[binding.event] = removeBinding(c.bindings[binding.event], binding.id)
	if len(c.bindings[binding.event]) == 0 {
		delete(c.bindings, binding.event)
	}
}

// -----------------------------------------------------------------------------

// UnbindAll removes every binding for an event name.
func (c *Channel) UnbindAll(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, event)
}

// -----------------------------------------------------------------------------

// BindError registers a listener for subscription failures on this channel.
// A rejected subscribe does not affect other channels or the connection.
func (c *Channel) BindError(listener func(*models.MSubscriptionError)) {
	if listener == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorListeners = append(c.errorListeners, listener)
}

// -----------------------------------------------------------------------------
// INTERNAL (driven by the Registry)
// -----------------------------------------------------------------------------

// setState updates the subscription state.
func (c *Channel) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// -----------------------------------------------------------------------------

// tryMarkSubscribeSent records that a subscribe request went out for the
// current session. Returns false when one is already outstanding, so the
// Subscribe path and the Connected replay cannot both send for one channel.
func (c *Channel) tryMarkSubscribeSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeSent {
		return false
	}
	c.subscribeSent = true
	return true
}

// -----------------------------------------------------------------------------

// clearSubscribeSent resets the per-session subscribe marker when the
// session ends.
func (c *Channel) clearSubscribeSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeSent = false
}

// -----------------------------------------------------------------------------

// emit delivers one event to all matching bindings. The binding list is
// snapshotted first so no channel lock is held while user code runs; a
// callback may safely re-enter the client (bind, unbind, unsubscribe).
func (c *Channel) emit(event *models.MEvent) {
	c.mu.RLock()
	matching := make([]*Binding, 0, len(c.globalBindings)+len(c.bindings[event.Name]))
	if !protocol.IsReserved(event.Name) {
		matching = append(matching, c.globalBindings...)
	}
	matching = append(matching, c.bindings[event.Name]...)
	c.mu.RUnlock()

	for _, binding := range matching {
		c.invoke(binding, event)
	}
}

// -----------------------------------------------------------------------------

// invoke runs one callback, isolating panics so a broken listener cannot
// abort dispatch of the remaining bindings.
func (c *Channel) invoke(binding *Binding, event *models.MEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("callback panic on channel '%s' event '%s': %v", c.name, event.Name, rec)
			c.logger.Error("%s : %v", c.name, err)
			if c.onPanic != nil {
				c.onPanic(err)
			}
		}
	}()
	binding.callback(event)
}

// -----------------------------------------------------------------------------

// notifySubscriptionError delivers a server rejection to the error listeners.
func (c *Channel) notifySubscriptionError(subErr *models.MSubscriptionError) {
	c.mu.RLock()
	listeners := make([]func(*models.MSubscriptionError), len(c.errorListeners))
	copy(listeners, c.errorListeners)
	c.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					c.logger.Error("%s : error listener panic: %v", c.name, rec)
				}
			}()
			listener(subErr)
		}()
	}
}

// -----------------------------------------------------------------------------

// removeBinding filters one binding id out of a slice.
func removeBinding(bindings []*Binding, id uint64) []*Binding {
	for i, b := range bindings {
		if b.id == id {
			return append(bindings[:i:i], bindings[i+1:]...)
		}
	}
	return bindings
}
