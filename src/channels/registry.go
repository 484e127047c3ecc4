package channels

import (
	"encoding/json"
	"sort"
	"sync"

	"event-ingestor/src/connection"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/protocol"
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Registry tracks the desired subscription set and its confirmed state. A
// channel stays in the registry across reconnects until Unsubscribe is
// called; after every Connected transition the registry re-issues subscribe
// requests for everything it tracks.
type Registry struct {
	name   string
	logger *logger.Logger
	conn   *connection.Manager

	// onCallbackError receives recovered panics from user callbacks
	onCallbackError func(error)

	mu       sync.RWMutex
	channels map[string]*Channel
}

// -----------------------------------------------------------------------------

// NewRegistry creates a channel registry bound to one connection.
func NewRegistry(name string, conn *connection.Manager, logger *logger.Logger, onCallbackError func(error)) *Registry {
	return &Registry{
		name:            name,
		logger:          logger,
		conn:            conn,
		onCallbackError: onCallbackError,
		channels:        make(map[string]*Channel),
	}
}

// -----------------------------------------------------------------------------
// SUBSCRIPTION OPERATIONS
// -----------------------------------------------------------------------------

// Subscribe adds a channel to the desired set and returns its handle.
// Idempotent: an already tracked name returns the existing handle without a
// second protocol message. When the connection is not established the
// subscribe request is deferred to the next Connected transition.
func (r *Registry) Subscribe(channelName string) (*Channel, error) {
	if err := ValidateChannelName(channelName); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.channels[channelName]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	channel := newChannel(channelName, r.logger, r.onCallbackError)
	channel.setState(StateSubscribePending)
	r.channels[channelName] = channel
	r.mu.Unlock()

	r.logger.Info("%s : tracking channel '%s'", r.name, channelName)

	if r.conn.State() == connection.StateConnected {
		r.sendSubscribe(channel)
	}
	return channel, nil
}

// -----------------------------------------------------------------------------

// Unsubscribe removes a channel from the desired set. Unknown names are a
// no-op.
func (r *Registry) Unsubscribe(channelName string) {
	r.mu.Lock()
	channel, ok := r.channels[channelName]
	if ok {
		delete(r.channels, channelName)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	wasActive := channel.State() == StateSubscribed || channel.State() == StateSubscribePending
	channel.setState(StateUnsubscribed)
	r.logger.Info("%s : dropped channel '%s'", r.name, channelName)

	if wasActive && r.conn.State() == connection.StateConnected {
		if err := r.conn.SendEvent(protocol.UnsubscribeEvent(channelName)); err != nil {
			r.logger.Warning("%s : failed to send unsubscribe for '%s': %v", r.name, channelName, err)
		}
	}
}

// -----------------------------------------------------------------------------

// Get returns the tracked channel handle, or nil if the name is unknown.
func (r *Registry) Get(channelName string) *Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[channelName]
}

// -----------------------------------------------------------------------------
// CONNECTION NOTIFICATIONS
// -----------------------------------------------------------------------------

// OnConnected replays the desired set: every pending or previously
// subscribed channel gets a fresh subscribe request.
func (r *Registry) OnConnected() {
	for _, channel := range r.snapshot() {
		state := channel.State()
		if state == StateSubscribePending || state == StateSubscribed {
			channel.setState(StateSubscribePending)
			r.sendSubscribe(channel)
		}
	}
}

// -----------------------------------------------------------------------------

// OnDisconnected clears per-session state: subscribed and failed channels
// fall back to pending so every tracked channel is replayed on the next
// Connected transition. The desired set itself is preserved.
func (r *Registry) OnDisconnected() {
	for _, channel := range r.snapshot() {
		channel.clearSubscribeSent()
		state := channel.State()
		if state == StateSubscribed || state == StateSubscribeFailed {
			channel.setState(StateSubscribePending)
		}
	}
}

// -----------------------------------------------------------------------------
// SERVER CONFIRMATIONS (driven by the dispatcher)
// -----------------------------------------------------------------------------

// HandleSubscriptionSucceeded records the server confirmation for a channel
// and re-emits the event to any listener explicitly bound to it.
func (r *Registry) HandleSubscriptionSucceeded(event *models.MEvent) {
	channel := r.Get(event.Channel)
	if channel == nil {
		r.logger.Debug("%s : subscription confirmation for untracked channel '%s'", r.name, event.Channel)
		return
	}

	channel.setState(StateSubscribed)
	r.logger.Info("%s : subscribed to channel '%s'", r.name, event.Channel)
	channel.emit(event)
}

// -----------------------------------------------------------------------------

// subscriptionErrorPayload covers the field variants servers use in
// subscription_error events.
type subscriptionErrorPayload struct {
	Code    int    `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// -----------------------------------------------------------------------------

// HandleSubscriptionError marks the channel failed and notifies its error
// listeners. The connection itself is unaffected.
func (r *Registry) HandleSubscriptionError(event *models.MEvent) {
	channel := r.Get(event.Channel)
	if channel == nil {
		r.logger.Debug("%s : subscription error for untracked channel '%s'", r.name, event.Channel)
		return
	}

	var payload subscriptionErrorPayload
	if len(event.Data) > 0 {
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			payload.Message = string(event.Data)
		}
	}

	subErr := &models.MSubscriptionError{
		Channel: event.Channel,
		Code:    payload.Code,
		Reason:  payload.Message,
	}
	if subErr.Code == 0 {
		subErr.Code = payload.Status
	}
	if subErr.Reason == "" {
		subErr.Reason = payload.Error
	}

	channel.setState(StateSubscribeFailed)
	r.logger.Warning("%s : %v", r.name, subErr)
	channel.notifySubscriptionError(subErr)
}

// -----------------------------------------------------------------------------

// DispatchChannelEvent routes a decoded event to the channel's bindings.
// Events for untracked channels are silently dropped; that is normal.
func (r *Registry) DispatchChannelEvent(event *models.MEvent) {
	channel := r.Get(event.Channel)
	if channel == nil {
		r.logger.Debug("%s : dropping event '%s' for untracked channel '%s'", r.name, event.Name, event.Channel)
		return
	}
	channel.emit(event)
}

// -----------------------------------------------------------------------------
// STATUS
// -----------------------------------------------------------------------------

// Statuses reports the subscription state of every tracked channel, sorted
// by name.
func (r *Registry) Statuses() []models.MChannelStatus {
	channels := r.snapshot()
	statuses := make([]models.MChannelStatus, 0, len(channels))
	for _, channel := range channels {
		statuses = append(statuses, models.MChannelStatus{
			Name:  channel.Name(),
			State: channel.State().String(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// sendSubscribe issues the subscribe protocol message for one channel, at
// most once per session: a Subscribe call racing with the Connected replay
// must not put two requests on the wire. Failures are not fatal: the request
// is replayed on the next reconnect.
func (r *Registry) sendSubscribe(channel *Channel) {
	if !channel.tryMarkSubscribeSent() {
		return
	}
	if err := r.conn.SendEvent(protocol.SubscribeEvent(channel.Name())); err != nil {
		r.logger.Warning("%s : failed to send subscribe for '%s': %v (will retry after reconnect)",
			r.name, channel.Name(), err)
	}
}

// -----------------------------------------------------------------------------

// snapshot copies the channel set so callers can iterate without holding
// the registry lock.
func (r *Registry) snapshot() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		channels = append(channels, channel)
	}
	return channels
}
