package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"event-ingestor/src/interfaces"
	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/protocol"

	"github.com/cenkalti/backoff/v4"
)

// -----------------------------------------------------------------------------

const (
	// DefaultActivityTimeout is the keepalive interval used until the server
	// sends its own hint in the handshake.
	DefaultActivityTimeout = 120 * time.Second

	// DefaultPongTimeout is how long to wait for a pong before declaring the
	// connection dead.
	DefaultPongTimeout = 30 * time.Second

	// Reconnect backoff bounds
	reconnectBaseInterval = 1 * time.Second
	reconnectMaxInterval  = 10 * time.Second
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Manager owns the transport lifecycle: it runs the reconnect-with-backoff
// state machine, the ping/pong keepalive, and the handshake handling. It is
// the sole owner of transport write access; all outbound sends go through
// SendEvent, which serializes them.
type Manager struct {
	name      string
	logger    *logger.Logger
	transport interfaces.IConnectionClient

	// onStateChange fires after every transition with (previous, current).
	// onError receives transport failures and protocol errors; they are
	// informational, recovery is handled internally.
	onStateChange func(prev, current State)
	onError       func(error)

	// writeMu serializes writes to the transport. Application goroutines
	// (subscribe/unsubscribe) and the keepalive path send concurrently.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	socketID string

	activityTimeout    time.Duration // current keepalive interval
	maxActivityTimeout time.Duration // configured cap for the server hint
	pongTimeout        time.Duration

	activityTimer  *time.Timer
	pongTimer      *time.Timer
	handshakeTimer *time.Timer
	reconnectTimer *time.Timer

	policy *backoff.ExponentialBackOff

	// lastReconnectDelay is the delay of the most recently scheduled retry
	lastReconnectDelay time.Duration

	// cbMu guards the notification queue only. Callbacks themselves run with
	// no manager lock held, so a listener may re-enter the manager
	// (Disconnect, Connect) from inside the callback.
	cbMu       sync.Mutex
	pendingCbs []stateTransition
	notifying  bool
}

// -----------------------------------------------------------------------------

// stateTransition is one queued state-change notification.
type stateTransition struct {
	prev    State
	current State
}

// -----------------------------------------------------------------------------
// CONSTRUCTOR
// -----------------------------------------------------------------------------

// NewManager creates a connection manager for one feed.
func NewManager(feed *models.MFeedConfig, transport interfaces.IConnectionClient, logger *logger.Logger,
	onStateChange func(prev, current State), onError func(error)) *Manager {

	activityTimeout := feed.ActivityTimeout
	if activityTimeout <= 0 {
		activityTimeout = DefaultActivityTimeout
	}
	pongTimeout := feed.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectBaseInterval
	policy.MaxInterval = reconnectMaxInterval
	policy.MaxElapsedTime = 0 // retry forever; only Disconnect stops the client
	policy.Reset()            // the constructor seeded the interval before the overrides

	return &Manager{
		name:               feed.Name,
		logger:             logger,
		transport:          transport,
		onStateChange:      onStateChange,
		onError:            onError,
		state:              StateDisconnected,
		activityTimeout:    activityTimeout,
		maxActivityTimeout: activityTimeout,
		pongTimeout:        pongTimeout,
		policy:             policy,
	}
}

// -----------------------------------------------------------------------------
// PUBLIC LIFECYCLE
// -----------------------------------------------------------------------------

// Connect starts the connection attempt. It returns immediately; the state
// machine reports progress through the state-change callback.
func (m *Manager) Connect() error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateDisconnected:
		// proceed
	default:
		m.mu.Unlock()
		return nil
	}
	prev := m.transitionLocked(StateConnecting)
	m.mu.Unlock()

	m.notifyStateChange(prev, StateConnecting)
	go m.dial()
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the transport and cancels all timers. Terminal: the
// manager cannot be reused afterwards.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.stopTimersLocked()
	m.socketID = ""
	prev := m.transitionLocked(StateClosed)
	m.mu.Unlock()

	err := m.transport.Disconnect()
	m.notifyStateChange(prev, StateClosed)
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// ACCESSORS
// -----------------------------------------------------------------------------

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// -----------------------------------------------------------------------------

// SocketID returns the server-assigned session identifier.
// Empty unless the state is Connected.
func (m *Manager) SocketID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketID
}

// -----------------------------------------------------------------------------
// OUTBOUND IO
// -----------------------------------------------------------------------------

// SendEvent encodes and sends one event. Returns ErrNotConnected while the
// session is not established.
func (m *Manager) SendEvent(event *models.MEvent) error {
	if m.State() != StateConnected {
		return fmt.Errorf("cannot send event '%s': %w", event.Name, ErrNotConnected)
	}

	frame, err := protocol.Encode(event)
	if err != nil {
		return fmt.Errorf("cannot send event '%s': %w", event.Name, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.transport.SendMessage(frame); err != nil {
		return fmt.Errorf("cannot send event '%s': %w", event.Name, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// INBOUND PROTOCOL EVENTS
// -----------------------------------------------------------------------------

// Touch records inbound activity, pushing the keepalive deadline back.
// Called by the dispatcher for every received frame.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnected && m.activityTimer != nil {
		m.activityTimer.Reset(m.activityTimeout)
	}
}

// -----------------------------------------------------------------------------

// HandleReserved processes connection-level protocol events routed here by
// the dispatcher.
func (m *Manager) HandleReserved(event *models.MEvent) {
	switch event.Name {
	case protocol.EventConnectionEstablished:
		m.handleConnectionEstablished(event)
	case protocol.EventPing:
		// the server may probe us; answer directly
		m.logger.Debug("%s : received server ping", m.name)
		if err := m.SendEvent(protocol.PongEvent()); err != nil {
			m.logger.Warning("%s : failed to answer server ping: %v", m.name, err)
		}
	case protocol.EventPong:
		m.handlePong()
	case protocol.EventError:
		m.handleProtocolError(event)
	default:
		m.logger.Warning("%s : unrecognized connection event '%s'", m.name, event.Name)
	}
}

// -----------------------------------------------------------------------------

// HandleTransportClosed is invoked by the transport when the connection
// breaks without an explicit Disconnect.
func (m *Manager) HandleTransportClosed(err error) {
	m.connectionLost(err)
}

// -----------------------------------------------------------------------------
// PRIVATE: DIAL AND RECONNECT
// -----------------------------------------------------------------------------

// dial opens the transport. On success the state stays Connecting until the
// server's connection_established event arrives; a handshake timer guards
// against a server that accepts the socket but never completes the session.
func (m *Manager) dial() {
	if m.State() != StateConnecting {
		return
	}

	if err := m.transport.Connect(context.Background()); err != nil {
		m.connectionLost(err)
		return
	}

	m.mu.Lock()
	if m.state == StateConnecting {
		m.handshakeTimer = time.AfterFunc(m.pongTimeout, m.handshakeTimedOut)
	}
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

// connectionLost moves to Reconnecting and schedules the next attempt with
// backoff. No-op when already Closed or Reconnecting.
func (m *Manager) connectionLost(cause error) {
	m.mu.Lock()
	if m.state == StateClosed || m.state == StateReconnecting || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()
	m.socketID = ""
	prev := m.transitionLocked(StateReconnecting)

	delay := m.policy.NextBackOff()
	m.lastReconnectDelay = delay
	m.reconnectTimer = time.AfterFunc(delay, m.retry)
	m.mu.Unlock()

	m.logger.Warning("%s : connection lost (%v), reconnecting in %s", m.name, cause, delay)
	m.notifyError(fmt.Errorf("transport failure: %w", cause))
	m.notifyStateChange(prev, StateReconnecting)
}

// -----------------------------------------------------------------------------

// retry fires when the backoff timer elapses.
func (m *Manager) retry() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	prev := m.transitionLocked(StateConnecting)
	m.mu.Unlock()

	m.notifyStateChange(prev, StateConnecting)
	m.dial()
}

// -----------------------------------------------------------------------------
// PRIVATE: PROTOCOL HANDLERS
// -----------------------------------------------------------------------------

// handleConnectionEstablished completes the session: records the socket id,
// adopts the server's activity-timeout hint and arms the keepalive.
func (m *Manager) handleConnectionEstablished(event *models.MEvent) {
	handshake, err := protocol.ParseHandshake(event.Data)
	if err != nil {
		m.logger.Error("%s : bad handshake payload: %v", m.name, err)
		m.notifyError(err)
		return
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if m.handshakeTimer != nil {
		m.handshakeTimer.Stop()
		m.handshakeTimer = nil
	}

	m.socketID = handshake.SocketID
	if handshake.ActivityTimeout > 0 {
		hint := time.Duration(handshake.ActivityTimeout) * time.Second
		if hint < m.maxActivityTimeout {
			m.activityTimeout = hint
		} else {
			m.activityTimeout = m.maxActivityTimeout
		}
	}

	m.policy.Reset()
	m.startActivityTimerLocked()
	keepaliveInterval := m.activityTimeout
	prev := m.transitionLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("%s : connection established, socket id %s (keepalive %s)",
		m.name, handshake.SocketID, keepaliveInterval)
	m.notifyStateChange(prev, StateConnected)
}

// -----------------------------------------------------------------------------

// handlePong cancels the pending pong deadline and resumes the keepalive.
func (m *Manager) handlePong() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pongTimer != nil {
		m.pongTimer.Stop()
		m.pongTimer = nil
	}
	if m.state == StateConnected {
		m.startActivityTimerLocked()
	}
}

// -----------------------------------------------------------------------------

// handleProtocolError reacts to a server error event. Codes below 4100 mean
// reconnecting with the same parameters cannot succeed, so the manager gives
// up; everything else is informational, the server closes the connection
// itself and the normal reconnect path takes over.
func (m *Manager) handleProtocolError(event *models.MEvent) {
	errData := protocol.ParseError(event.Data)

	description := protocol.ErrorCodeText(errData.Code)
	if description == "" {
		description = errData.Message
	}
	m.logger.Warning("%s : server error %d: %s", m.name, errData.Code, description)
	m.notifyError(fmt.Errorf("server error %d: %s", errData.Code, description))

	switch protocol.ClassifyErrorCode(errData.Code) {
	case protocol.ActionClose:
		m.logger.Error("%s : cannot connect with the current parameters, giving up", m.name)
		if err := m.Disconnect(); err != nil {
			m.logger.Error("%s : error during forced disconnect: %v", m.name, err)
		}
	case protocol.ActionReconnectImmediately:
		// the server is about to close the connection; skip the backoff
		m.mu.Lock()
		m.policy.Reset()
		m.mu.Unlock()
	}
}

// -----------------------------------------------------------------------------
// PRIVATE: KEEPALIVE
// -----------------------------------------------------------------------------

// keepalive fires when no inbound activity was seen for a full interval:
// send a ping and arm the pong deadline.
func (m *Manager) keepalive() {
	if m.State() != StateConnected {
		return
	}

	m.logger.Debug("%s : inactivity deadline reached, sending ping", m.name)
	if err := m.SendEvent(protocol.PingEvent()); err != nil {
		m.logger.Warning("%s : failed to send keepalive ping: %v", m.name, err)
	}

	m.mu.Lock()
	if m.state == StateConnected {
		m.pongTimer = time.AfterFunc(m.pongTimeout, m.pongTimedOut)
	}
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

// pongTimedOut treats a missed pong as connection death.
func (m *Manager) pongTimedOut() {
	if m.State() != StateConnected {
		return
	}
	m.logger.Warning("%s : %v", m.name, ErrPongTimeout)
	m.transport.Disconnect()
	m.connectionLost(ErrPongTimeout)
}

// -----------------------------------------------------------------------------

// handshakeTimedOut fires when the transport opened but the server never
// finished the session handshake.
func (m *Manager) handshakeTimedOut() {
	if m.State() != StateConnecting {
		return
	}
	m.logger.Warning("%s : %v", m.name, ErrHandshakeTimeout)
	m.transport.Disconnect()
	m.connectionLost(ErrHandshakeTimeout)
}

// -----------------------------------------------------------------------------
// PRIVATE: HELPERS
// -----------------------------------------------------------------------------

// transitionLocked switches state and returns the previous one. Caller holds mu.
func (m *Manager) transitionLocked(next State) State {
	prev := m.state
	m.state = next
	return prev
}

// -----------------------------------------------------------------------------

// startActivityTimerLocked (re)arms the keepalive timer. Caller holds mu.
func (m *Manager) startActivityTimerLocked() {
	if m.activityTimer != nil {
		m.activityTimer.Stop()
	}
	m.activityTimer = time.AfterFunc(m.activityTimeout, m.keepalive)
}

// -----------------------------------------------------------------------------

// stopTimersLocked cancels every pending timer. Caller holds mu.
func (m *Manager) stopTimersLocked() {
	for _, timer := range []*time.Timer{m.activityTimer, m.pongTimer, m.handshakeTimer, m.reconnectTimer} {
		if timer != nil {
			timer.Stop()
		}
	}
	m.activityTimer = nil
	m.pongTimer = nil
	m.handshakeTimer = nil
	m.reconnectTimer = nil
}

// -----------------------------------------------------------------------------

// notifyStateChange delivers a transition to the registered callback.
// Notifications are queued and drained by whichever goroutine queued first,
// which keeps them in transition order without holding any lock while the
// callback runs; a listener triggering a new transition (Disconnect from
// inside the callback) just enqueues it and returns.
func (m *Manager) notifyStateChange(prev, current State) {
	if prev == current {
		return
	}
	m.logger.Info("%s : connection state: %s -> %s", m.name, prev, current)
	if m.onStateChange == nil {
		return
	}

	m.cbMu.Lock()
	m.pendingCbs = append(m.pendingCbs, stateTransition{prev: prev, current: current})
	if m.notifying {
		m.cbMu.Unlock()
		return
	}
	m.notifying = true
	m.cbMu.Unlock()

	for {
		m.cbMu.Lock()
		if len(m.pendingCbs) == 0 {
			m.notifying = false
			m.cbMu.Unlock()
			return
		}
		next := m.pendingCbs[0]
		m.pendingCbs = m.pendingCbs[1:]
		m.cbMu.Unlock()

		m.onStateChange(next.prev, next.current)
	}
}

// -----------------------------------------------------------------------------

// notifyError reports a non-fatal failure to the registered hook.
func (m *Manager) notifyError(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}
