package connection

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"event-ingestor/src/logger"
	"event-ingestor/src/models"
	"event-ingestor/src/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fake transport
// -----------------------------------------------------------------------------

type fakeTransport struct {
	mu           sync.Mutex
	running      bool
	connectCalls int
	sent         [][]byte
	connectErr   error
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
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
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([][]byte, len(f.sent))
	copy(frames, f.sent)
	return frames
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type stateRecorder struct {
	mu          sync.Mutex
	transitions []State
}

func (sr *stateRecorder) record(prev, current State) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.transitions = append(sr.transitions, current)
}

func (sr *stateRecorder) last() State {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.transitions) == 0 {
		return StateDisconnected
	}
	return sr.transitions[len(sr.transitions)-1]
}

// -----------------------------------------------------------------------------

func newTestManager(t *testing.T, transport *fakeTransport) (*Manager, *stateRecorder) {
	t.Helper()

	recorder := &stateRecorder{}
	feed := &models.MFeedConfig{Name: "test-feed", Key: "abcdef123456"}
	m := NewManager(feed, transport, logger.NewNop(), recorder.record, nil)

	// keep reconnect delays short so tests do not sleep for real
	m.policy.InitialInterval = time.Millisecond
	m.policy.MaxInterval = 5 * time.Millisecond
	m.policy.Reset()

	t.Cleanup(func() { _ = m.Disconnect() })
	return m, recorder
}

// -----------------------------------------------------------------------------

func establishedEvent(socketID string, activityTimeout int) *models.MEvent {
	data, _ := json.Marshal(map[string]interface{}{
		"socket_id":        socketID,
		"activity_timeout": activityTimeout,
	})
	return &models.MEvent{Name: protocol.EventConnectionEstablished, Data: data}
}

// -----------------------------------------------------------------------------

func connectEstablished(t *testing.T, m *Manager, transport *fakeTransport) {
	t.Helper()

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return transport.connects() > 0 },
		time.Second, time.Millisecond)

	m.HandleReserved(establishedEvent("42.1337", 120))
	require.Equal(t, StateConnected, m.State())
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestConnectEstablishesSession(t *testing.T) {
	transport := &fakeTransport{}
	m, recorder := newTestManager(t, transport)

	connectEstablished(t, m, transport)

	assert.Equal(t, "42.1337", m.SocketID())
	assert.Equal(t, []State{StateConnecting, StateConnected}, recorder.transitions)
}

// -----------------------------------------------------------------------------

func TestConnectIsIdempotentWhileRunning(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	connectEstablished(t, m, transport)
	require.NoError(t, m.Connect())
	assert.Equal(t, StateConnected, m.State())
}

// -----------------------------------------------------------------------------

func TestSendEventRequiresConnection(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	err := m.SendEvent(&models.MEvent{Name: "client-note"})
	require.ErrorIs(t, err, ErrNotConnected)
}

// -----------------------------------------------------------------------------

func TestTransportLossTriggersReconnect(t *testing.T) {
	transport := &fakeTransport{}
	m, recorder := newTestManager(t, transport)

	connectEstablished(t, m, transport)
	m.HandleTransportClosed(assert.AnError)

	// session identity is gone immediately
	assert.Empty(t, m.SocketID())

	// backoff elapses and a new dial happens
	require.Eventually(t, func() bool { return transport.connects() >= 2 },
		time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return recorder.last() == StateConnecting },
		time.Second, time.Millisecond)

	// the new session completes like the first one
	m.HandleReserved(establishedEvent("42.1338", 120))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, "42.1338", m.SocketID())
}

// -----------------------------------------------------------------------------

func TestDialFailureRetriesWithBackoff(t *testing.T) {
	transport := &fakeTransport{connectErr: assert.AnError}
	m, _ := newTestManager(t, transport)

	require.NoError(t, m.Connect())

	// each failed dial schedules another attempt
	require.Eventually(t, func() bool { return transport.connects() >= 3 },
		time.Second, time.Millisecond)

	// once the transport recovers, the session can be established
	transport.mu.Lock()
	transport.connectErr = nil
	transport.mu.Unlock()

	require.Eventually(t, func() bool { return m.State() == StateConnecting && transport.IsRunning() },
		time.Second, time.Millisecond)
	m.HandleReserved(establishedEvent("7.7", 120))
	assert.Equal(t, StateConnected, m.State())
}

// -----------------------------------------------------------------------------

func TestDisconnectIsTerminal(t *testing.T) {
	transport := &fakeTransport{}
	m, recorder := newTestManager(t, transport)

	connectEstablished(t, m, transport)
	require.NoError(t, m.Disconnect())

	assert.Equal(t, StateClosed, m.State())
	assert.Equal(t, StateClosed, recorder.last())
	assert.False(t, transport.IsRunning())

	// a closed manager refuses to restart
	require.ErrorIs(t, m.Connect(), ErrClosed)

	// and a late transport failure does not resurrect it
	m.HandleTransportClosed(assert.AnError)
	assert.Equal(t, StateClosed, m.State())
}

// -----------------------------------------------------------------------------

func TestActivityTimeoutAdoptsServerHint(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return transport.connects() > 0 },
		time.Second, time.Millisecond)

	// server hint below the configured cap wins
	m.HandleReserved(establishedEvent("1.1", 30))

	m.mu.Lock()
	adopted := m.activityTimeout
	m.mu.Unlock()
	assert.Equal(t, 30*time.Second, adopted)
}

// -----------------------------------------------------------------------------

func TestActivityTimeoutHintIsCapped(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	require.NoError(t, m.Connect())
	require.Eventually(t, func() bool { return transport.connects() > 0 },
		time.Second, time.Millisecond)

	// a hint above the configured maximum is clamped to it
	m.HandleReserved(establishedEvent("1.1", 600))

	m.mu.Lock()
	adopted := m.activityTimeout
	m.mu.Unlock()
	assert.Equal(t, DefaultActivityTimeout, adopted)
}

// -----------------------------------------------------------------------------

func TestKeepaliveSendsPingAndPongResets(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	connectEstablished(t, m, transport)

	m.keepalive()

	frames := transport.sentFrames()
	require.NotEmpty(t, frames)
	assert.JSONEq(t, `{"event":"pusher:ping"}`, string(frames[len(frames)-1]))

	// pong arrives in time: connection stays up
	m.HandleReserved(&models.MEvent{Name: protocol.EventPong})
	assert.Equal(t, StateConnected, m.State())
}

// -----------------------------------------------------------------------------

func TestMissingPongKillsConnection(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	m.pongTimeout = 5 * time.Millisecond
	connectEstablished(t, m, transport)

	m.keepalive()

	// no pong: the connection is declared dead and reconnect starts
	require.Eventually(t, func() bool {
		state := m.State()
		return state == StateReconnecting || state == StateConnecting
	}, time.Second, time.Millisecond)
}

// -----------------------------------------------------------------------------

func TestHandshakeTimeout(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	m.pongTimeout = 5 * time.Millisecond
	require.NoError(t, m.Connect())

	// transport opens but the server never completes the session
	require.Eventually(t, func() bool { return transport.connects() >= 2 },
		time.Second, time.Millisecond)
}

// -----------------------------------------------------------------------------

func TestServerPingIsAnswered(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	connectEstablished(t, m, transport)
	m.HandleReserved(&models.MEvent{Name: protocol.EventPing})

	frames := transport.sentFrames()
	require.NotEmpty(t, frames)
	assert.JSONEq(t, `{"event":"pusher:pong"}`, string(frames[len(frames)-1]))
}

// -----------------------------------------------------------------------------

func TestUnrecoverableServerErrorClosesClient(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	var mu sync.Mutex
	var reported []error
	m.onError = func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}

	connectEstablished(t, m, transport)

	errEvent := &models.MEvent{
		Name: protocol.EventError,
		Data: json.RawMessage(`{"code":4001,"message":"application does not exist"}`),
	}
	m.HandleReserved(errEvent)

	assert.Equal(t, StateClosed, m.State())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reported)
	assert.Contains(t, reported[0].Error(), "4001")
}

// -----------------------------------------------------------------------------

func TestStateListenerMayReenterManager(t *testing.T) {
	transport := &fakeTransport{}
	recorder := &stateRecorder{}
	feed := &models.MFeedConfig{Name: "test-feed", Key: "abcdef123456"}

	// a listener that tears the client down from inside the notification
	var m *Manager
	onChange := func(prev, current State) {
		recorder.record(prev, current)
		if current == StateConnecting {
			assert.NoError(t, m.Disconnect())
		}
	}
	m = NewManager(feed, transport, logger.NewNop(), onChange, nil)

	done := make(chan error, 1)
	go func() { done <- m.Connect() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect blocked after the listener re-entered the manager")
	}

	assert.Equal(t, StateClosed, m.State())

	// both transitions were delivered, in order
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateClosed}, recorder.transitions)
}

// -----------------------------------------------------------------------------

func TestReconnectDelaysGrowTowardCap(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	// deterministic schedule, long enough that no retry fires mid-test
	m.policy.InitialInterval = time.Second
	m.policy.Multiplier = 2
	m.policy.MaxInterval = 4 * time.Second
	m.policy.RandomizationFactor = 0
	m.policy.Reset()

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		m.mu.Lock()
		m.state = StateConnecting
		m.mu.Unlock()

		m.connectionLost(assert.AnError)

		m.mu.Lock()
		delays = append(delays, m.lastReconnectDelay)
		m.mu.Unlock()
	}

	// doubling from the base until the cap, then flat
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second,
	}, delays)

	// a completed session resets the schedule
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()
	m.HandleReserved(establishedEvent("5.5", 120))
	require.Equal(t, StateConnected, m.State())

	m.connectionLost(assert.AnError)
	m.mu.Lock()
	resetDelay := m.lastReconnectDelay
	m.mu.Unlock()
	assert.Equal(t, time.Second, resetDelay)
}

// -----------------------------------------------------------------------------

func TestInformationalServerErrorKeepsConnection(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(t, transport)

	connectEstablished(t, m, transport)

	errEvent := &models.MEvent{
		Name: protocol.EventError,
		Data: json.RawMessage(`{"code":4301,"message":"rate limited"}`),
	}
	m.HandleReserved(errEvent)

	assert.Equal(t, StateConnected, m.State())
}
