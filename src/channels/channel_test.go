package channels

import (
	"encoding/json"
	"sync"
	"testing"

	"event-ingestor/src/logger"
	"event-ingestor/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func testEvent(channel, name string) *models.MEvent {
	return &models.MEvent{
		Name:    name,
		Channel: channel,
		Data:    json.RawMessage(`{"id":1}`),
	}
}

// -----------------------------------------------------------------------------

func TestBindReceivesMatchingEvents(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	var received []*models.MEvent
	_, err := ch.Bind("new-order", func(event *models.MEvent) {
		received = append(received, event)
	})
	require.NoError(t, err)

	ch.emit(testEvent("orders", "new-order"))
	ch.emit(testEvent("orders", "other-event"))

	require.Len(t, received, 1)
	assert.Equal(t, "new-order", received[0].Name)
}

// -----------------------------------------------------------------------------

func TestMultipleBindingsAllInvokedOnce(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	first, second := 0, 0
	_, err := ch.Bind("new-order", func(*models.MEvent) { first++ })
	require.NoError(t, err)
	_, err = ch.Bind("new-order", func(*models.MEvent) { second++ })
	require.NoError(t, err)

	ch.emit(testEvent("orders", "new-order"))

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

// -----------------------------------------------------------------------------

func TestBindAllSkipsProtocolEvents(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	var names []string
	_, err := ch.BindAll(func(event *models.MEvent) {
		names = append(names, event.Name)
	})
	require.NoError(t, err)

	ch.emit(testEvent("orders", "new-order"))
	ch.emit(testEvent("orders", "pusher_internal:subscription_succeeded"))

	assert.Equal(t, []string{"new-order"}, names)
}

// -----------------------------------------------------------------------------

func TestUnbindStopsDelivery(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	calls := 0
	binding, err := ch.Bind("new-order", func(*models.MEvent) { calls++ })
	require.NoError(t, err)

	ch.emit(testEvent("orders", "new-order"))
	ch.Unbind(binding)
	ch.emit(testEvent("orders", "new-order"))

	assert.Equal(t, 1, calls)

	// unbinding twice is a no-op
	ch.Unbind(binding)
	ch.Unbind(nil)
}

// -----------------------------------------------------------------------------

func TestUnbindFromWithinCallback(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	calls := 0
	var binding *Binding
	binding, _ = ch.Bind("new-order", func(*models.MEvent) {
		calls++
		ch.Unbind(binding)
	})

	ch.emit(testEvent("orders", "new-order"))
	ch.emit(testEvent("orders", "new-order"))

	assert.Equal(t, 1, calls)
}

// -----------------------------------------------------------------------------

func TestCallbackPanicIsIsolated(t *testing.T) {
	var mu sync.Mutex
	var recovered []error

	ch := newChannel("orders", logger.NewNop(), func(err error) {
		mu.Lock()
		recovered = append(recovered, err)
		mu.Unlock()
	})

	_, err := ch.Bind("new-order", func(*models.MEvent) { panic("boom") })
	require.NoError(t, err)

	survivorCalls := 0
	_, err = ch.Bind("new-order", func(*models.MEvent) { survivorCalls++ })
	require.NoError(t, err)

	ch.emit(testEvent("orders", "new-order"))

	// the panicking binding does not stop the other one
	assert.Equal(t, 1, survivorCalls)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recovered, 1)
	assert.Contains(t, recovered[0].Error(), "boom")
}

// -----------------------------------------------------------------------------

func TestBindRejectsNilCallback(t *testing.T) {
	ch := newChannel("orders", logger.NewNop(), nil)

	_, err := ch.Bind("new-order", nil)
	require.Error(t, err)

	_, err = ch.BindAll(nil)
	require.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestValidateChannelName(t *testing.T) {
	assert.NoError(t, ValidateChannelName("orders"))
	assert.NoError(t, ValidateChannelName("orders-v2_test@1,x.y;z=a"))

	assert.Error(t, ValidateChannelName(""))
	assert.Error(t, ValidateChannelName("orders with spaces"))
	assert.Error(t, ValidateChannelName("orders#1"))

	// authenticated channel types are not supported
	assert.ErrorIs(t, ValidateChannelName("private-orders"), ErrUnsupportedChannelType)
	assert.ErrorIs(t, ValidateChannelName("presence-lobby"), ErrUnsupportedChannelType)
}
