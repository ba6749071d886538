package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/logger"
	"github.com/chronodo/chrono-sync/types"
)

func newTestBus(t *testing.T) types.EventBus {
	t.Helper()

	bus, err := NewChannelBus(context.Background(), logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, bus.Start())

	t.Cleanup(func() { bus.Stop() })
	return bus
}

type recorder struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recorder) handle(event *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestChannelBusExactDelivery(t *testing.T) {
	bus := newTestBus(t)

	var rec recorder
	_, err := bus.Subscribe(TodoChannel(types.EventCreated, "alice"), rec.handle)
	require.NoError(t, err)

	event := NewTodoEvent(types.EventCreated, &types.TodoRecord{ID: "t1", OwnerID: "alice"})
	require.NoError(t, bus.Publish(event.Channel, event))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "t1", rec.events[0].Todo.ID)

	// A different owner's channel stays quiet.
	other := NewTodoEvent(types.EventCreated, &types.TodoRecord{ID: "t2", OwnerID: "bob"})
	require.NoError(t, bus.Publish(other.Channel, other))
	assert.Equal(t, 1, rec.count())
}

func TestChannelBusPatternDelivery(t *testing.T) {
	bus := newTestBus(t)

	var rec recorder
	_, err := bus.SubscribePattern(TodoPattern("alice"), rec.handle)
	require.NoError(t, err)

	for _, kind := range []types.EventKind{types.EventCreated, types.EventUpdated, types.EventDeleted} {
		event := NewTodoEvent(kind, &types.TodoRecord{ID: "t1", OwnerID: "alice"})
		require.NoError(t, bus.Publish(event.Channel, event))
	}

	activity := NewActivityEvent("alice")
	require.NoError(t, bus.Publish(activity.Channel, activity))

	// Three todo events match todo:*:alice; the activity channel does not.
	assert.Equal(t, 3, rec.count())
}

func TestChannelBusUnsubscribe(t *testing.T) {
	bus := newTestBus(t)

	var rec recorder
	sub, err := bus.Subscribe("notifications:global", rec.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish("notifications:global", NewNotificationEvent("one")))
	require.NoError(t, bus.Unsubscribe(sub))
	require.NoError(t, bus.Publish("notifications:global", NewNotificationEvent("two")))

	assert.Equal(t, 1, rec.count())
}

func TestChannelBusHandlerFailureIsolation(t *testing.T) {
	bus := newTestBus(t)

	_, err := bus.Subscribe("notifications:global", func(event *types.Event) error {
		return types.NewErrorf("handler exploded")
	})
	require.NoError(t, err)

	_, err = bus.Subscribe("notifications:global", func(event *types.Event) error {
		panic("handler panicked")
	})
	require.NoError(t, err)

	var rec recorder
	_, err = bus.Subscribe("notifications:global", rec.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish("notifications:global", NewNotificationEvent("still delivered")))

	assert.Equal(t, 1, rec.count())
}

func TestChannelBusValidation(t *testing.T) {
	bus := newTestBus(t)

	_, err := bus.Subscribe("", func(event *types.Event) error { return nil })
	assert.ErrorIs(t, err, types.ErrBusChannelEmpty)

	_, err = bus.Subscribe("channel", nil)
	assert.ErrorIs(t, err, types.ErrBusHandlerIsNil)

	assert.ErrorIs(t, bus.Publish("", NewNotificationEvent("x")), types.ErrBusChannelEmpty)

	require.NoError(t, bus.Stop())
	assert.ErrorIs(t, bus.Publish("channel", NewNotificationEvent("x")), types.ErrBusNotRunning)
}
