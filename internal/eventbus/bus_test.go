package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/audit"
)

func TestBus_EmitDeliversInRegistrationOrder(t *testing.T) {
	bus := New(zap.NewNop())
	var got []string

	bus.Subscribe(audit.EventOrderCreated, func(_ context.Context, e audit.Event) {
		got = append(got, "first")
	})
	bus.Subscribe(audit.EventOrderCreated, func(_ context.Context, e audit.Event) {
		got = append(got, "second")
	})

	bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderCreated, OrderID: "o1"})

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBus_EmitOnlyMatchingType(t *testing.T) {
	bus := New(zap.NewNop())
	var created, failed int

	bus.Subscribe(audit.EventOrderCreated, func(_ context.Context, _ audit.Event) { created++ })
	bus.Subscribe(audit.EventOrderFailed, func(_ context.Context, _ audit.Event) { failed++ })

	bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderCreated})
	bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderCreated})

	assert.Equal(t, 2, created)
	assert.Equal(t, 0, failed)
}

func TestBus_SubscribeAllSeesEverything(t *testing.T) {
	bus := New(zap.NewNop())
	var seen []audit.EventType

	bus.SubscribeAll(func(_ context.Context, e audit.Event) {
		seen = append(seen, e.Type)
	})

	bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderCreated})
	bus.Emit(context.Background(), audit.Event{Type: audit.EventExecutionStarted})
	bus.Emit(context.Background(), audit.Event{Type: audit.EventQueueJobAdded})

	assert.Equal(t, []audit.EventType{
		audit.EventOrderCreated,
		audit.EventExecutionStarted,
		audit.EventQueueJobAdded,
	}, seen)
}

func TestBus_ListenerPanicIsIsolated(t *testing.T) {
	bus := New(zap.NewNop())
	var delivered bool

	bus.Subscribe(audit.EventOrderCreated, func(_ context.Context, _ audit.Event) {
		panic("listener exploded")
	})
	bus.Subscribe(audit.EventOrderCreated, func(_ context.Context, _ audit.Event) {
		delivered = true
	})

	require.NotPanics(t, func() {
		bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderCreated})
	})
	assert.True(t, delivered, "listener after the panicking one must still run")
}

func TestBus_EmitStampsTimestamp(t *testing.T) {
	bus := New(zap.NewNop())
	var got audit.Event

	bus.Subscribe(audit.EventSystemError, func(_ context.Context, e audit.Event) { got = e })
	bus.Emit(context.Background(), audit.Event{Type: audit.EventSystemError})

	assert.False(t, got.Timestamp.IsZero())
}

func TestBus_EmitWithNoListeners(t *testing.T) {
	bus := New(zap.NewNop())

	require.NotPanics(t, func() {
		bus.Emit(context.Background(), audit.Event{Type: audit.EventOrderConfirmed})
	})
}
