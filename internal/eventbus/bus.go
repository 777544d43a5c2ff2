// Package eventbus provides the synchronous in-process multicaster for
// order lifecycle events. Emission happens on the caller's goroutine so
// events for one order are observed in program order; listener failures
// and panics are isolated and never reach the emitter.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/audit"
)

// Bus implements audit.Bus with a dispatch table keyed by event type.
type Bus struct {
	mu        sync.RWMutex
	listeners map[audit.EventType][]audit.Listener
	all       []audit.Listener
	logger    *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		listeners: make(map[audit.EventType][]audit.Listener),
		logger:    logger,
	}
}

// Subscribe registers a listener for one event type. Registration is
// expected at startup; listeners cannot be removed.
func (b *Bus) Subscribe(t audit.EventType, l audit.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], l)
}

// SubscribeAll registers a listener for every event type.
func (b *Bus) SubscribeAll(l audit.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, l)
}

// Emit delivers the event synchronously to all matching listeners in
// registration order. A listener panic is recovered, logged and does not
// stop delivery to the remaining listeners.
func (b *Bus) Emit(ctx context.Context, e audit.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]audit.Listener, 0, len(b.all)+len(b.listeners[e.Type]))
	targets = append(targets, b.all...)
	targets = append(targets, b.listeners[e.Type]...)
	b.mu.RUnlock()

	for _, l := range targets {
		listener := l
		if r := panics.Try(func() { listener(ctx, e) }); r != nil {
			b.logger.Error("audit listener panicked",
				zap.String("event_type", string(e.Type)),
				zap.String("order_id", e.OrderID),
				zap.Error(r.AsError()),
			)
		}
	}
}
