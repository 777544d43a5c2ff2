// Package hub maps live order subscriptions to their transport
// connections. The execution pipeline pushes lifecycle updates through
// it without knowing anything about the underlying sockets; a dropped
// subscriber never blocks or fails a job.
package hub

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageType discriminates messages pushed to subscribers.
const (
	TypeStatus  = "status"
	TypeError   = "error"
	TypeSuccess = "success"
)

// Message is the wire envelope pushed to a subscriber.
type Message struct {
	Type      string      `json:"type"`
	OrderID   string      `json:"orderId,omitempty"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber is one live client connection. Implementations must be
// safe for concurrent Send calls and should fail fast (bounded write
// deadline) rather than block.
type Subscriber interface {
	Send(msg Message) error
	Close() error
}

// Hub is the process-wide subscriber registry keyed by order id. One
// subscriber may hold subscriptions for several orders.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	logger *zap.Logger
}

// New creates an empty hub.
func New(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]Subscriber),
		logger: logger,
	}
}

// Register binds the subscriber to the order, replacing any previous
// binding for that order.
func (h *Hub) Register(orderID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[orderID] = s
}

// Unregister drops the order's subscription if present.
func (h *Hub) Unregister(orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, orderID)
}

// RemoveSubscriber drops every subscription held by s. Called by the
// transport layer when a connection closes.
func (h *Hub) RemoveSubscriber(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub == s {
			delete(h.subs, id)
		}
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PushOrderUpdate delivers a status message to the order's subscriber,
// if any. Delivery failures evict the subscriber entirely; they are
// logged and never propagate to the caller.
func (h *Hub) PushOrderUpdate(orderID, status string, data interface{}) {
	h.mu.RLock()
	sub, ok := h.subs[orderID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg := Message{
		Type:      TypeStatus,
		OrderID:   orderID,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	if err := sub.Send(msg); err != nil {
		h.logger.Warn("subscriber delivery failed, evicting",
			zap.String("order_id", orderID),
			zap.String("status", status),
			zap.Error(err),
		)
		h.RemoveSubscriber(sub)
	}
}
