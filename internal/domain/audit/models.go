package audit

import (
	"time"
)

// EventType tags a lifecycle event. The set is closed: listeners are
// dispatched off these tags and the audit trail stores them verbatim.
type EventType string

const (
	EventOrderCreated       EventType = "order:created"
	EventOrderStatusChanged EventType = "order:status-changed"
	EventOrderFailed        EventType = "order:failed"
	EventOrderConfirmed     EventType = "order:confirmed"

	EventExecutionStarted       EventType = "execution:started"
	EventExecutionQuotesFetched EventType = "execution:quotes-fetched"
	EventExecutionDexSelected   EventType = "execution:dex-selected"
	EventExecutionSwapSubmitted EventType = "execution:swap-submitted"
	EventExecutionSwapConfirmed EventType = "execution:swap-confirmed"
	EventExecutionFailed        EventType = "execution:failed"
	EventExecutionRetrying      EventType = "execution:retrying"

	EventQueueJobAdded EventType = "queue:job-added"
	EventSystemError   EventType = "system:error"
)

// Valid reports whether t belongs to the closed event set.
func (t EventType) Valid() bool {
	switch t {
	case EventOrderCreated, EventOrderStatusChanged, EventOrderFailed,
		EventOrderConfirmed, EventExecutionStarted, EventExecutionQuotesFetched,
		EventExecutionDexSelected, EventExecutionSwapSubmitted,
		EventExecutionSwapConfirmed, EventExecutionFailed,
		EventExecutionRetrying, EventQueueJobAdded, EventSystemError:
		return true
	}
	return false
}

// Event is an in-process lifecycle notification. Events are emitted
// synchronously on the goroutine that owns the order's job, so events
// for one order arrive in program order.
type Event struct {
	Type      EventType              `json:"type"`
	OrderID   string                 `json:"orderId"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Record is the persisted form of an event. Append-only; per order the
// sequence is strictly increasing in (timestamp, event_version) and
// idempotent by (order_id, event_version).
type Record struct {
	ID           string                 `json:"id"`
	OrderID      string                 `json:"orderId"`
	EventType    EventType              `json:"eventType"`
	EventData    map[string]interface{} `json:"eventData,omitempty"`
	EventVersion int64                  `json:"eventVersion"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
