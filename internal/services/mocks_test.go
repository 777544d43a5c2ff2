package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novadex/swap-engine/internal/domain/audit"
	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/hub"
)

// memOrderRepo is an in-memory order.Repository with the same guard
// semantics as the Postgres implementation: transitions out of terminal
// states are rejected, retries are budgeted, progress states collapse to
// their persisted value.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	seq    []string // insertion order, oldest first
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*order.Order)}
}

// put stores the order directly, bypassing Create's bookkeeping.
func (r *memOrderRepo) put(o *order.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; !exists {
		r.seq = append(r.seq, o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	if o.ExecutedPrice != nil {
		p := *o.ExecutedPrice
		c.ExecutedPrice = &p
	}
	if o.ConfirmedAt != nil {
		ts := *o.ConfirmedAt
		c.ConfirmedAt = &ts
	}
	return &c
}

func (r *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	r.put(o)
	return nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Update(_ context.Context, id string, update order.Update) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if update.Status != nil {
		o.Status = update.Status.Persisted()
	}
	if update.RetryCount != nil {
		o.RetryCount = *update.RetryCount
	}
	if update.SelectedVenue != nil {
		o.SelectedVenue = *update.SelectedVenue
	}
	if update.ExecutedPrice != nil {
		p := *update.ExecutedPrice
		o.ExecutedPrice = &p
	}
	if update.TransactionHash != nil {
		o.TransactionHash = *update.TransactionHash
	}
	if update.ErrorMessage != nil {
		o.ErrorMessage = *update.ErrorMessage
	}
	if update.ConfirmedAt != nil {
		ts := *update.ConfirmedAt
		o.ConfirmedAt = &ts
	}
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, id string, status order.Status) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsTerminal() {
		return nil, order.ErrTerminalState
	}
	o.Status = status.Persisted()
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) RecordRetry(_ context.Context, id string, errMsg string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsTerminal() {
		return nil, order.ErrTerminalState
	}
	if o.RetryCount >= o.MaxRetries {
		return nil, order.ErrRetriesExhausted
	}
	o.Status = order.StatusPending
	o.RetryCount++
	o.ErrorMessage = errMsg
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Complete(_ context.Context, id, venueName string, price decimal.Decimal, txHash string, confirmedAt time.Time) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsTerminal() {
		return nil, order.ErrTerminalState
	}
	o.Status = order.StatusCompleted
	o.SelectedVenue = venueName
	o.ExecutedPrice = &price
	o.TransactionHash = txHash
	o.ConfirmedAt = &confirmedAt
	o.ErrorMessage = ""
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Fail(_ context.Context, id, errMsg string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsTerminal() {
		return nil, order.ErrTerminalState
	}
	o.Status = order.StatusFailed
	o.ErrorMessage = errMsg
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Cancel(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.IsTerminal() {
		return nil, order.ErrTerminalState
	}
	o.Status = order.StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return cloneOrder(o), nil
}

func (r *memOrderRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != order.StatusPending {
		return order.ErrNotPending
	}
	delete(r.orders, id)
	return nil
}

func (r *memOrderRepo) List(_ context.Context, filter order.Filter) ([]*order.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*order.Order
	for i := len(r.seq) - 1; i >= 0; i-- { // newest first
		o := r.orders[r.seq[i]]
		if o == nil || !matchesFilter(o, filter) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *memOrderRepo) Count(_ context.Context, filter order.Filter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, o := range r.orders {
		if matchesFilter(o, filter) {
			total++
		}
	}
	return total, nil
}

func matchesFilter(o *order.Order, f order.Filter) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.TokenIn != "" && o.TokenIn != f.TokenIn {
		return false
	}
	if f.TokenOut != "" && o.TokenOut != f.TokenOut {
		return false
	}
	if f.MinAmount != nil && o.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && o.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.CreatedAfter != nil && o.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && o.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

// memQueue is a recording job.Queue. It accepts enqueues and reports
// configured counts; it never delivers.
type memQueue struct {
	mu         sync.Mutex
	enqueued   []*job.Job
	lastOpts   job.Options
	enqueueErr error
	counts     job.Counts
}

func newMemQueue() *memQueue { return &memQueue{} }

func (q *memQueue) Enqueue(_ context.Context, orderID string, opts job.Options) (*job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	j := &job.Job{
		ID:          fmt.Sprintf("job-%d", len(q.enqueued)+1),
		OrderID:     orderID,
		MaxAttempts: opts.Attempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	q.enqueued = append(q.enqueued, j)
	q.lastOpts = opts
	return j, nil
}

// lastEnqueue returns the most recent accepted job and its options; a
// nil job means nothing was enqueued.
func (q *memQueue) lastEnqueue() (*job.Job, job.Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueued) == 0 {
		return nil, job.Options{}
	}
	return q.enqueued[len(q.enqueued)-1], q.lastOpts
}

func (q *memQueue) Lease(context.Context, time.Duration) (*job.Lease, error) {
	return nil, job.ErrNoJob
}

func (q *memQueue) Ack(context.Context, *job.Lease) error           { return nil }
func (q *memQueue) Nack(context.Context, *job.Lease, error) error   { return nil }
func (q *memQueue) Progress(context.Context, *job.Lease, int) error { return nil }
func (q *memQueue) PromoteDue(context.Context) (int, error)         { return 0, nil }
func (q *memQueue) ReclaimStale(context.Context) (int, error)       { return 0, nil }

func (q *memQueue) Counts(context.Context) (job.Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counts, nil
}

func (q *memQueue) Sweep(context.Context) (int, error) { return 0, nil }
func (q *memQueue) Health(context.Context) error       { return nil }
func (q *memQueue) Close() error                       { return nil }

// memAuditLog is an in-memory audit.LogRepository that assigns versions
// the way the Postgres implementation does: zero versions get the next
// per-order value, explicit duplicates are dropped.
type memAuditLog struct {
	mu      sync.Mutex
	records map[string][]*audit.Record
	err     error
}

func newMemAuditLog() *memAuditLog {
	return &memAuditLog{records: make(map[string][]*audit.Record)}
}

func (l *memAuditLog) Append(_ context.Context, rec *audit.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}

	trail := l.records[rec.OrderID]
	stored := *rec
	if stored.EventVersion == 0 {
		var max int64
		for _, existing := range trail {
			if existing.EventVersion > max {
				max = existing.EventVersion
			}
		}
		stored.EventVersion = max + 1
	} else {
		for _, existing := range trail {
			if existing.EventVersion == stored.EventVersion {
				return nil
			}
		}
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	l.records[rec.OrderID] = append(trail, &stored)
	return nil
}

func (l *memAuditLog) ListByOrder(_ context.Context, orderID string) ([]*audit.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	trail := l.records[orderID]
	out := make([]*audit.Record, len(trail))
	copy(out, trail)
	return out, nil
}

// eventRecorder captures every bus event for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *eventRecorder) listen(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// types lists the recorded event types in emission order.
func (r *eventRecorder) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// count reports how often the given type was emitted.
func (r *eventRecorder) count(t audit.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// memSubscriber records hub deliveries.
type memSubscriber struct {
	mu     sync.Mutex
	msgs   []hub.Message
	closed bool
}

func (s *memSubscriber) Send(msg hub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// statuses lists the status pushes in delivery order.
func (s *memSubscriber) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		if m.Type == hub.TypeStatus {
			out = append(out, m.Status)
		}
	}
	return out
}
