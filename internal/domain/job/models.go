package job

import (
	"time"
)

// State is the queue-side lifecycle of a job. Order state lives in the
// order store; the queue only tracks delivery.
type State string

const (
	StateReady     State = "ready"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDead      State = "dead"
)

// Job is the enqueued artifact that drives one order through the
// execution pipeline. The queue owns the job record; all durable order
// state belongs to the order store.
type Job struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	Attempt     int       `json:"attempt"` // 1-based, set by the queue on lease
	MaxAttempts int       `json:"maxAttempts"`
	Progress    int       `json:"progress"`
	LastError   string    `json:"lastError,omitempty"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// AttemptsLeft reports how many deliveries remain after the current one.
func (j *Job) AttemptsLeft() int {
	left := j.MaxAttempts - j.Attempt
	if left < 0 {
		return 0
	}
	return left
}

// Backoff computes the delay before a retried delivery. The first failed
// attempt waits Initial, each subsequent failure multiplies the delay,
// and Max caps the growth.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoff matches the queue defaults: 5s base doubling per
// attempt (5s, 10s, 20s, ...) capped at five minutes.
func DefaultBackoff() Backoff {
	return Backoff{Initial: 5 * time.Second, Multiplier: 2, Max: 5 * time.Minute}
}

// Delay returns the wait before the next delivery after the given
// 1-based attempt failed.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * b.Multiplier)
		if b.Max > 0 && delay > b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// RetentionPolicy bounds how many finished job records are kept for
// observability and for how long.
type RetentionPolicy struct {
	Count int
	Age   time.Duration
}

// Options control a single enqueue.
type Options struct {
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete RetentionPolicy
	RemoveOnFail     RetentionPolicy
}

// DefaultOptions returns the standard queue options with the given
// delivery budget.
func DefaultOptions(attempts int) Options {
	return Options{
		Attempts:         attempts,
		Backoff:          DefaultBackoff(),
		RemoveOnComplete: RetentionPolicy{Count: 1000, Age: 24 * time.Hour},
		RemoveOnFail:     RetentionPolicy{Count: 5000, Age: 7 * 24 * time.Hour},
	}
}

// Lease is a leased delivery of a job to one consumer. The token fences
// acknowledgements: once the queue reclaims a stalled lease, the old
// holder's Ack and Nack are rejected.
type Lease struct {
	Job      *Job
	Token    string
	Deadline time.Time
}

// Counts reports queue depth by state.
type Counts struct {
	Ready     int64 `json:"ready"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
}
