package job

import "errors"

var (
	ErrDuplicate   = errors.New("an execution job for this order is already queued")
	ErrNoJob       = errors.New("no job available")
	ErrLeaseLost   = errors.New("job lease no longer held")
	ErrNotFound    = errors.New("job not found")
	ErrUnavailable = errors.New("job queue unavailable")
	ErrClosed      = errors.New("job queue closed")
)
