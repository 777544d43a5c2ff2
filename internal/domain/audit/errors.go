package audit

import "errors"

var (
	ErrInvalidEvent    = errors.New("invalid audit event")
	ErrVersionConflict = errors.New("audit event version conflict")
)
