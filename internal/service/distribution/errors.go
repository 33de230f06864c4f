package distribution

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("distribution job not found")
	ErrInvalidState   = errors.New("invalid job state")
	ErrResultRejected = errors.New("platform result rejected")
	ErrClosed         = errors.New("distribution engine is closed")
)

// ValidationError reports a request that was rejected before any job was created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	errInvalidInterval = errors.New("scheduler interval must be positive")
	errAlreadyStarted  = errors.New("scheduler already started")
)
