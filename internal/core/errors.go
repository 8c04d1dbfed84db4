package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the abstract error taxonomy. Callers classify with
// errors.Is; subsystems wrap these with contextual detail via %w.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on unique-constraint or concurrent-update collisions.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned when input fails schema or invariant checks.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks retryable failures (timeouts, 5xx, transient I/O).
	ErrTransient = errors.New("transient failure")

	// ErrFatal marks unrecoverable failures; the job terminates as failed.
	ErrFatal = errors.New("fatal failure")

	// ErrRetrievalUnavailable is returned when every retriever failed.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrRetrievalTimeout is returned when the query deadline passed before
	// any retriever completed.
	ErrRetrievalTimeout = errors.New("retrieval timed out")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Transientf wraps ErrTransient with a formatted message.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrTransient}, args...)...)
}

// Fatalf wraps ErrFatal with a formatted message.
func Fatalf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFatal}, args...)...)
}

// IsRetryable reports whether an ingestion error should count against the
// job's retry budget rather than failing it outright. Context cancellation
// is never retryable: the job is rolled back to pending instead.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrFatal) || errors.Is(err, ErrConflict) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
