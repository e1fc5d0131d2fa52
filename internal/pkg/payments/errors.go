package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
)

// Kind classifies processing failures. It is stored on the event row and the
// attempt log and decides whether a failure is retried.
type Kind string

const (
	KindNone          Kind = ""
	KindTransient     Kind = "transient"
	KindDataIntegrity Kind = "data_integrity"
	KindValidation    Kind = "validation"
	KindTimeout       Kind = "timeout"
	KindNotFound      Kind = "not_found"
)

// Retryable reports whether a failure of this kind may succeed later
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindNotFound:
		return true
	default:
		return false
	}
}

// ProcessError is a failure carrying its Kind
type ProcessError struct {
	Kind Kind
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// KindOf extracts the Kind of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, jobqueue.ErrProcessTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// queueError wraps a failure for the job queue; non-retryable kinds are
// marked permanent so they are dead-lettered on the first failure.
func queueError(kind Kind, err error) error {
	pe := &ProcessError{Kind: kind, Err: err}
	if !kind.Retryable() {
		return jobqueue.Permanent(pe)
	}
	return pe
}
