package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Priority orders queue tiers; higher values are drained first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Priorities lists all tiers from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the known tiers
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDelayed    JobStatus = "delayed"
)

// Job is a queued reference to a persisted webhook event. The job ID is the
// event ID, so one event never has two live jobs.
type Job struct {
	ID          string     `json:"id"`
	EventType   string     `json:"event_type"`
	Priority    Priority   `json:"priority"`
	Status      JobStatus  `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	ErrorMsg    string     `json:"error_msg,omitempty"`
}

// RetryDecision is the outcome of MarkFailed.
type RetryDecision struct {
	Retry    bool
	Delay    time.Duration
	Attempts int
}

// AttemptCounter returns how many processing attempts an event has had.
// The persistent attempt log is the only source of truth for this count.
type AttemptCounter interface {
	CountByEventID(ctx context.Context, eventID string) (int, error)
}

// ErrEmpty is returned by DequeueNext when no tier has work.
var ErrEmpty = errors.New("jobqueue: empty")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; MarkFailed dead-letters it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Stats is a snapshot of queue depth and lifetime counters
type Stats struct {
	Tiers      map[string]int64 `json:"tiers"`
	Processing int64            `json:"processing"`
	Delayed    int64            `json:"delayed"`
	Counters   map[string]int64 `json:"counters"`
}
