package models

import "time"

const (
	AttemptOutcomeRunning   = "running"
	AttemptOutcomeSucceeded = "succeeded"
	AttemptOutcomeSkipped   = "skipped"
	AttemptOutcomeFailed    = "failed"
)

// WebhookAttempt is an append-only record of one processing attempt. The attempt
// count of an event is the number of rows carrying its EventID.
type WebhookAttempt struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	EventID    string     `gorm:"type:varchar(191);not null;index" json:"event_id"`
	Attempt    int        `gorm:"not null" json:"attempt"`
	Worker     string     `gorm:"type:varchar(64);default:''" json:"worker"`
	StartedAt  time.Time  `gorm:"type:timestamp;not null" json:"started_at"`
	FinishedAt *time.Time `gorm:"type:timestamp;default:null" json:"finished_at,omitempty"`
	Outcome    string     `gorm:"type:varchar(20);not null;default:'running'" json:"outcome"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	ErrorKind  string     `gorm:"type:varchar(32);default:''" json:"error_kind,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
