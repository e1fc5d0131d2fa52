package models

import "time"

// ReconciliationRun summarises one batch; records of the batch share BatchID.
// An aborted batch has FinishedAt and Error set.
type ReconciliationRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	BatchID       string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"batch_id"`
	WindowStart   time.Time  `gorm:"type:timestamp;not null" json:"window_start"`
	WindowEnd     time.Time  `gorm:"type:timestamp;not null" json:"window_end"`
	Total         int        `gorm:"not null;default:0" json:"total"`
	Matched       int        `gorm:"not null;default:0" json:"matched"`
	Unmatched     int        `gorm:"not null;default:0" json:"unmatched"`
	Discrepancies int        `gorm:"not null;default:0" json:"discrepancies"`
	LookupFailed  int        `gorm:"not null;default:0" json:"lookup_failed"`
	ArchiveKey    string     `gorm:"type:varchar(255);default:''" json:"archive_key,omitempty"`
	StartedAt     time.Time  `gorm:"type:timestamp;not null" json:"started_at"`
	FinishedAt    *time.Time `gorm:"type:timestamp;default:null" json:"finished_at,omitempty"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
