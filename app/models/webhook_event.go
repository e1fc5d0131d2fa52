package models

import "time"

// Webhook event processing states.
const (
	WebhookStatusReceived   = "received"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusFailed     = "failed"
	WebhookStatusSkipped    = "skipped"
	WebhookStatusDead       = "dead"
)

// WebhookEvent is the persistent log of every accepted webhook delivery. Rows are
// never deleted; EventID is the source-assigned identifier used for deduplication.
type WebhookEvent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EventID        string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	EventType      string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	MerchantID     string     `gorm:"type:varchar(64);default:''" json:"merchant_id"`
	LocationID     string     `gorm:"type:varchar(64);default:''" json:"location_id"`
	PayloadJSON    string     `gorm:"type:longtext;not null" json:"-"`
	SignatureValid bool       `gorm:"default:false" json:"signature_valid"`
	Status         string     `gorm:"type:varchar(20);not null;default:'received';index:idx_webhook_events_status_received,priority:1" json:"status"`
	MaxAttempts    int        `gorm:"not null;default:3" json:"max_attempts"`
	ReceivedAt     time.Time  `gorm:"type:timestamp;not null;index:idx_webhook_events_status_received,priority:2" json:"received_at"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	ErrorKind      string     `gorm:"type:varchar(32);default:''" json:"error_kind,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the event needs no further processing.
func (e *WebhookEvent) IsTerminal() bool {
	switch e.Status {
	case WebhookStatusProcessed, WebhookStatusSkipped, WebhookStatusDead:
		return true
	default:
		return false
	}
}

// WebhookEventUpdate carries the mutable columns of a status change.
type WebhookEventUpdate struct {
	Status      string
	LastError   string
	ErrorKind   string
	ProcessedAt *time.Time
}
