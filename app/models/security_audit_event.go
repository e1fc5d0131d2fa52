package models

import "time"

// SecurityAuditEvent records a rejected webhook delivery. It is kept apart from
// the processing log so unauthenticated traffic never reaches the queue.
type SecurityAuditEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Path            string    `gorm:"type:varchar(255);not null" json:"path"`
	RemoteIP        string    `gorm:"type:varchar(45);default:''" json:"remote_ip"`
	SignatureHeader string    `gorm:"type:varchar(255);default:''" json:"signature_header"`
	BodySHA256      string    `gorm:"type:char(64);index" json:"body_sha256"`
	BodySize        int       `gorm:"not null;default:0" json:"body_size"`
	Reason          string    `gorm:"type:varchar(64);not null" json:"reason"`
	ReceivedAt      time.Time `gorm:"type:timestamp;not null;index" json:"received_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
