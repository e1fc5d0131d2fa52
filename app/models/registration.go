package models

import "time"

// Registration is the slice of the registration service's table this service
// touches. Its lifecycle belongs to the registration service.
type Registration struct {
	RegistrationID   string     `gorm:"column:registration_id;type:varchar(191);primaryKey" json:"registration_id"`
	PaymentStatus    string     `gorm:"column:payment_status;type:varchar(20);default:''" json:"payment_status"`
	SquarePaymentID  string     `gorm:"column:square_payment_id;type:varchar(191);default:''" json:"square_payment_id"`
	PaymentUpdatedAt *time.Time `gorm:"column:payment_updated_at;type:timestamp;default:null" json:"payment_updated_at,omitempty"`
}

func (Registration) TableName() string {
	return "registrations"
}

const (
	PendingLinkStatusPending  = "pending"
	PendingLinkStatusResolved = "resolved"
	PendingLinkStatusFlagged  = "flagged"
)

// PendingRegistrationLink holds a payment whose registration was not yet
// committed (or whose registration update failed) until it can be applied.
type PendingRegistrationLink struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SquarePaymentID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"square_payment_id"`
	PaymentID       uint       `gorm:"not null;index" json:"payment_id"`
	RegistrationID  string     `gorm:"type:varchar(191);not null;index" json:"registration_id"`
	PaymentStatus   string     `gorm:"type:varchar(20);not null" json:"payment_status"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ExpiresAt       time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	LastError       string     `gorm:"type:text" json:"last_error,omitempty"`
	ResolvedAt      *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
