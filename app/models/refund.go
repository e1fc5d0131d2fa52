package models

import "time"

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
	RefundStatusRejected  = "rejected"
)

// Refund is a partial or full reversal of a Payment.
type Refund struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SquareRefundID  string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_refunds_square_refund_id" json:"square_refund_id"`
	PaymentID       uint       `gorm:"not null;index" json:"payment_id"`
	Payment         *Payment   `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE" json:"-"`
	SquarePaymentID string     `gorm:"type:varchar(191);not null;index" json:"square_payment_id"`
	AmountMoney     int64      `gorm:"not null;default:0" json:"amount_money"`
	Currency        string     `gorm:"type:char(3);not null;default:'USD'" json:"currency"`
	Reason          string     `gorm:"type:varchar(255);default:''" json:"reason"`
	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProcessingFee   int64      `gorm:"not null;default:0" json:"processing_fee"`
	RemoteCreatedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_created_at,omitempty"`
	RemoteUpdatedAt *time.Time `gorm:"type:timestamp;default:null" json:"remote_updated_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the refund reached a final state.
func (r *Refund) IsTerminal() bool {
	return r.Status != RefundStatusPending
}
