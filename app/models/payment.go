package models

import (
	"fmt"
	"time"
)

// Local payment states. Pending is the only non-terminal state.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusCanceled  = "canceled"
	PaymentStatusFailed    = "failed"
)

const (
	SyncStatusSynced  = "synced"
	SyncStatusPending = "pending"
	SyncStatusError   = "error"
)

// Payment is the local mirror of a Square payment. Amounts are minor currency units.
type Payment struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	SquarePaymentID     string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_square_payment_id" json:"square_payment_id"`
	OrderID             string     `gorm:"type:varchar(191);default:'';index" json:"order_id"`
	LocationID          string     `gorm:"type:varchar(64);default:''" json:"location_id"`
	AmountMoney         int64      `gorm:"not null;default:0" json:"amount_money"`
	TipMoney            int64      `gorm:"not null;default:0" json:"tip_money"`
	TotalMoney          int64      `gorm:"not null;default:0" json:"total_money"`
	RefundedMoney       int64      `gorm:"not null;default:0" json:"refunded_money"`
	Currency            string     `gorm:"type:char(3);not null;default:'USD'" json:"currency"`
	SourceType          string     `gorm:"type:varchar(32);default:''" json:"source_type"`
	CardBrand           string     `gorm:"type:varchar(32);default:''" json:"card_brand,omitempty"`
	CardLast4           string     `gorm:"type:varchar(4);default:''" json:"card_last4,omitempty"`
	CardExpMonth        int        `gorm:"default:0" json:"card_exp_month,omitempty"`
	CardExpYear         int        `gorm:"default:0" json:"card_exp_year,omitempty"`
	CardFingerprint     string     `gorm:"type:varchar(191);default:''" json:"-"`
	Status              string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProcessingFee       int64      `gorm:"not null;default:0" json:"processing_fee"`
	RiskEvaluation      string     `gorm:"type:text" json:"-"`
	VerificationResults string     `gorm:"type:text" json:"-"`
	ReceiptNumber       string     `gorm:"type:varchar(64);default:''" json:"receipt_number,omitempty"`
	ReceiptURL          string     `gorm:"type:varchar(512);default:''" json:"receipt_url,omitempty"`
	Disputed            bool       `gorm:"default:false;index" json:"disputed"`
	DisputeID           string     `gorm:"type:varchar(191);default:''" json:"dispute_id,omitempty"`
	RemoteCreatedAt     *time.Time `gorm:"type:timestamp;default:null" json:"remote_created_at,omitempty"`
	RemoteUpdatedAt     *time.Time `gorm:"type:timestamp;default:null" json:"remote_updated_at,omitempty"`
	SyncStatus          string     `gorm:"type:varchar(20);not null;default:'pending'" json:"sync_status"`
	SyncedAt            *time.Time `gorm:"type:timestamp;default:null;index" json:"synced_at,omitempty"`
	LastReconciledAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_reconciled_at,omitempty"`
	CustomerID          *uint      `gorm:"index" json:"customer_id,omitempty"`
	Customer            *Customer  `gorm:"foreignKey:CustomerID;constraint:OnDelete:SET NULL" json:"-"`
	RegistrationID      *string    `gorm:"type:varchar(191);index" json:"registration_id,omitempty"`
	Version             int64      `gorm:"not null;default:1" json:"-"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CheckAmounts verifies the accounting identity total = amount + tip.
func (p *Payment) CheckAmounts() error {
	if p.AmountMoney < 0 || p.TipMoney < 0 {
		return fmt.Errorf("payment %s has negative amounts (amount=%d tip=%d)", p.SquarePaymentID, p.AmountMoney, p.TipMoney)
	}
	if p.TotalMoney != p.AmountMoney+p.TipMoney {
		return fmt.Errorf("payment %s total %d != amount %d + tip %d", p.SquarePaymentID, p.TotalMoney, p.AmountMoney, p.TipMoney)
	}
	return nil
}

// IsTerminal reports whether no further status change is legal.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}
