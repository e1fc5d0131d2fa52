package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ReconTypePayment    = "payment"
	ReconTypeRefund     = "refund"
	ReconTypeDispute    = "dispute"
	ReconTypeAdjustment = "adjustment"
)

const (
	ReconStatusMatched     = "matched"
	ReconStatusUnmatched   = "unmatched"
	ReconStatusDiscrepancy = "discrepancy"
	ReconStatusResolved    = "resolved"
)

const (
	ResolutionPending   = "pending"
	ResolutionResolved  = "resolved"
	ResolutionEscalated = "escalated"
)

// Discrepancy classifications.
const (
	DiscrepancyNone            = ""
	DiscrepancyAmountMismatch  = "amount_mismatch"
	DiscrepancyRefundMismatch  = "refund_mismatch"
	DiscrepancyStatusMismatch  = "status_mismatch"
	DiscrepancyNotFound        = "not_found"
	DiscrepancyLookupFailed    = "lookup_failed"
	DiscrepancyDispute         = "dispute"
	DiscrepancyRefundOverflow  = "refund_overflow"
	DiscrepancyOrphanedPayment = "orphaned_payment"
)

// ReconciliationRecord is one finding of a reconciliation pass or of a processor
// that needs human attention. DifferenceAmount is derived in Recompute and is
// never set by callers.
type ReconciliationRecord struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	RecordKey        string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_reconciliation_records_key" json:"record_key"`
	BatchID          string     `gorm:"type:varchar(64);default:'';index" json:"batch_id"`
	Type             string     `gorm:"type:varchar(20);not null;index:idx_reconciliation_type_status,priority:1" json:"type"`
	Status           string     `gorm:"type:varchar(20);not null;index:idx_reconciliation_type_status,priority:2" json:"status"`
	DiscrepancyType  string     `gorm:"type:varchar(32);default:''" json:"discrepancy_type,omitempty"`
	PaymentID        *uint      `gorm:"index" json:"payment_id,omitempty"`
	SquarePaymentID  string     `gorm:"type:varchar(191);default:'';index" json:"square_payment_id,omitempty"`
	ReferenceID      string     `gorm:"type:varchar(191);default:''" json:"reference_id,omitempty"`
	WindowStart      *time.Time `gorm:"type:timestamp;default:null" json:"window_start,omitempty"`
	WindowEnd        *time.Time `gorm:"type:timestamp;default:null" json:"window_end,omitempty"`
	Currency         string     `gorm:"type:char(3);default:''" json:"currency,omitempty"`
	ExpectedAmount   *int64     `json:"expected_amount"`
	ActualAmount     *int64     `json:"actual_amount"`
	DifferenceAmount *int64     `json:"difference_amount"`
	ResolutionStatus string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"resolution_status"`
	ResolvedBy       string     `gorm:"type:varchar(191);default:''" json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	ResolutionNotes  string     `gorm:"type:text" json:"resolution_notes,omitempty"`
	Details          string     `gorm:"type:text" json:"details,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Recompute derives DifferenceAmount = Actual - Expected. A record with both
// amounts present and no difference is matched and needs no resolution.
func (r *ReconciliationRecord) Recompute() {
	if r.ExpectedAmount == nil || r.ActualAmount == nil {
		r.DifferenceAmount = nil
		return
	}
	diff := *r.ActualAmount - *r.ExpectedAmount
	r.DifferenceAmount = &diff
	if diff == 0 && r.Status != ReconStatusResolved && r.Type != ReconTypeDispute {
		r.Status = ReconStatusMatched
		r.DiscrepancyType = DiscrepancyNone
		r.ResolutionStatus = ResolutionResolved
	}
}

// BeforeSave keeps DifferenceAmount consistent on every write.
func (r *ReconciliationRecord) BeforeSave(tx *gorm.DB) error {
	r.Recompute()
	return nil
}

// Int64Ptr is a small helper for optional amounts.
func Int64Ptr(v int64) *int64 {
	return &v
}
