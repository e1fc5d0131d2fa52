package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := payment.CheckAmounts(); err != nil {
		return err
	}
	if payment.Version == 0 {
		payment.Version = 1
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetBySquareID(ctx context.Context, squarePaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("square_payment_id = ?", squarePaymentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateVersioned writes every column when the stored version still matches
// payment.Version and bumps it. A concurrent writer yields ErrStaleVersion.
func (r *paymentRepository) UpdateVersioned(ctx context.Context, payment *models.Payment) error {
	if err := payment.CheckAmounts(); err != nil {
		return err
	}
	current := payment.Version
	payment.Version = current + 1
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND version = ?", payment.ID, current).
		Select("*").Omit("id", "created_at", clause.Associations).
		Updates(payment)
	if res.Error != nil {
		payment.Version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		payment.Version = current
		return ErrStaleVersion
	}
	return nil
}

// ListSyncedBetween returns payments whose last sync falls inside [from, to).
func (r *paymentRepository) ListSyncedBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("synced_at >= ? AND synced_at < ?", from, to).
		Order("id ASC").Find(&payments).Error
	return payments, err
}

// MarkReconciled only touches reconciliation bookkeeping so re-runs select the same window.
func (r *paymentRepository) MarkReconciled(ctx context.Context, id uint, syncStatus string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"sync_status":        syncStatus,
		"last_reconciled_at": at,
	}).Error
}

// refundRepository implements the RefundRepository interface
type refundRepository struct {
	db *gorm.DB
}

// NewRefundRepository creates a new refund repository instance
func NewRefundRepository(db *gorm.DB) RefundRepository {
	return &refundRepository{db: db}
}

func (r *refundRepository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(refund).Error
}

func (r *refundRepository) GetBySquareID(ctx context.Context, squareRefundID string) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("square_refund_id = ?", squareRefundID).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *refundRepository) Update(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(refund).Error
}

func (r *refundRepository) ListByPaymentID(ctx context.Context, paymentID uint) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("id ASC").Find(&refunds).Error
	return refunds, err
}
