package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// registrationRepository implements the RegistrationRepository interface
type registrationRepository struct {
	db *gorm.DB
}

// NewRegistrationRepository creates a new registration repository instance
func NewRegistrationRepository(db *gorm.DB) RegistrationRepository {
	return &registrationRepository{db: db}
}

func (r *registrationRepository) GetByID(ctx context.Context, registrationID string) (*models.Registration, error) {
	var registration models.Registration
	err := r.db.WithContext(ctx).Where("registration_id = ?", registrationID).First(&registration).Error
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

// UpdatePayment sets the payment columns. A missing row is gorm.ErrRecordNotFound.
// MySQL reports 0 affected rows for an update that changes nothing, so a zero
// count is confirmed with a lookup.
func (r *registrationRepository) UpdatePayment(ctx context.Context, registrationID, paymentStatus, squarePaymentID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Registration{}).
		Where("registration_id = ?", registrationID).
		Updates(map[string]interface{}{
			"payment_status":     paymentStatus,
			"square_payment_id":  squarePaymentID,
			"payment_updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Registration{}).
		Where("registration_id = ?", registrationID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// pendingLinkRepository implements the PendingLinkRepository interface
type pendingLinkRepository struct {
	db *gorm.DB
}

// NewPendingLinkRepository creates a new pending link repository instance
func NewPendingLinkRepository(db *gorm.DB) PendingLinkRepository {
	return &pendingLinkRepository{db: db}
}

// Upsert keeps one link per payment. A re-parked payment refreshes its status
// and registration but keeps the original expiry.
func (r *pendingLinkRepository) Upsert(ctx context.Context, link *models.PendingRegistrationLink) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "square_payment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"registration_id",
			"payment_status",
			"last_error",
			"updated_at",
		}),
	}).Create(link).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("square_payment_id = ?", link.SquarePaymentID).First(link).Error
}

func (r *pendingLinkRepository) Save(ctx context.Context, link *models.PendingRegistrationLink) error {
	return r.db.WithContext(ctx).Save(link).Error
}

func (r *pendingLinkRepository) ListPendingByRegistration(ctx context.Context, registrationID string) ([]models.PendingRegistrationLink, error) {
	var links []models.PendingRegistrationLink
	err := r.db.WithContext(ctx).
		Where("registration_id = ? AND status = ?", registrationID, models.PendingLinkStatusPending).
		Order("id ASC").Find(&links).Error
	return links, err
}

func (r *pendingLinkRepository) ListPending(ctx context.Context, limit int) ([]models.PendingRegistrationLink, error) {
	var links []models.PendingRegistrationLink
	err := r.db.WithContext(ctx).
		Where("status = ?", models.PendingLinkStatusPending).
		Order("expires_at ASC").Limit(limit).Find(&links).Error
	return links, err
}
