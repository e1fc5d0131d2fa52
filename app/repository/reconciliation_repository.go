package repository

import (
	"context"

	"github.com/ManuelReschke/PayRelay/app/models"
	"gorm.io/gorm"
)

// reconciliationRepository implements the ReconciliationRepository interface
type reconciliationRepository struct {
	db *gorm.DB
}

// NewReconciliationRepository creates a new reconciliation repository instance
func NewReconciliationRepository(db *gorm.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

func (r *reconciliationRepository) Create(ctx context.Context, record *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *reconciliationRepository) Save(ctx context.Context, record *models.ReconciliationRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *reconciliationRepository) GetByID(ctx context.Context, id uint) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *reconciliationRepository) GetByKey(ctx context.Context, recordKey string) (*models.ReconciliationRecord, error) {
	var record models.ReconciliationRecord
	if err := r.db.WithContext(ctx).Where("record_key = ?", recordKey).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns one page of matching records, newest first, together with the total count.
func (r *reconciliationRepository) List(ctx context.Context, filter ReconciliationFilter, offset, limit int) ([]models.ReconciliationRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ReconciliationRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.BatchID != "" {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if filter.ResolutionStatus != "" {
		query = query.Where("resolution_status = ?", filter.ResolutionStatus)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.ReconciliationRecord
	err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&records).Error
	return records, total, err
}

func (r *reconciliationRepository) CreateRun(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *reconciliationRepository) SaveRun(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *reconciliationRepository) GetRunByBatchID(ctx context.Context, batchID string) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}
