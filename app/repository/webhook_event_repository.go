package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the event unless a row with the same event_id exists.
// The returned row is the stored one, which for duplicates carries the prior status.
func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) UpdateStatus(ctx context.Context, eventID string, update models.WebhookEventUpdate) error {
	updates := map[string]interface{}{
		"status":     update.Status,
		"last_error": update.LastError,
		"error_kind": update.ErrorKind,
	}
	if update.ProcessedAt != nil {
		updates["processed_at"] = update.ProcessedAt
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("event_id = ?", eventID).Updates(updates).Error
}

// ListStaleReceived returns events still in received state, e.g. after a queue outage.
func (r *webhookEventRepository) ListStaleReceived(ctx context.Context, receivedBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND received_at < ?", models.WebhookStatusReceived, receivedBefore).
		Order("received_at ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// webhookAttemptRepository implements the WebhookAttemptRepository interface
type webhookAttemptRepository struct {
	db *gorm.DB
}

// NewWebhookAttemptRepository creates a new attempt log repository instance
func NewWebhookAttemptRepository(db *gorm.DB) WebhookAttemptRepository {
	return &webhookAttemptRepository{db: db}
}

// Start appends a running attempt and numbers it after the existing ones.
func (r *webhookAttemptRepository) Start(ctx context.Context, attempt *models.WebhookAttempt) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.WebhookAttempt{}).Where("event_id = ?", attempt.EventID).Count(&count).Error; err != nil {
			return err
		}
		attempt.Attempt = int(count) + 1
		if attempt.Outcome == "" {
			attempt.Outcome = models.AttemptOutcomeRunning
		}
		return tx.Create(attempt).Error
	})
}

func (r *webhookAttemptRepository) Finish(ctx context.Context, id uint, outcome, errMsg, errKind string, finishedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.WebhookAttempt{}).Where("id = ?", id).Updates(map[string]interface{}{
		"outcome":     outcome,
		"error":       errMsg,
		"error_kind":  errKind,
		"finished_at": finishedAt,
	}).Error
}

func (r *webhookAttemptRepository) CountByEventID(ctx context.Context, eventID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookAttempt{}).Where("event_id = ?", eventID).Count(&count).Error
	return int(count), err
}

func (r *webhookAttemptRepository) ListByEventID(ctx context.Context, eventID string) ([]models.WebhookAttempt, error) {
	var attempts []models.WebhookAttempt
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("attempt ASC").Find(&attempts).Error
	return attempts, err
}

// securityAuditRepository implements the SecurityAuditRepository interface
type securityAuditRepository struct {
	db *gorm.DB
}

// NewSecurityAuditRepository creates a new security audit repository instance
func NewSecurityAuditRepository(db *gorm.DB) SecurityAuditRepository {
	return &securityAuditRepository{db: db}
}

func (r *securityAuditRepository) Create(ctx context.Context, event *models.SecurityAuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
