package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestCreateIfNotExists_NewEvent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookEventRepository(db)

	mock.ExpectExec("INSERT INTO `webhook_events`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT \\* FROM `webhook_events`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "status"}).AddRow(1, "evt-1", models.WebhookStatusReceived))

	created, stored, err := repo.CreateIfNotExists(context.Background(), &models.WebhookEvent{
		EventID:    "evt-1",
		EventType:  "payment.created",
		Status:     models.WebhookStatusReceived,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "evt-1", stored.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIfNotExists_DuplicateReturnsPriorStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookEventRepository(db)

	mock.ExpectExec("INSERT INTO `webhook_events`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM `webhook_events`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "status"}).AddRow(7, "evt-1", models.WebhookStatusProcessed))

	created, stored, err := repo.CreateIfNotExists(context.Background(), &models.WebhookEvent{
		EventID:    "evt-1",
		EventType:  "payment.created",
		Status:     models.WebhookStatusReceived,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.WebhookStatusProcessed, stored.Status)
	assert.Equal(t, uint(7), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIfNotExists_StoreError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewWebhookEventRepository(db)

	mock.ExpectExec("INSERT INTO `webhook_events`").WillReturnError(errors.New("connection refused"))

	created, stored, err := repo.CreateIfNotExists(context.Background(), &models.WebhookEvent{EventID: "evt-1", ReceivedAt: time.Now()})
	assert.Error(t, err)
	assert.False(t, created)
	assert.Nil(t, stored)
}

func TestPaymentUpdateVersioned_StaleVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec("UPDATE `payments` SET").WillReturnResult(sqlmock.NewResult(0, 0))

	p := &models.Payment{ID: 3, SquarePaymentID: "sq-1", AmountMoney: 1000, TotalMoney: 1000, Version: 4}
	err := repo.UpdateVersioned(context.Background(), p)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, int64(4), p.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentUpdateVersioned_BumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	mock.ExpectExec("UPDATE `payments` SET").WillReturnResult(sqlmock.NewResult(0, 1))

	p := &models.Payment{ID: 3, SquarePaymentID: "sq-1", AmountMoney: 1000, TipMoney: 100, TotalMoney: 1100, Version: 4}
	require.NoError(t, repo.UpdateVersioned(context.Background(), p))
	assert.Equal(t, int64(5), p.Version)
}

func TestPaymentCreate_RejectsBrokenIdentity(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository(db)

	err := repo.Create(context.Background(), &models.Payment{SquarePaymentID: "sq-1", AmountMoney: 1000, TipMoney: 100, TotalMoney: 1000})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationUpdatePayment_UnchangedRowExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("UPDATE `registrations` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `registrations`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.UpdatePayment(context.Background(), "reg-1", models.PaymentStatusCompleted, "sq-1", time.Now())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationUpdatePayment_MissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("UPDATE `registrations` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `registrations`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.UpdatePayment(context.Background(), "reg-404", models.PaymentStatusCompleted, "sq-1", time.Now())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationUpdatePayment_Updated(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("UPDATE `registrations` SET").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdatePayment(context.Background(), "reg-1", models.PaymentStatusCompleted, "sq-1", time.Now())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
