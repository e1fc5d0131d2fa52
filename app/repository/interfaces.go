package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
)

// ErrStaleVersion is returned by versioned updates when another writer changed
// the row first. Callers reload and retry.
var ErrStaleVersion = errors.New("stale version")

// WebhookEventRepository is the persistent log of received webhook deliveries
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	UpdateStatus(ctx context.Context, eventID string, update models.WebhookEventUpdate) error
	ListStaleReceived(ctx context.Context, receivedBefore time.Time, limit int) ([]models.WebhookEvent, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// WebhookAttemptRepository is the append-only attempt log. The number of rows
// for an event is its attempt count.
type WebhookAttemptRepository interface {
	Start(ctx context.Context, attempt *models.WebhookAttempt) error
	Finish(ctx context.Context, id uint, outcome, errMsg, errKind string, finishedAt time.Time) error
	CountByEventID(ctx context.Context, eventID string) (int, error)
	ListByEventID(ctx context.Context, eventID string) ([]models.WebhookAttempt, error)
}

// SecurityAuditRepository stores rejected webhook deliveries
type SecurityAuditRepository interface {
	Create(ctx context.Context, event *models.SecurityAuditEvent) error
}

// PaymentRepository defines the payment persistence operations
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetBySquareID(ctx context.Context, squarePaymentID string) (*models.Payment, error)
	UpdateVersioned(ctx context.Context, payment *models.Payment) error
	ListSyncedBetween(ctx context.Context, from, to time.Time) ([]models.Payment, error)
	MarkReconciled(ctx context.Context, id uint, syncStatus string, at time.Time) error
}

// RefundRepository defines the refund persistence operations
type RefundRepository interface {
	Create(ctx context.Context, refund *models.Refund) error
	GetBySquareID(ctx context.Context, squareRefundID string) (*models.Refund, error)
	Update(ctx context.Context, refund *models.Refund) error
	ListByPaymentID(ctx context.Context, paymentID uint) ([]models.Refund, error)
}

// CustomerRepository defines the customer persistence operations. Lookups by
// email include soft-deleted rows since the email index is unique across them.
type CustomerRepository interface {
	Create(ctx context.Context, customer *models.Customer) error
	GetByID(ctx context.Context, id uint) (*models.Customer, error)
	GetBySquareID(ctx context.Context, squareCustomerID string) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	UpdateVersioned(ctx context.Context, customer *models.Customer) error
}

// ReconciliationFilter narrows record listings. Empty fields match everything.
type ReconciliationFilter struct {
	Type             string
	Status           string
	BatchID          string
	ResolutionStatus string
}

// ReconciliationRepository stores reconciliation records and runs
type ReconciliationRepository interface {
	Create(ctx context.Context, record *models.ReconciliationRecord) error
	Save(ctx context.Context, record *models.ReconciliationRecord) error
	GetByID(ctx context.Context, id uint) (*models.ReconciliationRecord, error)
	GetByKey(ctx context.Context, recordKey string) (*models.ReconciliationRecord, error)
	List(ctx context.Context, filter ReconciliationFilter, offset, limit int) ([]models.ReconciliationRecord, int64, error)
	CreateRun(ctx context.Context, run *models.ReconciliationRun) error
	SaveRun(ctx context.Context, run *models.ReconciliationRun) error
	GetRunByBatchID(ctx context.Context, batchID string) (*models.ReconciliationRun, error)
}

// RegistrationRepository touches the payment columns of the registration table
type RegistrationRepository interface {
	GetByID(ctx context.Context, registrationID string) (*models.Registration, error)
	UpdatePayment(ctx context.Context, registrationID, paymentStatus, squarePaymentID string, at time.Time) error
}

// PendingLinkRepository stores payments waiting for their registration
type PendingLinkRepository interface {
	Upsert(ctx context.Context, link *models.PendingRegistrationLink) error
	Save(ctx context.Context, link *models.PendingRegistrationLink) error
	ListPendingByRegistration(ctx context.Context, registrationID string) ([]models.PendingRegistrationLink, error)
	ListPending(ctx context.Context, limit int) ([]models.PendingRegistrationLink, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	WebhookEvent   WebhookEventRepository
	WebhookAttempt WebhookAttemptRepository
	SecurityAudit  SecurityAuditRepository
	Payment        PaymentRepository
	Refund         RefundRepository
	Customer       CustomerRepository
	Reconciliation ReconciliationRepository
	Registration   RegistrationRepository
	PendingLink    PendingLinkRepository
}
