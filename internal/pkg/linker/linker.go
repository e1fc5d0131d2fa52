// Package linker writes payment outcomes onto registrations owned by the
// registration service. Payments that arrive before their registration is
// committed are parked and applied later.
package linker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	DefaultTTL       = 48 * time.Hour
	defaultSweepSize = 100
)

// SweepResult counts what one sweep did
type SweepResult struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Flagged  int `json:"flagged"`
}

// Linker links payments to registrations
type Linker struct {
	repos     *repository.Repositories
	ttl       time.Duration
	sweepSize int
	now       func() time.Time
}

// New creates a linker. Pending links expire after ttl.
func New(repos *repository.Repositories, ttl time.Duration) *Linker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Linker{
		repos:     repos,
		ttl:       ttl,
		sweepSize: defaultSweepSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnPaymentStatusChanged is called by the payment processor after a status
// change was stored. Errors are reported but never undo the payment.
func (l *Linker) OnPaymentStatusChanged(ctx context.Context, payment *models.Payment) error {
	if payment.RegistrationID == nil || *payment.RegistrationID == "" {
		return nil
	}
	_, err := l.LinkPaymentToRegistration(ctx, payment, *payment.RegistrationID)
	return err
}

// LinkPaymentToRegistration writes the payment onto the registration. It
// reports false when the payment was parked instead.
func (l *Linker) LinkPaymentToRegistration(ctx context.Context, payment *models.Payment, registrationID string) (bool, error) {
	if registrationID == "" {
		return false, errors.New("linker: registration id is required")
	}
	err := l.repos.Registration.UpdatePayment(ctx, registrationID, payment.Status, payment.SquarePaymentID, l.now())
	if err == nil {
		log.Infof("[Linker] Payment %s (%s) linked to registration %s", payment.SquarePaymentID, payment.Status, registrationID)
		return true, nil
	}

	reason := "registration not found"
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		reason = err.Error()
	}
	link := &models.PendingRegistrationLink{
		SquarePaymentID: payment.SquarePaymentID,
		PaymentID:       payment.ID,
		RegistrationID:  registrationID,
		PaymentStatus:   payment.Status,
		Status:          models.PendingLinkStatusPending,
		ExpiresAt:       l.now().Add(l.ttl),
		LastError:       reason,
	}
	if perr := l.repos.PendingLink.Upsert(ctx, link); perr != nil {
		return false, fmt.Errorf("park payment %s: %w", payment.SquarePaymentID, perr)
	}
	log.Warnf("[Linker] Payment %s parked for registration %s: %s", payment.SquarePaymentID, registrationID, reason)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("link payment %s: %w", payment.SquarePaymentID, err)
}

// ResolvePending applies every parked payment of a registration. It is called
// once the registration service committed the registration.
func (l *Linker) ResolvePending(ctx context.Context, registrationID string) (int, error) {
	links, err := l.repos.PendingLink.ListPendingByRegistration(ctx, registrationID)
	if err != nil {
		return 0, fmt.Errorf("list pending links: %w", err)
	}
	resolved := 0
	for i := range links {
		ok, err := l.apply(ctx, &links[i])
		if err != nil {
			return resolved, err
		}
		if ok {
			resolved++
		}
	}
	return resolved, nil
}

// Sweep retries parked payments and flags those past their expiry for review.
func (l *Linker) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	links, err := l.repos.PendingLink.ListPending(ctx, l.sweepSize)
	if err != nil {
		return result, fmt.Errorf("list pending links: %w", err)
	}
	for i := range links {
		link := &links[i]
		result.Checked++
		ok, err := l.apply(ctx, link)
		if err != nil {
			log.Warnf("[Linker] Retry of payment %s failed: %v", link.SquarePaymentID, err)
			continue
		}
		if ok {
			result.Resolved++
			continue
		}
		if l.now().Before(link.ExpiresAt) {
			continue
		}
		if err := l.flag(ctx, link); err != nil {
			return result, err
		}
		result.Flagged++
	}
	if result.Checked > 0 {
		log.Infof("[Linker] Sweep: %d checked, %d resolved, %d flagged", result.Checked, result.Resolved, result.Flagged)
	}
	return result, nil
}

// apply tries to write one parked link using the payment's current status
func (l *Linker) apply(ctx context.Context, link *models.PendingRegistrationLink) (bool, error) {
	status := link.PaymentStatus
	if payment, err := l.repos.Payment.GetByID(ctx, link.PaymentID); err == nil {
		status = payment.Status
	}
	now := l.now()
	err := l.repos.Registration.UpdatePayment(ctx, link.RegistrationID, status, link.SquarePaymentID, now)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	link.Status = models.PendingLinkStatusResolved
	link.PaymentStatus = status
	link.ResolvedAt = &now
	link.LastError = ""
	if err := l.repos.PendingLink.Save(ctx, link); err != nil {
		return true, fmt.Errorf("save link %d: %w", link.ID, err)
	}
	log.Infof("[Linker] Parked payment %s linked to registration %s", link.SquarePaymentID, link.RegistrationID)
	return true, nil
}

func (l *Linker) flag(ctx context.Context, link *models.PendingRegistrationLink) error {
	paymentID := link.PaymentID
	record := &models.ReconciliationRecord{
		RecordKey:        "link:" + link.SquarePaymentID + ":orphaned",
		Type:             models.ReconTypePayment,
		Status:           models.ReconStatusUnmatched,
		DiscrepancyType:  models.DiscrepancyOrphanedPayment,
		PaymentID:        &paymentID,
		SquarePaymentID:  link.SquarePaymentID,
		ReferenceID:      link.RegistrationID,
		ResolutionStatus: models.ResolutionPending,
		Details:          fmt.Sprintf("registration %s never appeared (expired %s)", link.RegistrationID, link.ExpiresAt.Format(time.RFC3339)),
	}
	if payment, err := l.repos.Payment.GetByID(ctx, link.PaymentID); err == nil {
		record.Currency = payment.Currency
		record.ExpectedAmount = models.Int64Ptr(payment.TotalMoney)
	}
	if err := l.repos.Reconciliation.Create(ctx, record); err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("flag payment %s: %w", link.SquarePaymentID, err)
	}

	link.Status = models.PendingLinkStatusFlagged
	if err := l.repos.PendingLink.Save(ctx, link); err != nil {
		return fmt.Errorf("save link %d: %w", link.ID, err)
	}
	log.Warnf("[Linker] Payment %s flagged: registration %s missing after %s", link.SquarePaymentID, link.RegistrationID, l.ttl)
	return nil
}
