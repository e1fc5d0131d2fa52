package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// MapRefundStatus maps a Square refund status onto the local lattice
func MapRefundStatus(remote string) (string, bool) {
	switch strings.ToUpper(remote) {
	case square.RefundPending:
		return models.RefundStatusPending, true
	case square.RefundCompleted:
		return models.RefundStatusCompleted, true
	case square.RefundFailed:
		return models.RefundStatusFailed, true
	case square.RefundRejected:
		return models.RefundStatusRejected, true
	default:
		return "", false
	}
}

// RefundProcessor handles refund.created and refund.updated
type RefundProcessor struct {
	repos *repository.Repositories
	now   func() time.Time
}

func (p *RefundProcessor) Process(ctx context.Context, event webhook.Event) Result {
	re, ok := event.(*webhook.RefundEvent)
	if !ok {
		return failed(KindValidation, fmt.Errorf("refund processor got %T", event))
	}
	remote := &re.Refund

	status, ok := MapRefundStatus(remote.Status)
	if !ok {
		return failed(KindValidation, fmt.Errorf("refund %s has unknown status %q", remote.ID, remote.Status))
	}

	payment, err := p.repos.Payment.GetBySquareID(ctx, remote.PaymentID)
	if err != nil {
		if isNotFound(err) {
			// the payment event may still be in flight
			return failed(KindTransient, fmt.Errorf("refund %s: payment %s: %w", remote.ID, remote.PaymentID, ErrUnknownPayment))
		}
		return storeFailure("load payment", err)
	}

	existing, err := p.repos.Refund.GetBySquareID(ctx, remote.ID)
	if err != nil && !isNotFound(err) {
		return storeFailure("load refund", err)
	}
	remoteUpdated := timePtr(remote.UpdatedAt)
	if existing != nil {
		if existing.IsTerminal() && existing.Status != status {
			log.Warnf("[Payments] Rejected refund status change %s -> %s for %s", existing.Status, status, remote.ID)
			return skipped(KindDataIntegrity, "illegal refund transition %s -> %s for %s", existing.Status, status, remote.ID)
		}
		if existing.RemoteUpdatedAt != nil && remoteUpdated != nil && !remoteUpdated.After(*existing.RemoteUpdatedAt) {
			return skipped(KindNone, "stale refund event for %s", remote.ID)
		}
	}

	refunds, err := p.repos.Refund.ListByPaymentID(ctx, payment.ID)
	if err != nil {
		return storeFailure("list refunds", err)
	}
	var refunded int64
	for _, r := range refunds {
		if r.SquareRefundID != remote.ID && r.Status == models.RefundStatusCompleted {
			refunded += r.AmountMoney
		}
	}
	if status == models.RefundStatusCompleted {
		refunded += remote.AmountMoney.Amount
	}

	if refunded > payment.TotalMoney {
		p.recordOverflow(ctx, payment, remote, refunded)
		return failed(KindDataIntegrity, fmt.Errorf("refund %s would raise refunded total of payment %s to %d above %d",
			remote.ID, payment.SquarePaymentID, refunded, payment.TotalMoney))
	}

	// payment first: a lost version race retries the whole event and the
	// refund row is only written once the parent total is settled
	if payment.RefundedMoney != refunded {
		payment.RefundedMoney = refunded
		if err := p.repos.Payment.UpdateVersioned(ctx, payment); err != nil {
			return storeFailure("update refunded total", err)
		}
	}

	row := &models.Refund{
		SquareRefundID:  remote.ID,
		PaymentID:       payment.ID,
		SquarePaymentID: payment.SquarePaymentID,
		AmountMoney:     remote.AmountMoney.Amount,
		Currency:        remote.AmountMoney.Currency,
		Reason:          remote.Reason,
		Status:          status,
		ProcessingFee:   feeTotal(remote.ProcessingFee),
		RemoteCreatedAt: timePtr(remote.CreatedAt),
		RemoteUpdatedAt: remoteUpdated,
	}
	if row.Currency == "" {
		row.Currency = payment.Currency
	}
	if existing == nil {
		if err := p.repos.Refund.Create(ctx, row); err != nil {
			return storeFailure("create refund", err)
		}
	} else {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if err := p.repos.Refund.Update(ctx, row); err != nil {
			return storeFailure("update refund", err)
		}
	}
	log.Infof("[Payments] Refund %s for payment %s is %s (refunded total %d)", remote.ID, payment.SquarePaymentID, status, refunded)
	return applied()
}

func (p *RefundProcessor) recordOverflow(ctx context.Context, payment *models.Payment, remote *square.Refund, refunded int64) {
	now := p.now()
	record := &models.ReconciliationRecord{
		RecordKey:        "refund:" + remote.ID + ":overflow",
		Type:             models.ReconTypeRefund,
		Status:           models.ReconStatusDiscrepancy,
		DiscrepancyType:  models.DiscrepancyRefundOverflow,
		PaymentID:        &payment.ID,
		SquarePaymentID:  payment.SquarePaymentID,
		ReferenceID:      remote.ID,
		Currency:         payment.Currency,
		ExpectedAmount:   models.Int64Ptr(payment.TotalMoney),
		ActualAmount:     models.Int64Ptr(refunded),
		ResolutionStatus: models.ResolutionPending,
		Details:          fmt.Sprintf("refund %s of %d rejected at %s", remote.ID, remote.AmountMoney.Amount, now.Format(time.RFC3339)),
	}
	if err := p.repos.Reconciliation.Create(ctx, record); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Errorf("[Payments] Failed to record refund overflow for %s: %v", remote.ID, err)
		}
		return
	}
	metrics.ReconciliationRecord(ctx, record.Status, record.DiscrepancyType)
}

func feeTotal(fees []square.ProcessingFee) int64 {
	var total int64
	for _, f := range fees {
		total += f.AmountMoney.Amount
	}
	return total
}
