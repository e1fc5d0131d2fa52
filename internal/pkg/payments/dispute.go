package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// DisputeProcessor handles dispute.created and dispute.state.updated. Each
// dispute owns one reconciliation record that only a human resolves.
type DisputeProcessor struct {
	repos *repository.Repositories
	now   func() time.Time
}

// DisputeRecordKey is the idempotency key of a dispute's reconciliation record
func DisputeRecordKey(disputeID string) string {
	return "dispute:" + disputeID
}

func (p *DisputeProcessor) Process(ctx context.Context, event webhook.Event) Result {
	de, ok := event.(*webhook.DisputeEvent)
	if !ok {
		return failed(KindValidation, fmt.Errorf("dispute processor got %T", event))
	}
	d := &de.Dispute
	disputeID := d.Identifier()
	if disputeID == "" {
		return failed(KindValidation, fmt.Errorf("dispute without id"))
	}
	paymentID := d.PaymentID()
	if paymentID == "" {
		return failed(KindValidation, fmt.Errorf("dispute %s has no disputed payment", disputeID))
	}

	payment, err := p.repos.Payment.GetBySquareID(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return failed(KindNotFound, fmt.Errorf("dispute %s: payment %s: %w", disputeID, paymentID, ErrUnknownPayment))
		}
		return storeFailure("load payment", err)
	}

	if !payment.Disputed || payment.DisputeID != disputeID {
		payment.Disputed = true
		payment.DisputeID = disputeID
		if err := p.repos.Payment.UpdateVersioned(ctx, payment); err != nil {
			return storeFailure("flag payment disputed", err)
		}
	}

	entry := p.detailLine(d)
	record, err := p.repos.Reconciliation.GetByKey(ctx, DisputeRecordKey(disputeID))
	if err != nil && !isNotFound(err) {
		return storeFailure("load dispute record", err)
	}
	if record == nil {
		record = &models.ReconciliationRecord{
			RecordKey:        DisputeRecordKey(disputeID),
			Type:             models.ReconTypeDispute,
			Status:           models.ReconStatusUnmatched,
			DiscrepancyType:  models.DiscrepancyDispute,
			PaymentID:        &payment.ID,
			SquarePaymentID:  payment.SquarePaymentID,
			ReferenceID:      disputeID,
			Currency:         payment.Currency,
			ResolutionStatus: models.ResolutionPending,
			Details:          entry,
		}
		if d.AmountMoney != nil {
			record.ExpectedAmount = models.Int64Ptr(d.AmountMoney.Amount)
		}
		if err := p.repos.Reconciliation.Create(ctx, record); err != nil {
			return storeFailure("create dispute record", err)
		}
		metrics.ReconciliationRecord(ctx, record.Status, record.DiscrepancyType)
		log.Warnf("[Payments] Dispute %s opened on payment %s (%s)", disputeID, paymentID, d.State)
		return applied()
	}

	if strings.Contains(record.Details, entry) {
		return skipped(KindNone, "dispute %s state %s already recorded", disputeID, d.State)
	}
	if record.Details != "" {
		record.Details += "\n"
	}
	record.Details += entry
	if err := p.repos.Reconciliation.Save(ctx, record); err != nil {
		return storeFailure("update dispute record", err)
	}
	log.Infof("[Payments] Dispute %s state is now %s", disputeID, d.State)
	return applied()
}

func (p *DisputeProcessor) detailLine(d *square.Dispute) string {
	at := d.UpdatedAt
	if at.IsZero() {
		at = p.now()
	}
	return fmt.Sprintf("%s state=%s reason=%s", at.UTC().Format(time.RFC3339), d.State, d.Reason)
}
