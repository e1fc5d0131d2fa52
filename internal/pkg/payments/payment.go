package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
)

// MapPaymentStatus maps a Square payment status onto the local lattice
func MapPaymentStatus(remote string) (string, bool) {
	switch strings.ToUpper(remote) {
	case square.PaymentApproved, square.PaymentPending:
		return models.PaymentStatusPending, true
	case square.PaymentCompleted:
		return models.PaymentStatusCompleted, true
	case square.PaymentCanceled:
		return models.PaymentStatusCanceled, true
	case square.PaymentFailed:
		return models.PaymentStatusFailed, true
	default:
		return "", false
	}
}

// PaymentProcessor handles payment.created and payment.updated
type PaymentProcessor struct {
	repos    *repository.Repositories
	observer PaymentObserver
	now      func() time.Time
}

func (p *PaymentProcessor) Process(ctx context.Context, event webhook.Event) Result {
	pe, ok := event.(*webhook.PaymentEvent)
	if !ok {
		return failed(KindValidation, fmt.Errorf("payment processor got %T", event))
	}
	return p.Apply(ctx, &pe.Payment)
}

// Apply writes remote onto the local ledger. It is shared by the webhook path
// and checkout, so both converge on the same row.
func (p *PaymentProcessor) Apply(ctx context.Context, remote *square.Payment) Result {
	status, ok := MapPaymentStatus(remote.Status)
	if !ok {
		return failed(KindValidation, fmt.Errorf("payment %s has unknown status %q", remote.ID, remote.Status))
	}

	incoming, err := p.fromRemote(ctx, remote, status)
	if err != nil {
		return failed(KindDataIntegrity, err)
	}

	existing, err := p.repos.Payment.GetBySquareID(ctx, remote.ID)
	if err != nil && !isNotFound(err) {
		return storeFailure("load payment", err)
	}

	if existing == nil {
		if err := p.repos.Payment.Create(ctx, incoming); err != nil {
			return storeFailure("create payment", err)
		}
		log.Infof("[Payments] Created payment %s (%s, total %d %s)", incoming.SquarePaymentID, incoming.Status, incoming.TotalMoney, incoming.Currency)
		p.notify(ctx, incoming)
		return applied()
	}

	if existing.RemoteUpdatedAt != nil && incoming.RemoteUpdatedAt != nil && !incoming.RemoteUpdatedAt.After(*existing.RemoteUpdatedAt) {
		return skipped(KindNone, "stale payment event for %s (remote updated_at %s not after %s)",
			remote.ID, incoming.RemoteUpdatedAt.Format(time.RFC3339Nano), existing.RemoteUpdatedAt.Format(time.RFC3339Nano))
	}
	if existing.IsTerminal() && incoming.Status != existing.Status {
		log.Warnf("[Payments] Rejected status change %s -> %s for payment %s", existing.Status, incoming.Status, remote.ID)
		return skipped(KindDataIntegrity, "illegal status transition %s -> %s for payment %s", existing.Status, incoming.Status, remote.ID)
	}

	statusChanged := existing.Status != incoming.Status
	merged := mergePayment(existing, incoming)
	if err := p.repos.Payment.UpdateVersioned(ctx, merged); err != nil {
		return storeFailure("update payment", err)
	}
	if statusChanged {
		log.Infof("[Payments] Payment %s moved %s -> %s", merged.SquarePaymentID, existing.Status, merged.Status)
		p.notify(ctx, merged)
	}
	return applied()
}

func (p *PaymentProcessor) notify(ctx context.Context, payment *models.Payment) {
	if p.observer == nil || payment.RegistrationID == nil {
		return
	}
	if err := p.observer.OnPaymentStatusChanged(ctx, payment); err != nil {
		log.Warnf("[Payments] Registration update for payment %s failed: %v", payment.SquarePaymentID, err)
	}
}

func (p *PaymentProcessor) fromRemote(ctx context.Context, remote *square.Payment, status string) (*models.Payment, error) {
	amount := square.AmountOf(remote.AmountMoney)
	tip := square.AmountOf(remote.TipMoney)
	total := amount + tip
	if remote.TotalMoney != nil && remote.TotalMoney.Amount != total {
		return nil, fmt.Errorf("payment %s total %d contradicts amount %d + tip %d", remote.ID, remote.TotalMoney.Amount, amount, tip)
	}

	currency := "USD"
	if remote.AmountMoney != nil && remote.AmountMoney.Currency != "" {
		currency = remote.AmountMoney.Currency
	}
	now := p.now()

	pay := &models.Payment{
		SquarePaymentID: remote.ID,
		OrderID:         remote.OrderID,
		LocationID:      remote.LocationID,
		AmountMoney:     amount,
		TipMoney:        tip,
		TotalMoney:      total,
		RefundedMoney:   square.AmountOf(remote.RefundedMoney),
		Currency:        currency,
		SourceType:      remote.SourceType,
		Status:          status,
		ProcessingFee:   remote.TotalFee(),
		ReceiptNumber:   remote.ReceiptNumber,
		ReceiptURL:      remote.ReceiptURL,
		RemoteCreatedAt: timePtr(remote.CreatedAt),
		RemoteUpdatedAt: timePtr(remote.UpdatedAt),
		SyncStatus:      models.SyncStatusSynced,
		SyncedAt:        &now,
	}
	if cd := remote.CardDetails; cd != nil {
		pay.CardBrand = cd.Card.CardBrand
		pay.CardLast4 = cd.Card.Last4
		pay.CardExpMonth = cd.Card.ExpMonth
		pay.CardExpYear = cd.Card.ExpYear
		pay.CardFingerprint = cd.Card.Fingerprint
	}
	if len(remote.RiskEvaluation) > 0 {
		if b, err := json.Marshal(remote.RiskEvaluation); err == nil {
			pay.RiskEvaluation = string(b)
		}
	}
	if len(remote.VerificationResults) > 0 {
		if b, err := json.Marshal(remote.VerificationResults); err == nil {
			pay.VerificationResults = string(b)
		}
	}
	if ref := strings.TrimSpace(remote.ReferenceID); ref != "" {
		pay.RegistrationID = &ref
	}
	pay.CustomerID = p.resolveCustomer(ctx, remote)
	return pay, pay.CheckAmounts()
}

func (p *PaymentProcessor) resolveCustomer(ctx context.Context, remote *square.Payment) *uint {
	if remote.CustomerID != "" {
		c, err := p.repos.Customer.GetBySquareID(ctx, remote.CustomerID)
		if err == nil && !c.DeletedAt.Valid {
			return &c.ID
		}
		if err != nil && !isNotFound(err) {
			log.Warnf("[Payments] Customer lookup %s failed: %v", remote.CustomerID, err)
		}
	}
	if remote.BuyerEmailAddress != "" {
		c, err := p.repos.Customer.GetByEmail(ctx, remote.BuyerEmailAddress)
		if err == nil && !c.DeletedAt.Valid {
			return &c.ID
		}
	}
	return nil
}

// mergePayment copies the remote-owned columns of incoming onto existing and
// keeps local ones (id, version, links already set, dispute flags).
func mergePayment(existing, incoming *models.Payment) *models.Payment {
	out := *existing
	out.OrderID = incoming.OrderID
	out.LocationID = incoming.LocationID
	out.AmountMoney = incoming.AmountMoney
	out.TipMoney = incoming.TipMoney
	out.TotalMoney = incoming.TotalMoney
	out.Currency = incoming.Currency
	out.SourceType = incoming.SourceType
	out.Status = incoming.Status
	out.ProcessingFee = incoming.ProcessingFee
	out.RemoteUpdatedAt = incoming.RemoteUpdatedAt
	out.SyncStatus = incoming.SyncStatus
	out.SyncedAt = incoming.SyncedAt
	if incoming.RemoteCreatedAt != nil {
		out.RemoteCreatedAt = incoming.RemoteCreatedAt
	}
	if incoming.CardBrand != "" {
		out.CardBrand = incoming.CardBrand
		out.CardLast4 = incoming.CardLast4
		out.CardExpMonth = incoming.CardExpMonth
		out.CardExpYear = incoming.CardExpYear
		out.CardFingerprint = incoming.CardFingerprint
	}
	if incoming.RiskEvaluation != "" {
		out.RiskEvaluation = incoming.RiskEvaluation
	}
	if incoming.VerificationResults != "" {
		out.VerificationResults = incoming.VerificationResults
	}
	if incoming.ReceiptNumber != "" {
		out.ReceiptNumber = incoming.ReceiptNumber
		out.ReceiptURL = incoming.ReceiptURL
	}
	if out.CustomerID == nil {
		out.CustomerID = incoming.CustomerID
	}
	if out.RegistrationID == nil {
		out.RegistrationID = incoming.RegistrationID
	}
	// refunded_money is owned by the refund processor
	return &out
}

// ErrUnknownPayment is returned when an event references a payment not in the ledger
var ErrUnknownPayment = errors.New("payment not in local ledger")
