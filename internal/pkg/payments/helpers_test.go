package payments

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository/memrepo"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu    sync.Mutex
	calls []models.Payment
}

func (o *recordingObserver) OnPaymentStatusChanged(_ context.Context, p *models.Payment) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, *p)
	return nil
}

func newTestProcessors(t *testing.T) (*Processors, *memrepo.Store, *recordingObserver) {
	t.Helper()
	store := memrepo.New()
	obs := &recordingObserver{}
	procs := NewProcessors(store.Repositories(), obs)
	fixed := func() time.Time { return t0 }
	procs.Payment.now = fixed
	procs.Refund.now = fixed
	procs.Customer.now = fixed
	procs.Dispute.now = fixed
	return procs, store, obs
}

func remotePayment(id, status string, updated time.Time, amount, tip int64) square.Payment {
	return square.Payment{
		ID:          id,
		CreatedAt:   t0,
		UpdatedAt:   updated,
		AmountMoney: &square.Money{Amount: amount, Currency: "USD"},
		TipMoney:    &square.Money{Amount: tip, Currency: "USD"},
		Status:      status,
		SourceType:  "CARD",
		LocationID:  "L1",
		ReferenceID: "reg-1",
	}
}

func paymentEvent(eventID string, p square.Payment) *webhook.PaymentEvent {
	return &webhook.PaymentEvent{
		Envelope: webhook.Envelope{Type: webhook.EventPaymentUpdated, EventID: eventID, CreatedAt: p.UpdatedAt},
		Payment:  p,
	}
}

func refundEvent(eventID, refundID, paymentID, status string, updated time.Time, amount int64) *webhook.RefundEvent {
	return &webhook.RefundEvent{
		Envelope: webhook.Envelope{Type: webhook.EventRefundUpdated, EventID: eventID},
		Refund: square.Refund{
			ID:          refundID,
			Status:      status,
			AmountMoney: square.Money{Amount: amount, Currency: "USD"},
			PaymentID:   paymentID,
			CreatedAt:   t0,
			UpdatedAt:   updated,
		},
	}
}

func customerEvent(eventID, customerID, email string, version int64) *webhook.CustomerEvent {
	return &webhook.CustomerEvent{
		Envelope: webhook.Envelope{Type: webhook.EventCustomerUpdated, EventID: eventID},
		Customer: square.Customer{ID: customerID, EmailAddress: email, GivenName: "Ada", Version: version},
	}
}

// rawEvent renders a Square-shaped webhook body
func rawEvent(t *testing.T, eventType webhook.EventType, eventID, objectKey string, object interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"merchant_id": "M1",
		"type":        eventType,
		"event_id":    eventID,
		"created_at":  t0.Format(time.RFC3339),
		"data": map[string]interface{}{
			"type":   objectKey,
			"object": map[string]interface{}{objectKey: object},
		},
	})
	require.NoError(t, err)
	return body
}
