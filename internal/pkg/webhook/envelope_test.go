package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventPerType(t *testing.T) {
	t.Run("payment", func(t *testing.T) {
		ev, err := ParseEvent(paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 7000, 500))
		require.NoError(t, err)
		pe, ok := ev.(*PaymentEvent)
		require.True(t, ok)
		assert.Equal(t, EventPaymentUpdated, pe.Meta().Type)
		assert.Equal(t, "evt-1", pe.Meta().EventID)
		assert.Equal(t, "pay-1", pe.Payment.ID)
		assert.Equal(t, int64(7500), pe.Payment.TotalMoney.Amount)
		assert.Equal(t, "VISA", pe.Payment.CardDetails.Card.CardBrand)
	})

	t.Run("refund", func(t *testing.T) {
		ev, err := ParseEvent([]byte(refundPayload))
		require.NoError(t, err)
		re, ok := ev.(*RefundEvent)
		require.True(t, ok)
		assert.Equal(t, "pay-1", re.Refund.PaymentID)
		assert.Equal(t, int64(2500), re.Refund.AmountMoney.Amount)
	})

	t.Run("customer deleted", func(t *testing.T) {
		ev, err := ParseEvent([]byte(customerDeletedPayload))
		require.NoError(t, err)
		ce, ok := ev.(*CustomerEvent)
		require.True(t, ok)
		assert.True(t, ce.Deleted)
		assert.Equal(t, "cust-1", ce.Customer.ID)
		assert.Equal(t, int64(4), ce.Customer.Version)
	})

	t.Run("dispute", func(t *testing.T) {
		ev, err := ParseEvent([]byte(disputePayload))
		require.NoError(t, err)
		de, ok := ev.(*DisputeEvent)
		require.True(t, ok)
		assert.Equal(t, "dp-1", de.Dispute.Identifier())
		assert.Equal(t, "pay-1", de.Dispute.PaymentID())
	})
}

func TestParseEventRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		target  error
	}{
		{"not json", `not json`, ErrInvalidPayload},
		{"missing data", `{"type":"payment.created","event_id":"e"}`, ErrInvalidPayload},
		{"bad type format", `{"type":"Payment","data":{"object":{}}}`, ErrInvalidPayload},
		{"unknown type", `{"type":"invoice.created","event_id":"e","data":{"object":{"invoice":{}}}}`, ErrUnknownEventType},
		{"missing object", `{"type":"payment.created","event_id":"e","data":{"object":{}}}`, ErrInvalidPayload},
		{"payment without id", `{"type":"payment.created","data":{"object":{"payment":{"status":"COMPLETED","amount_money":{"amount":1}}}}}`, ErrInvalidPayload},
		{"payment bad status", `{"type":"payment.created","data":{"object":{"payment":{"id":"p","status":"WEIRD","amount_money":{"amount":1}}}}}`, ErrInvalidPayload},
		{"payment negative amount", `{"type":"payment.created","data":{"object":{"payment":{"id":"p","status":"COMPLETED","amount_money":{"amount":-5}}}}}`, ErrInvalidPayload},
		{"refund bad status", `{"type":"refund.created","data":{"object":{"refund":{"id":"r","payment_id":"p","status":"DONE"}}}}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestCanonicalIDStableAcrossFormatting(t *testing.T) {
	a := []byte(`{"type":"payment.created","data":{"object":{"payment":{"id":"p1","amount_money":{"amount":100,"currency":"USD"}}}}}`)
	b := []byte(`{
		"data": {"object": {"payment": {"amount_money": {"currency": "USD", "amount": 100}, "id": "p1"}}},
		"type": "payment.created"
	}`)
	c := []byte(`{"type":"payment.created","data":{"object":{"payment":{"id":"p2","amount_money":{"amount":100,"currency":"USD"}}}}}`)

	idA, err := CanonicalID(a)
	require.NoError(t, err)
	idB, err := CanonicalID(b)
	require.NoError(t, err)
	idC, err := CanonicalID(c)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(idA, "jcs:"))
	assert.Equal(t, idA, idB)
	assert.NotEqual(t, idA, idC)

	_, err = CanonicalID([]byte(`{broken`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEveryKnownTypeHasCategoryAndPriority(t *testing.T) {
	for _, et := range KnownEventTypes() {
		assert.NotEmpty(t, et.Category(), et)
		assert.True(t, PriorityFor(et).Valid(), et)
	}
	assert.False(t, EventType("invoice.created").Known())
}
