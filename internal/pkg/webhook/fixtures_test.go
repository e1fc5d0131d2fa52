package webhook

import "fmt"

func paymentPayload(eventID, paymentID, status, updatedAt string, amount, tip int64) []byte {
	return []byte(fmt.Sprintf(`{
  "merchant_id": "M1",
  "location_id": "L1",
  "type": "payment.updated",
  "event_id": %q,
  "created_at": "2026-05-01T12:00:00Z",
  "data": {
    "type": "payment",
    "id": %q,
    "object": {
      "payment": {
        "id": %q,
        "created_at": "2026-05-01T11:59:00Z",
        "updated_at": %q,
        "amount_money": {"amount": %d, "currency": "USD"},
        "tip_money": {"amount": %d, "currency": "USD"},
        "total_money": {"amount": %d, "currency": "USD"},
        "status": %q,
        "source_type": "CARD",
        "card_details": {"status": "CAPTURED", "card": {"card_brand": "VISA", "last_4": "1111", "exp_month": 12, "exp_year": 2030}},
        "location_id": "L1",
        "reference_id": "reg-1",
        "receipt_number": "R123",
        "receipt_url": "https://squareup.com/receipt/preview/R123"
      }
    }
  }
}`, eventID, paymentID, paymentID, updatedAt, amount, tip, amount+tip, status))
}

const refundPayload = `{
  "merchant_id": "M1",
  "type": "refund.created",
  "event_id": "evt-refund-1",
  "created_at": "2026-05-01T12:00:00Z",
  "data": {
    "type": "refund",
    "id": "rf-1",
    "object": {
      "refund": {
        "id": "rf-1",
        "status": "PENDING",
        "amount_money": {"amount": 2500, "currency": "USD"},
        "payment_id": "pay-1",
        "reason": "duplicate",
        "created_at": "2026-05-01T12:00:00Z",
        "updated_at": "2026-05-01T12:00:00Z"
      }
    }
  }
}`

const customerDeletedPayload = `{
  "merchant_id": "M1",
  "type": "customer.deleted",
  "event_id": "evt-cust-del",
  "created_at": "2026-05-01T12:00:00Z",
  "data": {
    "type": "customer",
    "id": "cust-1",
    "deleted": true,
    "object": {
      "customer": {
        "id": "cust-1",
        "email_address": "Buyer@Example.org",
        "version": 4
      }
    }
  }
}`

const disputePayload = `{
  "merchant_id": "M1",
  "type": "dispute.created",
  "event_id": "evt-dispute-1",
  "created_at": "2026-05-01T12:00:00Z",
  "data": {
    "type": "dispute",
    "id": "dp-1",
    "object": {
      "dispute": {
        "dispute_id": "dp-1",
        "amount_money": {"amount": 7500, "currency": "USD"},
        "reason": "NOT_AS_DESCRIBED",
        "state": "EVIDENCE_REQUIRED",
        "disputed_payment": {"payment_id": "pay-1"},
        "created_at": "2026-05-01T12:00:00Z",
        "updated_at": "2026-05-01T12:00:00Z"
      }
    }
  }
}`
