package payments

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCoversKnownTypes(t *testing.T) {
	procs, _, _ := newTestProcessors(t)
	reg := procs.Registry()
	for _, et := range webhook.KnownEventTypes() {
		p, ok := reg.Lookup(et)
		assert.True(t, ok, "no processor for %s", et)
		assert.NotNil(t, p)
	}
	_, ok := reg.Lookup("invoice.created")
	assert.False(t, ok)
}

func TestMapPaymentStatus(t *testing.T) {
	tests := map[string]string{
		"APPROVED":  models.PaymentStatusPending,
		"PENDING":   models.PaymentStatusPending,
		"COMPLETED": models.PaymentStatusCompleted,
		"CANCELED":  models.PaymentStatusCanceled,
		"FAILED":    models.PaymentStatusFailed,
	}
	for remote, want := range tests {
		got, ok := MapPaymentStatus(remote)
		assert.True(t, ok, remote)
		assert.Equal(t, want, got, remote)
	}
	_, ok := MapPaymentStatus("VOIDED")
	assert.False(t, ok)
}

func TestPaymentCreateAndDuplicateIsNoop(t *testing.T) {
	procs, store, obs := newTestProcessors(t)
	ctx := context.Background()
	ev := paymentEvent("evt-1", remotePayment("pay-1", square.PaymentCompleted, t0, 7000, 500))

	res := procs.Payment.Process(ctx, ev)
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)

	res = procs.Payment.Process(ctx, ev)
	require.NoError(t, res.Err)
	assert.False(t, res.Applied)
	assert.Contains(t, res.Note, "stale")

	all := store.AllPayments()
	require.Len(t, all, 1)
	p := all[0]
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, int64(7500), p.TotalMoney)
	assert.Equal(t, models.SyncStatusSynced, p.SyncStatus)
	require.NotNil(t, p.RegistrationID)
	assert.Equal(t, "reg-1", *p.RegistrationID)
	assert.Len(t, obs.calls, 1)
}

func TestPaymentOutOfOrderConvergence(t *testing.T) {
	created := remotePayment("pay-1", square.PaymentApproved, t0, 7000, 0)
	completed := remotePayment("pay-1", square.PaymentCompleted, t0.Add(time.Minute), 7000, 0)

	orders := map[string][]square.Payment{
		"in order":     {created, completed},
		"out of order": {completed, created},
	}
	for name, seq := range orders {
		t.Run(name, func(t *testing.T) {
			procs, store, _ := newTestProcessors(t)
			for i, p := range seq {
				res := procs.Payment.Process(context.Background(), paymentEvent("evt", p))
				require.NoError(t, res.Err, "event %d", i)
			}
			all := store.AllPayments()
			require.Len(t, all, 1)
			assert.Equal(t, models.PaymentStatusCompleted, all[0].Status)
			assert.Equal(t, t0.Add(time.Minute), *all[0].RemoteUpdatedAt)
		})
	}
}

func TestPaymentRejectsTerminalRegression(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()

	require.True(t, procs.Payment.Process(ctx, paymentEvent("e1", remotePayment("pay-1", square.PaymentCompleted, t0, 100, 0))).Applied)
	res := procs.Payment.Process(ctx, paymentEvent("e2", remotePayment("pay-1", square.PaymentFailed, t0.Add(time.Minute), 100, 0)))

	require.NoError(t, res.Err)
	assert.False(t, res.Applied)
	assert.Equal(t, KindDataIntegrity, res.Kind)
	assert.Equal(t, models.PaymentStatusCompleted, store.AllPayments()[0].Status)
}

func TestPaymentTotals(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()

	bad := remotePayment("pay-bad", square.PaymentCompleted, t0, 1000, 100)
	bad.TotalMoney = &square.Money{Amount: 1000, Currency: "USD"}
	res := procs.Payment.Process(ctx, paymentEvent("e1", bad))
	require.Error(t, res.Err)
	assert.Equal(t, KindDataIntegrity, res.Kind)
	assert.False(t, res.Kind.Retryable())

	derived := remotePayment("pay-ok", square.PaymentCompleted, t0, 1000, 100)
	derived.TotalMoney = nil
	res = procs.Payment.Process(ctx, paymentEvent("e2", derived))
	require.NoError(t, res.Err)

	all := store.AllPayments()
	require.Len(t, all, 1)
	assert.Equal(t, int64(1100), all[0].TotalMoney)
}

func TestPaymentLinksKnownCustomer(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()
	require.True(t, procs.Customer.Process(ctx, customerEvent("c", "cust-1", "ada@example.org", 1)).Applied)

	p := remotePayment("pay-1", square.PaymentCompleted, t0, 100, 0)
	p.CustomerID = "cust-1"
	require.True(t, procs.Payment.Process(ctx, paymentEvent("e", p)).Applied)

	pay := store.AllPayments()[0]
	require.NotNil(t, pay.CustomerID)
	assert.Equal(t, store.AllCustomers()[0].ID, *pay.CustomerID)
}

func TestRefundWaitsForPayment(t *testing.T) {
	procs, _, _ := newTestProcessors(t)
	res := procs.Refund.Process(context.Background(), refundEvent("r", "rf-1", "pay-unknown", square.RefundCompleted, t0, 100))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, ErrUnknownPayment)
	assert.Equal(t, KindTransient, res.Kind)
	assert.True(t, res.Kind.Retryable())
}

func TestRefundLifecycleUpdatesRefundedTotal(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()
	require.True(t, procs.Payment.Process(ctx, paymentEvent("p", remotePayment("pay-1", square.PaymentCompleted, t0, 7000, 500))).Applied)

	res := procs.Refund.Process(ctx, refundEvent("r1", "rf-1", "pay-1", square.RefundPending, t0, 2500))
	require.NoError(t, res.Err)
	assert.Equal(t, int64(0), store.AllPayments()[0].RefundedMoney)

	res = procs.Refund.Process(ctx, refundEvent("r2", "rf-1", "pay-1", square.RefundCompleted, t0.Add(time.Minute), 2500))
	require.NoError(t, res.Err)
	assert.True(t, res.Applied)
	assert.Equal(t, int64(2500), store.AllPayments()[0].RefundedMoney)

	// replaying the completion changes nothing
	res = procs.Refund.Process(ctx, refundEvent("r2", "rf-1", "pay-1", square.RefundCompleted, t0.Add(time.Minute), 2500))
	require.NoError(t, res.Err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(2500), store.AllPayments()[0].RefundedMoney)

	// a completed refund never reverts
	res = procs.Refund.Process(ctx, refundEvent("r3", "rf-1", "pay-1", square.RefundFailed, t0.Add(2*time.Minute), 2500))
	require.NoError(t, res.Err)
	assert.Equal(t, KindDataIntegrity, res.Kind)

	refunds, err := store.Repositories().Refund.ListByPaymentID(ctx, store.AllPayments()[0].ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, models.RefundStatusCompleted, refunds[0].Status)
}

func TestRefundOverflowIsRejectedAndRecorded(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()
	require.True(t, procs.Payment.Process(ctx, paymentEvent("p", remotePayment("pay-1", square.PaymentCompleted, t0, 5000, 0))).Applied)
	require.True(t, procs.Refund.Process(ctx, refundEvent("r1", "rf-1", "pay-1", square.RefundCompleted, t0, 4000)).Applied)

	res := procs.Refund.Process(ctx, refundEvent("r2", "rf-2", "pay-1", square.RefundCompleted, t0, 1500))
	require.Error(t, res.Err)
	assert.Equal(t, KindDataIntegrity, res.Kind)
	assert.Equal(t, int64(4000), store.AllPayments()[0].RefundedMoney)

	records := store.AllRecords()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, models.ReconTypeRefund, rec.Type)
	assert.Equal(t, models.DiscrepancyRefundOverflow, rec.DiscrepancyType)
	assert.Equal(t, models.ReconStatusDiscrepancy, rec.Status)
	require.NotNil(t, rec.DifferenceAmount)
	assert.Equal(t, int64(500), *rec.DifferenceAmount)

	// retried overflow does not duplicate the record
	procs.Refund.Process(ctx, refundEvent("r2", "rf-2", "pay-1", square.RefundCompleted, t0, 1500))
	assert.Len(t, store.AllRecords(), 1)
}

func TestCustomerDedupByEmail(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()

	require.True(t, procs.Customer.Process(ctx, customerEvent("e1", "C1", "Buyer@Example.org", 1)).Applied)
	require.True(t, procs.Customer.Process(ctx, customerEvent("e2", "C2", "buyer@example.org ", 1)).Applied)

	all := store.AllCustomers()
	require.Len(t, all, 1)
	assert.Equal(t, "C2", all[0].SquareCustomerID)
	assert.Equal(t, "buyer@example.org", all[0].EmailAddress())
}

func TestCustomerVersionGate(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()

	require.True(t, procs.Customer.Process(ctx, customerEvent("e1", "C1", "a@example.org", 3)).Applied)
	older := customerEvent("e2", "C1", "a@example.org", 2)
	older.Customer.GivenName = "Old"
	res := procs.Customer.Process(ctx, older)
	require.NoError(t, res.Err)
	assert.False(t, res.Applied)

	newer := customerEvent("e3", "C1", "a@example.org", 4)
	newer.Customer.GivenName = "Grace"
	require.True(t, procs.Customer.Process(ctx, newer).Applied)
	assert.Equal(t, "Grace", store.AllCustomers()[0].GivenName)
	assert.Equal(t, int64(4), store.AllCustomers()[0].RemoteVersion)
}

func TestCustomerDeleteIsSoft(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()
	require.True(t, procs.Customer.Process(ctx, customerEvent("e1", "C1", "a@example.org", 1)).Applied)

	del := customerEvent("e2", "C1", "a@example.org", 2)
	del.Deleted = true
	require.True(t, procs.Customer.Process(ctx, del).Applied)

	all := store.AllCustomers()
	require.Len(t, all, 1)
	assert.True(t, all[0].DeletedAt.Valid)

	res := procs.Customer.Process(ctx, del)
	assert.False(t, res.Applied)

	unknown := customerEvent("e3", "C9", "", 1)
	unknown.Deleted = true
	res = procs.Customer.Process(ctx, unknown)
	require.NoError(t, res.Err)
	assert.False(t, res.Applied)
}

func TestDisputeOpensRecordAndAppendsState(t *testing.T) {
	procs, store, _ := newTestProcessors(t)
	ctx := context.Background()
	require.True(t, procs.Payment.Process(ctx, paymentEvent("p", remotePayment("pay-1", square.PaymentCompleted, t0, 7500, 0))).Applied)

	dispute := func(state string, at time.Time) *webhook.DisputeEvent {
		return &webhook.DisputeEvent{
			Envelope: webhook.Envelope{Type: webhook.EventDisputeStateUpdated},
			Dispute: square.Dispute{
				DisputeID:       "dp-1",
				AmountMoney:     &square.Money{Amount: 7500, Currency: "USD"},
				State:           state,
				Reason:          "NOT_AS_DESCRIBED",
				DisputedPayment: &square.DisputedPayment{PaymentID: "pay-1"},
				UpdatedAt:       at,
			},
		}
	}

	require.True(t, procs.Dispute.Process(ctx, dispute("EVIDENCE_REQUIRED", t0)).Applied)
	require.True(t, procs.Dispute.Process(ctx, dispute("PROCESSING", t0.Add(time.Hour))).Applied)
	assert.False(t, procs.Dispute.Process(ctx, dispute("PROCESSING", t0.Add(time.Hour))).Applied)
	require.True(t, procs.Dispute.Process(ctx, dispute("WON", t0.Add(2*time.Hour))).Applied)

	pay := store.AllPayments()[0]
	assert.True(t, pay.Disputed)
	assert.Equal(t, "dp-1", pay.DisputeID)

	records := store.AllRecords()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, models.ReconTypeDispute, rec.Type)
	assert.Equal(t, models.ReconStatusUnmatched, rec.Status)
	assert.Equal(t, models.ResolutionPending, rec.ResolutionStatus)
	assert.Contains(t, rec.Details, "state=EVIDENCE_REQUIRED")
	assert.Contains(t, rec.Details, "state=WON")
}

func TestDisputeForUnknownPaymentIsRetryable(t *testing.T) {
	procs, _, _ := newTestProcessors(t)
	res := procs.Dispute.Process(context.Background(), &webhook.DisputeEvent{
		Dispute: square.Dispute{DisputeID: "dp-1", State: "EVIDENCE_REQUIRED", DisputedPayment: &square.DisputedPayment{PaymentID: "nope"}},
	})
	require.Error(t, res.Err)
	assert.Equal(t, KindNotFound, res.Kind)
	assert.True(t, res.Kind.Retryable())
}

func TestProcessorRejectsWrongEventType(t *testing.T) {
	procs, _, _ := newTestProcessors(t)
	res := procs.Payment.Process(context.Background(), &webhook.RefundEvent{})
	require.Error(t, res.Err)
	assert.Equal(t, KindValidation, res.Kind)
}
