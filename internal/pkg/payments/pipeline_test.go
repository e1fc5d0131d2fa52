package payments

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/app/repository/memrepo"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineHarness struct {
	store   *memrepo.Store
	repos   *repository.Repositories
	queue   *jobqueue.Queue
	manager *jobqueue.Manager
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memrepo.New()
	repos := store.Repositories()
	q := jobqueue.NewQueue(client, repos.WebhookAttempt, jobqueue.Options{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	})
	procs := NewProcessors(repos, nil)
	m := jobqueue.NewManager(q, NewPipeline(repos, procs.Registry()), jobqueue.ManagerOptions{Workers: 1})
	return &pipelineHarness{store: store, repos: repos, queue: q, manager: m}
}

// deliver logs body as a received event and enqueues it like intake does
func (h *pipelineHarness) deliver(t *testing.T, eventID string, eventType webhook.EventType, body []byte) {
	t.Helper()
	ctx := context.Background()
	_, err := webhook.NewDeduplicator(h.repos.WebhookEvent, 3).RecordAndCheck(ctx, eventID, eventType, body, time.Now())
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, &jobqueue.Job{ID: eventID, EventType: string(eventType), Priority: webhook.PriorityFor(eventType)})
	require.NoError(t, err)
}

func (h *pipelineHarness) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		processed, err := h.manager.ProcessOne(ctx)
		require.NoError(t, err)
		if processed {
			continue
		}
		time.Sleep(5 * time.Millisecond)
		n, err := h.queue.PromoteDue(ctx)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func (h *pipelineHarness) event(t *testing.T, eventID string) *models.WebhookEvent {
	t.Helper()
	ev, err := h.repos.WebhookEvent.GetByEventID(context.Background(), eventID)
	require.NoError(t, err)
	return ev
}

func TestPipelineProcessesEvent(t *testing.T) {
	h := newPipelineHarness(t)
	p := remotePayment("pay-1", "COMPLETED", t0, 7000, 500)
	h.deliver(t, "evt-1", webhook.EventPaymentCreated, rawEvent(t, webhook.EventPaymentCreated, "evt-1", "payment", p))

	h.drain(t)

	ev := h.event(t, "evt-1")
	assert.Equal(t, models.WebhookStatusProcessed, ev.Status)
	require.NotNil(t, ev.ProcessedAt)

	attempts, err := h.repos.WebhookAttempt.ListByEventID(context.Background(), "evt-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptOutcomeSucceeded, attempts[0].Outcome)
	assert.Equal(t, 1, attempts[0].Attempt)

	require.Len(t, h.store.AllPayments(), 1)
	assert.Equal(t, int64(7500), h.store.AllPayments()[0].TotalMoney)
}

func TestPipelineInvalidPayloadIsDeadOnFirstFailure(t *testing.T) {
	h := newPipelineHarness(t)
	body := []byte(`{"type":"payment.created","event_id":"evt-bad","data":{"object":{}}}`)
	h.deliver(t, "evt-bad", webhook.EventPaymentCreated, body)

	h.drain(t)

	ev := h.event(t, "evt-bad")
	assert.Equal(t, models.WebhookStatusDead, ev.Status)
	assert.Equal(t, string(KindValidation), ev.ErrorKind)
	n, err := h.repos.WebhookAttempt.CountByEventID(context.Background(), "evt-bad")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPipelineRefundBeforePaymentConverges(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	refund := map[string]interface{}{
		"id":           "rf-1",
		"status":       "COMPLETED",
		"amount_money": map[string]interface{}{"amount": 1000, "currency": "USD"},
		"payment_id":   "pay-1",
		"updated_at":   t0.Format(time.RFC3339),
	}
	h.deliver(t, "evt-refund", webhook.EventRefundCreated, rawEvent(t, webhook.EventRefundCreated, "evt-refund", "refund", refund))

	processed, err := h.manager.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
	ev := h.event(t, "evt-refund")
	assert.Equal(t, models.WebhookStatusFailed, ev.Status)
	assert.Equal(t, string(KindTransient), ev.ErrorKind)

	p := remotePayment("pay-1", "COMPLETED", t0, 5000, 0)
	h.deliver(t, "evt-pay", webhook.EventPaymentCreated, rawEvent(t, webhook.EventPaymentCreated, "evt-pay", "payment", p))
	h.drain(t)

	assert.Equal(t, models.WebhookStatusProcessed, h.event(t, "evt-pay").Status)
	assert.Equal(t, models.WebhookStatusProcessed, h.event(t, "evt-refund").Status)
	assert.Equal(t, int64(1000), h.store.AllPayments()[0].RefundedMoney)

	n, err := h.repos.WebhookAttempt.CountByEventID(ctx, "evt-refund")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipelineTransientFailureGoesDeadAfterMaxAttempts(t *testing.T) {
	h := newPipelineHarness(t)
	refund := map[string]interface{}{
		"id": "rf-1", "status": "PENDING", "payment_id": "never",
		"amount_money": map[string]interface{}{"amount": 1, "currency": "USD"},
	}
	h.deliver(t, "evt-orphan", webhook.EventRefundUpdated, rawEvent(t, webhook.EventRefundUpdated, "evt-orphan", "refund", refund))

	h.drain(t)

	ev := h.event(t, "evt-orphan")
	assert.Equal(t, models.WebhookStatusDead, ev.Status)
	n, err := h.repos.WebhookAttempt.CountByEventID(context.Background(), "evt-orphan")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPipelineSkipsStaleAndTerminalEvents(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	newer := remotePayment("pay-1", "COMPLETED", t0.Add(time.Minute), 100, 0)
	older := remotePayment("pay-1", "APPROVED", t0, 100, 0)
	h.deliver(t, "evt-new", webhook.EventPaymentUpdated, rawEvent(t, webhook.EventPaymentUpdated, "evt-new", "payment", newer))
	h.deliver(t, "evt-old", webhook.EventPaymentCreated, rawEvent(t, webhook.EventPaymentCreated, "evt-old", "payment", older))

	h.drain(t)

	assert.Equal(t, models.WebhookStatusProcessed, h.event(t, "evt-new").Status)
	assert.Equal(t, models.WebhookStatusSkipped, h.event(t, "evt-old").Status)
	assert.Equal(t, models.PaymentStatusCompleted, h.store.AllPayments()[0].Status)

	// a processed event that is enqueued again is acked without a new attempt
	_, err := h.queue.Enqueue(ctx, &jobqueue.Job{ID: "evt-new", EventType: "payment.updated", Priority: jobqueue.PriorityHigh})
	require.NoError(t, err)
	h.drain(t)
	n, err := h.repos.WebhookAttempt.CountByEventID(ctx, "evt-new")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
