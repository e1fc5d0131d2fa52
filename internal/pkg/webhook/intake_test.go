package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository/memrepo"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "whsec_intake"
	testBaseURL = "https://pay.example.org"
	testPath    = "/webhooks/payments"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []jobqueue.Job
	live map[string]bool
	err  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{live: map[string]bool{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, job *jobqueue.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if q.live[job.ID] {
		return false, nil
	}
	q.live[job.ID] = true
	q.jobs = append(q.jobs, *job)
	return true, nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func newTestIntake(t *testing.T) (*Intake, *memrepo.Store, *fakeQueue) {
	t.Helper()
	store := memrepo.New()
	queue := newFakeQueue()
	in := NewIntake(IntakeConfig{SignatureKey: testSecret, PublicBaseURL: testBaseURL, MaxAttempts: 3}, store.Repositories(), queue)
	return in, store, queue
}

func signedDelivery(body []byte) Delivery {
	return Delivery{
		Path:      testPath,
		RemoteIP:  "203.0.113.9",
		Signature: SignBase64(body, testSecret, testBaseURL+testPath),
		Body:      body,
	}
}

func TestIntakeAcceptsAndEnqueues(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	body := paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 7000, 500)

	out := in.Accept(ctx, signedDelivery(body))
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.Equal(t, "evt-1", out.EventID)
	assert.False(t, out.Duplicate)

	ev, err := store.Repositories().WebhookEvent.GetByEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusReceived, ev.Status)
	assert.Equal(t, "payment.updated", ev.EventType)
	assert.Equal(t, "M1", ev.MerchantID)
	assert.Equal(t, string(body), ev.PayloadJSON)
	assert.True(t, ev.SignatureValid)
	assert.Equal(t, 3, ev.MaxAttempts)

	require.Equal(t, 1, queue.count())
	assert.Equal(t, jobqueue.PriorityHigh, queue.jobs[0].Priority)
	assert.Equal(t, "evt-1", queue.jobs[0].ID)
}

func TestIntakeRejectsBadSignature(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Delivery)
		reason string
	}{
		{"tampered body", func(d *Delivery) { d.Body = append([]byte(nil), append(d.Body, ' ')...) }, ReasonInvalidSignature},
		{"missing header", func(d *Delivery) { d.Signature = "" }, ReasonMissingSignature},
		{"signed for another path", func(d *Delivery) { d.Path = "/webhooks/customers" }, ReasonInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, store, queue := newTestIntake(t)
			d := signedDelivery(paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 100, 0))
			tt.mutate(&d)

			out := in.Accept(context.Background(), d)
			assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
			assert.Equal(t, CodeInvalidSignature, out.Code)

			audits := store.AuditEvents()
			require.Len(t, audits, 1)
			assert.Equal(t, tt.reason, audits[0].Reason)
			assert.Equal(t, RawHash(d.Body), audits[0].BodySHA256)
			assert.Equal(t, 0, queue.count())
			_, err := store.Repositories().WebhookEvent.GetByEventID(context.Background(), "evt-1")
			assert.Error(t, err)
		})
	}
}

func TestIntakeWithoutSecretFailsClosed(t *testing.T) {
	store := memrepo.New()
	in := NewIntake(IntakeConfig{}, store.Repositories(), newFakeQueue())
	body := []byte(`{"type":"payment.created","event_id":"e","data":{"object":{}}}`)

	out := in.Accept(context.Background(), Delivery{Path: testPath, Body: body, Signature: SignBase64(body, "", "")})
	assert.Equal(t, http.StatusUnauthorized, out.StatusCode)
	require.Len(t, store.AuditEvents(), 1)
	assert.Equal(t, ReasonMissingSecret, store.AuditEvents()[0].Reason)
}

func TestIntakeDuplicateDelivery(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	d := signedDelivery(paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 100, 0))

	first := in.Accept(ctx, d)
	second := in.Accept(ctx, d)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.True(t, second.Duplicate)
	assert.Equal(t, models.WebhookStatusReceived, second.PriorStatus)
	assert.Equal(t, 1, queue.count())

	processedAt := time.Now()
	require.NoError(t, store.Repositories().WebhookEvent.UpdateStatus(ctx, "evt-1", models.WebhookEventUpdate{
		Status: models.WebhookStatusProcessed, ProcessedAt: &processedAt,
	}))
	queue.live = map[string]bool{}

	third := in.Accept(ctx, d)
	assert.True(t, third.Duplicate)
	assert.Equal(t, models.WebhookStatusProcessed, third.PriorStatus)
	assert.Equal(t, 1, queue.count(), "processed duplicates are not re-enqueued")
}

func TestIntakeNonJSONBodyIsRecordedDead(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	body := []byte("this is not json")

	out := in.Accept(ctx, signedDelivery(body))
	assert.Equal(t, http.StatusBadRequest, out.StatusCode)
	assert.Equal(t, CodeInvalidPayload, out.Code)
	assert.True(t, strings.HasPrefix(out.EventID, "sha256:"))

	ev, err := store.Repositories().WebhookEvent.GetByEventID(ctx, out.EventID)
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusDead, ev.Status)
	assert.Equal(t, "validation", ev.ErrorKind)
	assert.Equal(t, 0, queue.count())
}

func TestIntakeStoreUnavailable(t *testing.T) {
	in, store, queue := newTestIntake(t)
	store.FailWrites = errors.New("db down")

	out := in.Accept(context.Background(), signedDelivery(paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 100, 0)))
	assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode)
	assert.Equal(t, CodeStoreUnavailable, out.Code)
	assert.Equal(t, 0, queue.count())
}

func TestIntakeQueueUnavailableThenStaleRequeue(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in.nowFunc = func() time.Time { return now }
	queue.err = errors.New("redis down")

	out := in.Accept(ctx, signedDelivery(paymentPayload("evt-1", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 100, 0)))
	assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode)
	assert.Equal(t, CodeQueueUnavailable, out.Code)

	ev, err := store.Repositories().WebhookEvent.GetByEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusReceived, ev.Status)

	queue.err = nil
	n, err := in.RequeueStale(ctx, 2*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "too young to be stale")

	now = now.Add(5 * time.Minute)
	n, err = in.RequeueStale(ctx, 2*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, queue.count())
}

func TestIntakeUnknownTypeIsSkipped(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	body := []byte(`{"type":"invoice.created","event_id":"evt-inv","data":{"object":{"invoice":{"id":"i"}}}}`)

	out := in.Accept(ctx, signedDelivery(body))
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.True(t, out.Ignored)
	assert.Equal(t, 0, queue.count())

	ev, err := store.Repositories().WebhookEvent.GetByEventID(ctx, "evt-inv")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusSkipped, ev.Status)
}

func TestIntakeWithoutEventIDUsesCanonicalHash(t *testing.T) {
	in, _, queue := newTestIntake(t)
	ctx := context.Background()
	a := []byte(`{"type":"customer.created","data":{"object":{"customer":{"id":"c1","email_address":"a@example.org"}}}}`)
	b := []byte(`{"data":{"object":{"customer":{"email_address":"a@example.org","id":"c1"}}},"type":"customer.created"}`)

	first := in.Accept(ctx, signedDelivery(a))
	second := in.Accept(ctx, signedDelivery(b))
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.True(t, strings.HasPrefix(first.EventID, "jcs:"))
	assert.Equal(t, first.EventID, second.EventID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, queue.count())
	assert.Equal(t, jobqueue.PriorityLow, queue.jobs[0].Priority)
}

func TestIntakeReplay(t *testing.T) {
	in, store, queue := newTestIntake(t)
	ctx := context.Background()
	in.Accept(ctx, signedDelivery([]byte(disputePayload)))
	require.Equal(t, 1, queue.count())

	_, err := in.Replay(ctx, "evt-dispute-1")
	assert.ErrorIs(t, err, ErrNotReplayable)

	require.NoError(t, store.Repositories().WebhookEvent.UpdateStatus(ctx, "evt-dispute-1", models.WebhookEventUpdate{
		Status: models.WebhookStatusDead, LastError: "boom", ErrorKind: "transient",
	}))
	queue.live = map[string]bool{}

	ev, err := in.Replay(ctx, "evt-dispute-1")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookStatusReceived, ev.Status)
	assert.Equal(t, 2, queue.count())
	assert.Equal(t, jobqueue.PriorityCritical, queue.jobs[1].Priority)
}

func TestIntakeConcurrentDuplicatesOnRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := memrepo.New()
	repos := store.Repositories()
	q := jobqueue.NewQueue(client, repos.WebhookAttempt, jobqueue.Options{})
	in := NewIntake(IntakeConfig{SignatureKey: testSecret, PublicBaseURL: testBaseURL}, repos, q)
	d := signedDelivery(paymentPayload("evt-race", "pay-1", "COMPLETED", "2026-05-01T12:00:00Z", 100, 0))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := in.Accept(context.Background(), d)
			assert.Equal(t, http.StatusOK, out.StatusCode)
		}()
	}
	wg.Wait()

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Tiers[jobqueue.PriorityHigh.String()])
}
