package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

// Error codes returned to the sender
const (
	CodeInvalidSignature = "invalid_signature"
	CodeInvalidPayload   = "invalid_payload"
	CodeStoreUnavailable = "store_unavailable"
	CodeQueueUnavailable = "queue_unavailable"
)

// Enqueuer is the part of the job queue intake needs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobqueue.Job) (bool, error)
}

// Delivery is one inbound webhook request as received
type Delivery struct {
	Path       string
	RemoteIP   string
	Signature  string
	Body       []byte
	ReceivedAt time.Time
}

// Outcome is what intake answers to the sender
type Outcome struct {
	StatusCode  int
	Code        string
	EventID     string
	Duplicate   bool
	PriorStatus string
	Ignored     bool
}

// IntakeConfig configures signature verification
type IntakeConfig struct {
	SignatureKey string
	// PublicBaseURL is prefixed to the request path to form the signed
	// notification URL. Empty signs the body alone.
	PublicBaseURL string
	MaxAttempts   int
}

// Intake verifies, records and enqueues webhook deliveries. It never runs
// business logic; workers pick the events up from the queue.
type Intake struct {
	cfg     IntakeConfig
	dedup   *Deduplicator
	audit   *Auditor
	events  repository.WebhookEventRepository
	queue   Enqueuer
	nowFunc func() time.Time
}

func NewIntake(cfg IntakeConfig, repos *repository.Repositories, queue Enqueuer) *Intake {
	return &Intake{
		cfg:     cfg,
		dedup:   NewDeduplicator(repos.WebhookEvent, cfg.MaxAttempts),
		audit:   NewAuditor(repos.SecurityAudit),
		events:  repos.WebhookEvent,
		queue:   queue,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// NotificationURL is the URL the sender signed for path
func (i *Intake) NotificationURL(path string) string {
	if i.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(i.cfg.PublicBaseURL, "/") + path
}

// Accept handles one delivery end to end
func (i *Intake) Accept(ctx context.Context, d Delivery) Outcome {
	if d.ReceivedAt.IsZero() {
		d.ReceivedAt = i.nowFunc()
	}

	if reason := i.authenticate(d); reason != "" {
		i.audit.Reject(ctx, Rejection{
			Path:            d.Path,
			RemoteIP:        d.RemoteIP,
			SignatureHeader: d.Signature,
			Body:            d.Body,
			Reason:          reason,
			ReceivedAt:      d.ReceivedAt,
		})
		metrics.WebhookRejected(ctx, reason)
		return Outcome{StatusCode: http.StatusUnauthorized, Code: CodeInvalidSignature}
	}

	env, err := ParseEnvelope(d.Body)
	if err != nil {
		return i.recordUnparseable(ctx, d, err)
	}

	eventID := env.EventID
	if eventID == "" {
		if eventID, err = CanonicalID(d.Body); err != nil {
			return i.recordUnparseable(ctx, d, err)
		}
	}

	res, err := i.dedup.Record(ctx, &models.WebhookEvent{
		EventID:        eventID,
		EventType:      string(env.Type),
		MerchantID:     env.MerchantID,
		LocationID:     env.LocationID,
		PayloadJSON:    string(d.Body),
		SignatureValid: true,
		Status:         models.WebhookStatusReceived,
		ReceivedAt:     d.ReceivedAt,
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to record event %s: %v", eventID, err)
		return Outcome{StatusCode: http.StatusServiceUnavailable, Code: CodeStoreUnavailable, EventID: eventID}
	}
	metrics.WebhookReceived(ctx, string(env.Type))

	if !res.IsNew {
		log.Debugf("[Webhook] Duplicate delivery of %s (status %s)", eventID, res.PriorStatus)
		out := Outcome{StatusCode: http.StatusOK, EventID: eventID, Duplicate: true, PriorStatus: res.PriorStatus}
		// a row still in received may never have reached the queue
		if res.PriorStatus == models.WebhookStatusReceived && env.Type.Known() {
			if _, err := i.enqueue(ctx, eventID, env.Type, d.ReceivedAt); err != nil {
				log.Warnf("[Webhook] Re-enqueue of duplicate %s failed: %v", eventID, err)
			}
		}
		return out
	}

	if !env.Type.Known() {
		processedAt := i.nowFunc()
		if err := i.events.UpdateStatus(ctx, eventID, models.WebhookEventUpdate{
			Status:      models.WebhookStatusSkipped,
			LastError:   "unsupported event type " + string(env.Type),
			ProcessedAt: &processedAt,
		}); err != nil {
			log.Warnf("[Webhook] Failed to mark %s skipped: %v", eventID, err)
		}
		return Outcome{StatusCode: http.StatusOK, EventID: eventID, Ignored: true}
	}

	if _, err := i.enqueue(ctx, eventID, env.Type, d.ReceivedAt); err != nil {
		log.Errorf("[Webhook] Failed to enqueue %s: %v", eventID, err)
		return Outcome{StatusCode: http.StatusServiceUnavailable, Code: CodeQueueUnavailable, EventID: eventID}
	}
	log.Infof("[Webhook] Accepted %s (%s)", eventID, env.Type)
	return Outcome{StatusCode: http.StatusOK, EventID: eventID}
}

func (i *Intake) authenticate(d Delivery) string {
	switch {
	case i.cfg.SignatureKey == "":
		return ReasonMissingSecret
	case strings.TrimSpace(d.Signature) == "":
		return ReasonMissingSignature
	case !Verify(d.Body, d.Signature, i.cfg.SignatureKey, i.NotificationURL(d.Path)):
		return ReasonInvalidSignature
	default:
		return ""
	}
}

// recordUnparseable logs an authenticated but unreadable body straight into
// the dead state so it is visible without ever reaching a worker.
func (i *Intake) recordUnparseable(ctx context.Context, d Delivery, cause error) Outcome {
	eventID := "sha256:" + RawHash(d.Body)
	processedAt := i.nowFunc()
	_, err := i.dedup.Record(ctx, &models.WebhookEvent{
		EventID:        eventID,
		EventType:      "unknown",
		PayloadJSON:    string(d.Body),
		SignatureValid: true,
		Status:         models.WebhookStatusDead,
		ReceivedAt:     d.ReceivedAt,
		ProcessedAt:    &processedAt,
		LastError:      cause.Error(),
		ErrorKind:      "validation",
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to record unparseable delivery: %v", err)
		return Outcome{StatusCode: http.StatusServiceUnavailable, Code: CodeStoreUnavailable}
	}
	metrics.WebhookRejected(ctx, CodeInvalidPayload)
	return Outcome{StatusCode: http.StatusBadRequest, Code: CodeInvalidPayload, EventID: eventID}
}

func (i *Intake) enqueue(ctx context.Context, eventID string, eventType EventType, at time.Time) (bool, error) {
	return i.queue.Enqueue(ctx, &jobqueue.Job{
		ID:         eventID,
		EventType:  string(eventType),
		Priority:   PriorityFor(eventType),
		EnqueuedAt: at,
	})
}

// Requeue puts a stored event back on the queue. It is used by the stale
// received sweeper and by manual replay.
func (i *Intake) Requeue(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event == nil {
		return false, errors.New("webhook: nil event")
	}
	return i.enqueue(ctx, event.EventID, EventType(event.EventType), i.nowFunc())
}

// RequeueStale re-enqueues events stuck in received for longer than age, for
// example after the queue was unavailable when they arrived.
func (i *Intake) RequeueStale(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := i.events.ListStaleReceived(ctx, i.nowFunc().Add(-age), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for idx := range stale {
		ok, err := i.Requeue(ctx, &stale[idx])
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		log.Infof("[Webhook] Re-enqueued %d stale events", n)
	}
	return n, nil
}

// ErrNotReplayable is returned when replay is asked for an event that is not dead or failed
var ErrNotReplayable = errors.New("webhook: event is not dead or failed")

// Replay moves a dead or failed event back to received and enqueues it.
func (i *Intake) Replay(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := i.events.GetByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != models.WebhookStatusDead && event.Status != models.WebhookStatusFailed {
		return event, ErrNotReplayable
	}
	if !EventType(event.EventType).Known() {
		return event, ErrNotReplayable
	}
	if err := i.events.UpdateStatus(ctx, eventID, models.WebhookEventUpdate{
		Status:    models.WebhookStatusReceived,
		LastError: event.LastError,
		ErrorKind: event.ErrorKind,
	}); err != nil {
		return nil, err
	}
	event.Status = models.WebhookStatusReceived
	if _, err := i.Requeue(ctx, event); err != nil {
		return event, err
	}
	log.Infof("[Webhook] Replayed event %s", eventID)
	return event, nil
}
