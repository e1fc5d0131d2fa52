package payments

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Pipeline is the job queue handler: it loads the logged event, parses it,
// runs its processor and keeps the event row and attempt log current.
type Pipeline struct {
	events   repository.WebhookEventRepository
	attempts repository.WebhookAttemptRepository
	registry *Registry
	worker   string
	now      func() time.Time
}

func NewPipeline(repos *repository.Repositories, registry *Registry) *Pipeline {
	host, _ := os.Hostname()
	return &Pipeline{
		events:   repos.WebhookEvent,
		attempts: repos.WebhookAttempt,
		registry: registry,
		worker:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements jobqueue.Handler
func (p *Pipeline) Handle(ctx context.Context, job *jobqueue.Job) error {
	ctx, span := metrics.StartSpan(ctx, "webhook.process",
		attribute.String("event_id", job.ID), attribute.String("event_type", job.EventType))
	defer span.End()

	event, err := p.events.GetByEventID(ctx, job.ID)
	if err != nil {
		if isNotFound(err) {
			return jobqueue.Permanent(fmt.Errorf("event %s is not in the log", job.ID))
		}
		return fmt.Errorf("load event %s: %w", job.ID, err)
	}
	if event.IsTerminal() {
		log.Debugf("[Payments] Event %s already %s", job.ID, event.Status)
		return nil
	}

	// bookkeeping writes must survive a processing timeout
	bg := context.WithoutCancel(ctx)
	started := p.now()
	attempt := &models.WebhookAttempt{EventID: job.ID, Worker: p.worker, StartedAt: started}
	if err := p.attempts.Start(bg, attempt); err != nil {
		return fmt.Errorf("start attempt for %s: %w", job.ID, err)
	}
	if err := p.events.UpdateStatus(bg, job.ID, models.WebhookEventUpdate{
		Status:    models.WebhookStatusProcessing,
		LastError: event.LastError,
		ErrorKind: event.ErrorKind,
	}); err != nil {
		log.Warnf("[Payments] Failed to mark %s processing: %v", job.ID, err)
	}

	res := p.run(ctx, event)
	if res.Err != nil && ctx.Err() != nil {
		res.Kind = KindTimeout
	}
	finished := p.now()

	switch {
	case res.Err != nil:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Kind))
		p.finish(bg, attempt, models.AttemptOutcomeFailed, res.Err.Error(), res.Kind, finished)
		metrics.EventProcessed(bg, event.EventType, models.AttemptOutcomeFailed, finished.Sub(started))
		return queueError(res.Kind, res.Err)

	case res.Applied:
		p.finish(bg, attempt, models.AttemptOutcomeSucceeded, "", KindNone, finished)
		if err := p.events.UpdateStatus(bg, job.ID, models.WebhookEventUpdate{
			Status:      models.WebhookStatusProcessed,
			ProcessedAt: &finished,
		}); err != nil {
			// the job is acked anyway; a redelivery finds the ledger already current
			log.Errorf("[Payments] Failed to mark %s processed: %v", job.ID, err)
		}
		metrics.EventProcessed(bg, event.EventType, models.AttemptOutcomeSucceeded, finished.Sub(started))
		log.Infof("[Payments] Processed %s (%s)", job.ID, event.EventType)

	default:
		p.finish(bg, attempt, models.AttemptOutcomeSkipped, res.Note, res.Kind, finished)
		if err := p.events.UpdateStatus(bg, job.ID, models.WebhookEventUpdate{
			Status:      models.WebhookStatusSkipped,
			LastError:   res.Note,
			ErrorKind:   string(res.Kind),
			ProcessedAt: &finished,
		}); err != nil {
			log.Errorf("[Payments] Failed to mark %s skipped: %v", job.ID, err)
		}
		metrics.EventProcessed(bg, event.EventType, models.AttemptOutcomeSkipped, finished.Sub(started))
		log.Infof("[Payments] Skipped %s: %s", job.ID, res.Note)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, event *models.WebhookEvent) Result {
	parsed, err := webhook.ParseEvent([]byte(event.PayloadJSON))
	if errors.Is(err, webhook.ErrUnknownEventType) {
		return skipped(KindNone, "unsupported event type %s", event.EventType)
	}
	if err != nil {
		return failed(KindValidation, err)
	}
	proc, ok := p.registry.Lookup(parsed.Meta().Type)
	if !ok {
		return skipped(KindNone, "no processor for %s", parsed.Meta().Type)
	}
	return proc.Process(ctx, parsed)
}

func (p *Pipeline) finish(ctx context.Context, attempt *models.WebhookAttempt, outcome, msg string, kind Kind, at time.Time) {
	if err := p.attempts.Finish(ctx, attempt.ID, outcome, msg, string(kind), at); err != nil {
		log.Warnf("[Payments] Failed to finish attempt %d of %s: %v", attempt.Attempt, attempt.EventID, err)
	}
}

// OnFailure implements jobqueue.Handler. The event becomes failed while
// retries remain and dead once the queue gave up on it.
func (p *Pipeline) OnFailure(ctx context.Context, job *jobqueue.Job, cause error, decision jobqueue.RetryDecision) {
	ctx = context.WithoutCancel(ctx)
	kind := KindOf(cause)
	now := p.now()

	// a panic or timeout can leave the attempt open
	if attempts, err := p.attempts.ListByEventID(ctx, job.ID); err == nil {
		for _, a := range attempts {
			if a.Outcome == models.AttemptOutcomeRunning {
				_ = p.attempts.Finish(ctx, a.ID, models.AttemptOutcomeFailed, cause.Error(), string(kind), now)
			}
		}
	}

	update := models.WebhookEventUpdate{
		Status:    models.WebhookStatusFailed,
		LastError: cause.Error(),
		ErrorKind: string(kind),
	}
	if !decision.Retry {
		update.Status = models.WebhookStatusDead
		update.ProcessedAt = &now
		metrics.EventDead(ctx, job.EventType)
		log.Errorf("[Payments] Event %s is dead after %d attempts: %v", job.ID, decision.Attempts, cause)
	} else {
		log.Warnf("[Payments] Event %s failed (attempt %d, %s), retry in %s", job.ID, decision.Attempts, kind, decision.Delay)
	}
	if err := p.events.UpdateStatus(ctx, job.ID, update); err != nil {
		log.Errorf("[Payments] Failed to record failure of %s: %v", job.ID, err)
	}
}
