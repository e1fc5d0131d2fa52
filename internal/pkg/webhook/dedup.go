package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
)

// ErrStoreUnavailable means the event log could not be read or written. Intake
// fails closed on it so the sender retries.
var ErrStoreUnavailable = errors.New("webhook: event store unavailable")

// DedupResult reports whether a delivery was seen for the first time. For
// duplicates PriorStatus is the status of the stored row.
type DedupResult struct {
	IsNew       bool
	PriorStatus string
	Event       *models.WebhookEvent
}

// Deduplicator records deliveries in the persistent event log
type Deduplicator struct {
	events      repository.WebhookEventRepository
	maxAttempts int
}

func NewDeduplicator(events repository.WebhookEventRepository, maxAttempts int) *Deduplicator {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Deduplicator{events: events, maxAttempts: maxAttempts}
}

// RecordAndCheck inserts the event unless its id is already logged. The insert
// and the existence check are a single statement on the unique event_id index.
func (d *Deduplicator) RecordAndCheck(ctx context.Context, eventID string, eventType EventType, payload []byte, receivedAt time.Time) (DedupResult, error) {
	return d.Record(ctx, &models.WebhookEvent{
		EventID:        eventID,
		EventType:      string(eventType),
		PayloadJSON:    string(payload),
		SignatureValid: true,
		Status:         models.WebhookStatusReceived,
		ReceivedAt:     receivedAt,
	})
}

// Record is RecordAndCheck for a fully populated row
func (d *Deduplicator) Record(ctx context.Context, event *models.WebhookEvent) (DedupResult, error) {
	if event.EventID == "" {
		return DedupResult{}, fmt.Errorf("%w: empty event id", ErrInvalidPayload)
	}
	if event.MaxAttempts == 0 {
		event.MaxAttempts = d.maxAttempts
	}
	if event.Status == "" {
		event.Status = models.WebhookStatusReceived
	}

	created, stored, err := d.events.CreateIfNotExists(ctx, event)
	if err != nil {
		return DedupResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if created {
		return DedupResult{IsNew: true, PriorStatus: "", Event: stored}, nil
	}
	prior := ""
	if stored != nil {
		prior = stored.Status
	}
	return DedupResult{IsNew: false, PriorStatus: prior, Event: stored}, nil
}
