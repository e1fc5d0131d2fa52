package controllers

import (
	"context"
	"errors"

	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// QueueStats reports queue depth
type QueueStats interface {
	Stats(ctx context.Context) (*jobqueue.Stats, error)
}

// EventController exposes the persistent event log to operators
type EventController struct {
	events   repository.WebhookEventRepository
	attempts repository.WebhookAttemptRepository
	intake   *webhook.Intake
	queue    QueueStats
}

// NewEventController creates a new event controller
func NewEventController(repos *repository.Repositories, intake *webhook.Intake, queue QueueStats) *EventController {
	return &EventController{
		events:   repos.WebhookEvent,
		attempts: repos.WebhookAttempt,
		intake:   intake,
		queue:    queue,
	}
}

// HandleGetEvent returns one event with its attempt history
func (ec *EventController) HandleGetEvent(c *fiber.Ctx) error {
	eventID := c.Params("eventId")
	event, err := ec.events.GetByEventID(c.UserContext(), eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "")
		}
		log.Errorf("[Events] Failed to load %s: %v", eventID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	attempts, err := ec.attempts.ListByEventID(c.UserContext(), eventID)
	if err != nil {
		log.Errorf("[Events] Failed to load attempts of %s: %v", eventID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	return c.JSON(fiber.Map{"event": event, "attempts": attempts})
}

// HandleQueueStats returns queue depth and the event log by status
func (ec *EventController) HandleQueueStats(c *fiber.Ctx) error {
	stats, err := ec.queue.Stats(c.UserContext())
	if err != nil {
		log.Errorf("[Events] Queue stats failed: %v", err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "")
	}
	byStatus, err := ec.events.CountByStatus(c.UserContext())
	if err != nil {
		log.Errorf("[Events] Event counts failed: %v", err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "store_unavailable", "")
	}
	return c.JSON(fiber.Map{"queue": stats, "events": byStatus})
}

// HandleReplay puts a dead or failed event back on the queue
func (ec *EventController) HandleReplay(c *fiber.Ctx) error {
	eventID := c.Params("eventId")
	event, err := ec.intake.Replay(c.UserContext(), eventID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "")
	case errors.Is(err, webhook.ErrNotReplayable):
		return errorJSON(c, fiber.StatusConflict, "not_replayable", "only dead or failed events of a supported type can be replayed")
	case err != nil:
		log.Errorf("[Events] Replay of %s failed: %v", eventID, err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "queue_unavailable", "")
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event": event})
}
