package controllers

import (
	"time"

	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
)

// WebhookController receives Square notifications
type WebhookController struct {
	intake *webhook.Intake
}

// NewWebhookController creates a new webhook controller
func NewWebhookController(intake *webhook.Intake) *WebhookController {
	return &WebhookController{intake: intake}
}

// HandleWebhook verifies, records and enqueues one delivery. Square only
// looks at the status code; the body is for humans replaying requests.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	out := wc.intake.Accept(c.UserContext(), webhook.Delivery{
		Path:       c.Path(),
		RemoteIP:   GetClientIP(c),
		Signature:  c.Get(webhook.SignatureHeader),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	})
	if out.Code != "" {
		return c.Status(out.StatusCode).JSON(fiber.Map{"error": out.Code})
	}

	status := "accepted"
	switch {
	case out.Duplicate:
		status = "duplicate"
	case out.Ignored:
		status = "ignored"
	}
	return c.Status(out.StatusCode).JSON(fiber.Map{
		"status":  status,
		"eventId": out.EventID,
	})
}
