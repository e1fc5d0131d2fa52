package controllers

import (
	"errors"

	"github.com/ManuelReschke/PayRelay/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// PaymentController creates payments through Square
type PaymentController struct {
	checkout *payments.Checkout
}

// NewPaymentController creates a new payment controller
func NewPaymentController(checkout *payments.Checkout) *PaymentController {
	return &PaymentController{checkout: checkout}
}

// HandleCreatePayment charges the buyer. The Idempotency-Key header is used
// when the body carries no key.
func (pc *PaymentController) HandleCreatePayment(c *fiber.Ctx) error {
	var req payments.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", "request body must be JSON")
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.Get("Idempotency-Key")
	}

	res, err := pc.checkout.CreatePayment(c.UserContext(), req)
	switch {
	case errors.Is(err, payments.ErrInvalidRequest):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, payments.ErrCheckoutInProgress):
		return errorJSON(c, fiber.StatusConflict, "in_progress", err.Error())
	case errors.Is(err, payments.ErrRemoteFailed):
		// never pass Square's message on to the buyer
		return errorJSON(c, fiber.StatusBadGateway, "payment_failed", payments.ErrRemoteFailed.Error())
	case err != nil:
		log.Errorf("[Payments] Checkout failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}

	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}
