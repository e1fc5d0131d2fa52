package controllers

import (
	"github.com/ManuelReschke/PayRelay/internal/pkg/linker"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// RegistrationController is called by the registration service
type RegistrationController struct {
	linker *linker.Linker
}

// NewRegistrationController creates a new registration controller
func NewRegistrationController(l *linker.Linker) *RegistrationController {
	return &RegistrationController{linker: l}
}

// HandleResolveLinks applies payments parked for a freshly committed registration
func (rc *RegistrationController) HandleResolveLinks(c *fiber.Ctx) error {
	registrationID := c.Params("id")
	n, err := rc.linker.ResolvePending(c.UserContext(), registrationID)
	if err != nil {
		log.Errorf("[Linker] Resolving links of %s failed after %d: %v", registrationID, n, err)
		return errorJSON(c, fiber.StatusServiceUnavailable, "store_unavailable", "")
	}
	return c.JSON(fiber.Map{"registrationId": registrationID, "resolved": n})
}
