package router

import (
	"time"

	"github.com/ManuelReschke/PayRelay/app/controllers"
	"github.com/ManuelReschke/PayRelay/internal/pkg/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// webhookRequestsPerMinute is per sender address. Square retries on 429.
const webhookRequestsPerMinute = 600

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	health := controllers.NewHealthController(h.deps.Health)
	app.Get("/healthz", health.HandleHealth)

	// fiber metrics
	app.Get("/metrics", middleware.MetricsAuth(h.deps.MetricsUser, h.deps.MetricsPasswordHash), monitor.New(monitor.Config{
		Title: "PayRelay Metrics",
	}))

	webhooks := controllers.NewWebhookController(h.deps.Intake)
	group := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        webhookRequestsPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhooks:" + controllers.GetClientIP(c)
		},
		Storage: h.deps.LimiterStorage,
	}))
	group.Post("/payments", webhooks.HandleWebhook)
	group.Post("/customers", webhooks.HandleWebhook)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
