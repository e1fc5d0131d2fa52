package router

import (
	"time"

	"github.com/ManuelReschke/PayRelay/app/controllers"
	"github.com/ManuelReschke/PayRelay/internal/pkg/middleware"
	"github.com/ManuelReschke/PayRelay/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const apiRequestsPerMinute = 120

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRequestsPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "api:" + controllers.GetClientIP(c)
		},
		Storage: h.deps.LimiterStorage,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from PayRelay",
		})
	})

	paymentController := controllers.NewPaymentController(h.deps.Checkout)
	api.Post("/payments", paymentController.HandleCreatePayment)

	requireOperator := middleware.RequireOperator(h.deps.AdminJWTSecret, usercontext.RoleAdmin, usercontext.RoleFinance)

	recon := controllers.NewReconciliationController(h.deps.Repos, h.deps.Engine, h.deps.ReconcileWindow)
	reconGroup := api.Group("/reconciliation", requireOperator)
	reconGroup.Get("/", recon.HandleList)
	reconGroup.Get("/runs/:batchId", recon.HandleGetRun)
	reconGroup.Post("/runs", recon.HandleStartRun)
	reconGroup.Post("/:id/resolve", recon.HandleResolve)

	events := controllers.NewEventController(h.deps.Repos, h.deps.Intake, h.deps.Queue)
	eventGroup := api.Group("/webhooks", requireOperator)
	eventGroup.Get("/queue", events.HandleQueueStats)
	eventGroup.Get("/events/:eventId", events.HandleGetEvent)
	eventGroup.Post("/events/:eventId/replay", events.HandleReplay)

	registrations := controllers.NewRegistrationController(h.deps.Linker)
	api.Post("/registrations/:id/payment-links/resolve",
		middleware.RequireOperator(h.deps.AdminJWTSecret, usercontext.RoleService, usercontext.RoleAdmin),
		registrations.HandleResolveLinks)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
