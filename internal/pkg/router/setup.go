package router

import (
	"time"

	"github.com/ManuelReschke/PayRelay/app/controllers"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/linker"
	"github.com/ManuelReschke/PayRelay/internal/pkg/payments"
	"github.com/ManuelReschke/PayRelay/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the routes hand requests to
type Dependencies struct {
	Repos    *repository.Repositories
	Intake   *webhook.Intake
	Queue    controllers.QueueStats
	Checkout *payments.Checkout
	Engine   *reconcile.Engine
	Linker   *linker.Linker
	Health   map[string]controllers.Pinger

	AdminJWTSecret      string
	MetricsUser         string
	MetricsPasswordHash string
	ReconcileWindow     time.Duration

	// LimiterStorage backs the rate limiters; nil keeps counters in memory
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
