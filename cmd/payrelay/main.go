package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PayRelay/app/controllers"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/cache"
	"github.com/ManuelReschke/PayRelay/internal/pkg/config"
	"github.com/ManuelReschke/PayRelay/internal/pkg/database"
	"github.com/ManuelReschke/PayRelay/internal/pkg/env"
	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/linker"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/ManuelReschke/PayRelay/internal/pkg/payments"
	"github.com/ManuelReschke/PayRelay/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayRelay/internal/pkg/router"
	"github.com/ManuelReschke/PayRelay/internal/pkg/s3archive"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
)

var version = "dev"

const (
	staleRequeueLimit = 100
	linkSweepInterval = 5 * time.Minute
)

// Services is everything the HTTP layer and the workers share
type Services struct {
	Repos    *repository.Repositories
	Queue    *jobqueue.Queue
	Intake   *webhook.Intake
	Checkout *payments.Checkout
	Engine   *reconcile.Engine
	Linker   *linker.Linker
	Manager  *jobqueue.Manager
}

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := metrics.Setup(ctx, metrics.Config{
		ServiceName:    "payrelay",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       env.GetBool("OTEL_EXPORTER_OTLP_INSECURE", true),
	})
	if err != nil {
		log.Fatalf("[Metrics] %v", err)
	}

	if err := database.SetupDatabase(); err != nil {
		log.Fatalf("[Database] %v", err)
	}
	cache.SetupCache()

	svc, err := NewServices(ctx, cfg)
	if err != nil {
		log.Fatalf("[PayRelay] %v", err)
	}
	app := NewApplication(cfg, svc)
	svc.Manager.Start()

	go func() {
		<-ctx.Done()
		log.Info("[PayRelay] Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[PayRelay] HTTP shutdown: %v", err)
		}
	}()

	if err := app.Listen(cfg.ListenAddr()); err != nil {
		log.Errorf("[PayRelay] Listen: %v", err)
	}
	svc.Manager.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		log.Warnf("[Metrics] Shutdown: %v", err)
	}
}

// NewServices wires repositories, the queue, processors and background tasks
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	queue := jobqueue.NewQueue(cache.GetClient(), repos.WebhookAttempt, jobqueue.Options{
		MaxAttempts:       cfg.MaxAttempts,
		BaseDelay:         cfg.RetryBaseDelay,
		MaxDelay:          cfg.RetryMaxDelay,
		VisibilityTimeout: cfg.VisibilityTimeout,
	})
	intake := webhook.NewIntake(webhook.IntakeConfig{
		SignatureKey:  cfg.WebhookSignatureKey,
		PublicBaseURL: cfg.PublicBaseURL,
		MaxAttempts:   cfg.MaxAttempts,
	}, repos, queue)

	squareClient := square.NewClient(cfg.SquareBaseURL, cfg.SquareToken, cfg.SquareAPIVersion, cfg.SquareLocationID, cfg.SquareRateRPS)
	l := linker.New(repos, cfg.RegistrationLinkTTL)
	procs := payments.NewProcessors(repos, l)

	var archiver reconcile.Archiver
	archiveCfg, err := s3archive.LoadConfig()
	if err != nil {
		return nil, err
	}
	if archiveCfg.IsEnabled() {
		client, err := s3archive.NewClient(ctx, archiveCfg)
		if err != nil {
			return nil, err
		}
		archiver = client
	}
	engine := reconcile.NewEngine(repos, squareClient, archiver)

	manager := jobqueue.NewManager(queue, payments.NewPipeline(repos, procs.Registry()), jobqueue.ManagerOptions{
		Workers:        cfg.Workers,
		ProcessTimeout: cfg.ProcessTimeout,
	})
	manager.AddTask(jobqueue.Task{
		Name:     "requeue-stale",
		Interval: cfg.StaleReceivedAfter,
		Run: func(ctx context.Context) error {
			_, err := intake.RequeueStale(ctx, cfg.StaleReceivedAfter, staleRequeueLimit)
			return err
		},
	})
	manager.AddTask(jobqueue.Task{
		Name:     "link-sweep",
		Interval: linkSweepInterval,
		Run: func(ctx context.Context) error {
			_, err := l.Sweep(ctx)
			return err
		},
	})
	if cfg.ReconcileEnabled && cfg.SquareToken != "" {
		manager.AddTask(jobqueue.Task{
			Name:     "reconcile",
			Interval: cfg.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := engine.RunBatch(ctx, reconcile.WindowEndingBefore(time.Now(), cfg.ReconcileWindow))
				if errors.Is(err, reconcile.ErrBatchRunning) {
					return nil
				}
				return err
			},
		})
	} else {
		log.Warn("[Reconcile] Periodic reconciliation disabled")
	}

	return &Services{
		Repos:    repos,
		Queue:    queue,
		Intake:   intake,
		Checkout: payments.NewCheckout(repos, squareClient, procs, payments.CacheStore{}),
		Engine:   engine,
		Linker:   l,
		Manager:  manager,
	}, nil
}

func NewApplication(cfg *config.Config, svc *Services) *fiber.App {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/payrelay to project root
		"../../../", // Fallback
	}
	basePath := "./"
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:     "PayRelay " + version,
		BodyLimit:   1 << 20, // Square notifications stay far below 1 MiB
		ReadTimeout: 15 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	var limiterStorage fiber.Storage
	if env.GetBool("RATE_LIMIT_REDIS", true) {
		limiterStorage = cache.NewFiberStorage()
	}

	router.InstallRouter(app, router.Dependencies{
		Repos:    svc.Repos,
		Intake:   svc.Intake,
		Queue:    svc.Queue,
		Checkout: svc.Checkout,
		Engine:   svc.Engine,
		Linker:   svc.Linker,
		Health: map[string]controllers.Pinger{
			"database": database.Ping,
			"redis":    cache.Ping,
		},
		AdminJWTSecret:      cfg.AdminJWTSecret,
		MetricsUser:         cfg.MetricsUser,
		MetricsPasswordHash: cfg.MetricsPasswordHash,
		ReconcileWindow:     cfg.ReconcileWindow,
		LimiterStorage:      limiterStorage,
	})

	return app
}
