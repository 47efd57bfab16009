// Package main provides the Flowstone API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/flowstone-io/flowstone/pkg/dispatcher"
	"github.com/flowstone-io/flowstone/pkg/eventlog"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/services"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
	"github.com/flowstone-io/flowstone/pkg/triggers"
	"github.com/flowstone-io/flowstone/pkg/web"
	"github.com/flowstone-io/flowstone/pkg/webhook"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *triggers.Registry
	eventLog    *eventlog.Log
	dispatcher  *dispatcher.Dispatcher
	validate    *validator.Validate

	app *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	broadcaster message.Publisher,
) *API {
	metrics := telemetry.NewMetrics(logger)
	eventLog := eventlog.NewLog(store, logger, metrics)

	eventDispatcher := dispatcher.NewDispatcher(logger, metrics,
		dispatcher.WithStore(store),
		dispatcher.WithBroadcaster(broadcaster),
	)

	registry := triggers.NewRegistry(store, logger)
	matcher := triggers.NewMatcher(registry, store, logger, metrics)
	eventDispatcher.Register(dispatcher.NewHandler("trigger-matcher", matcher.HandleEvent))

	return &API{
		logger:      logger,
		persistence: store,
		registry:    registry,
		eventLog:    eventLog,
		dispatcher:  eventDispatcher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	graphService := services.NewGraph(a.persistence)
	triggerService := services.NewTrigger(a.persistence)
	executionService := services.NewExecution(a.persistence)
	webhookService := webhook.NewService(a.persistence, a.logger, nil)

	handlers := web.NewAPIHandlers(
		graphService,
		triggerService,
		executionService,
		webhookService,
		a.eventLog,
		a.dispatcher,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowstone API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetGraphs)
	w.Post("/", handlers.CreateGraph)
	w.Get("/:id", handlers.GetGraph)
	w.Patch("/:id", handlers.UpdateGraph)
	w.Delete("/:id", handlers.DeleteGraph)
	w.Post("/:id/publish", handlers.PublishGraph)
	w.Post("/:id/unpublish", handlers.UnpublishGraph)
	w.Post("/:id/webhook-secret", handlers.RotateWebhookSecret)
	w.Post("/:id/triggers", handlers.CreateTrigger)

	t := w.Group("/triggers")
	t.Get("/:triggerId", handlers.GetTrigger)
	t.Patch("/:triggerId", handlers.UpdateTrigger)
	t.Delete("/:triggerId", handlers.DeleteTrigger)
	t.Post("/:triggerId/deactivate", handlers.DeactivateTrigger)
	t.Post("/:triggerId/run", handlers.RunTrigger)
	t.Post("/:triggerId/invoke", handlers.InvokeWebhook)

	app.Post("/events", handlers.AppendEvent)
	app.Get("/executions/:id", handlers.GetExecution)

	admin := app.Group("/admin")
	admin.Get("/dead-letters", handlers.GetDeadLetters)
	admin.Post("/dead-letters/:eventId/retry", handlers.RetryDeadLetter)
	admin.Delete("/dead-letters", handlers.ClearDeadLetters)
	admin.Post("/replay", handlers.ReplayEvents)

	app.Get("/health", handlers.HealthCheck)

	a.app = app

	return app
}

// Start refreshes the trigger cache, serves until the context is canceled
// and then shuts down gracefully.
func (a *API) Start(ctx context.Context, port int) error {
	err := a.registry.Start(ctx)
	if err != nil {
		return err
	}

	app := a.App()

	go func() {
		<-ctx.Done()

		err := app.Shutdown()
		if err != nil {
			a.logger.Error("Failed to shut down HTTP server", "error", err)
		}

		a.eventLog.Close()
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
