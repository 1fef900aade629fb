// Package main provides the taskflow HTTP API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/templates"
	"github.com/dukex/taskflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	locker      locker.Locker
	eventBus    eventbus.EventPublisher
	scheduler   engine.ResumeScheduler
	engineOpts  []engine.Option
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	locker locker.Locker,
	eventBus eventbus.EventPublisher,
	scheduler engine.ResumeScheduler,
	engineOpts ...engine.Option,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		locker:      locker,
		eventBus:    eventBus,
		scheduler:   scheduler,
		engineOpts:  engineOpts,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		engine.New(a.logger, a.persistence, a.locker, a.eventBus, a.scheduler, a.engineOpts...),
		templates.NewService(a.logger, a.persistence, a.eventBus),
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Taskflow API")
	})

	web.RegisterRoutes(app, handlers)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
