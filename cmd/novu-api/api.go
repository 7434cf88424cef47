// Package main provides the Novu API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/novu-co/novu-sub003/pkg/cmd"
	"github.com/novu-co/novu-sub003/pkg/metrics"
	"github.com/novu-co/novu-sub003/pkg/web"
)

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.runtime.TriggerService(),
		a.runtime.WorkflowService(),
		a.runtime.ActivityService(),
		a.runtime.Resolver(),
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(a.runtime.Gatherer)))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Novu API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(app *fiber.App, port int) error {
	a.logger.Info("Starting Novu API", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
