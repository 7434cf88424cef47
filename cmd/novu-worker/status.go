package main

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/novu-co/novu-sub003/pkg/cmd"
	"github.com/novu-co/novu-sub003/pkg/metrics"
)

// newStatusApp serves liveness, readiness and metrics of a worker process.
func newStatusApp(runtime *cmd.Runtime) *fiber.App {
	app := fiber.New()

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return runtime.Persistence.HealthCheck(c.Context()) == nil
		},
	}))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(runtime.Gatherer)))

	return app
}
