// Package main provides the Voyager API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/voyagerhq/voyager/pkg/persistence"
	"github.com/voyagerhq/voyager/pkg/ratelimit"
	"github.com/voyagerhq/voyager/pkg/services"
	"github.com/voyagerhq/voyager/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	limiter     ratelimit.Limiter
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, p persistence.Persistence, limiter ratelimit.Limiter) *API {
	return &API{
		logger:      logger,
		persistence: p,
		limiter:     limiter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	enrollmentService := services.NewEnrollment(a.persistence, a.logger)
	publishingService := services.NewPublishing(a.persistence, a.logger)

	handlers := web.NewAPIHandlers(enrollmentService, publishingService, a.limiter, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Voyager API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
