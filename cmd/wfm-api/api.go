// Package main provides the WFM API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/pipecrm/wfm/pkg/eventbus"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/pipecrm/wfm/pkg/services"
	"github.com/pipecrm/wfm/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	cache       services.DefinitionCache
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	cache services.DefinitionCache,
	metrics *metrics.Metrics,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		publisher:   publisher,
		cache:       cache,
		metrics:     metrics,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	validatorService := services.NewValidator(a.persistence, a.cache, a.metrics, a.logger)
	authoring := services.NewAuthoring(a.persistence, a.cache, a.tracer, a.logger)
	projects := services.NewProjects(a.persistence, validatorService, a.metrics, a.tracer, a.logger)
	progression := services.NewProgression(a.persistence, validatorService, a.publisher, a.metrics, a.tracer, a.logger)

	deps := services.EntityDeps{
		Persistence: a.persistence,
		Projects:    projects,
		Progression: progression,
		Publisher:   a.publisher,
		Logger:      a.logger,
	}

	handlers := web.NewAPIHandlers(
		authoring,
		projects,
		services.NewLeads(deps),
		services.NewDeals(deps),
		a.metrics,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("WFM API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
