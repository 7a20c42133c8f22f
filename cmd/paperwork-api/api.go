// Package main provides the Paperwork API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/vessoa/paperwork/pkg/cmd"
	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/gatekeeper"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/registry"
	"github.com/vessoa/paperwork/pkg/services"
	"github.com/vessoa/paperwork/pkg/web"
)

type API struct {
	logger        *slog.Logger
	persistence   persistence.Persistence
	registry      *registry.Registry
	collaborators *cmd.Collaborators
	eventBus      eventbus.EventBus
	validate      *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	collaborators *cmd.Collaborators,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:        logger,
		persistence:   persist,
		registry:      reg,
		collaborators: collaborators,
		eventBus:      eventBus,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	runService := services.NewRun(a.persistence, a.eventBus, a.logger)
	workflowService := services.NewWorkflow(a.persistence)
	publishingService := services.NewPublishing(a.persistence)
	gk := gatekeeper.NewGatekeeper("api", a.persistence, a.eventBus, a.logger)

	handlers := web.NewAPIHandlers(
		runService, workflowService, publishingService,
		gk, a.registry, a.collaborators.Signers, a.eventBus,
		a.validate, a.logger,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Paperwork API")
	})

	r := app.Group("/runs")
	r.Post("/", handlers.StartRun)
	r.Get("/", handlers.ListRuns)
	r.Get("/:id", handlers.GetRun)
	r.Delete("/:id", handlers.CancelRun)

	ap := app.Group("/approvals")
	ap.Get("/:token", handlers.GetApproval)
	ap.Post("/:token/approve", handlers.ApproveRequest)
	ap.Post("/:token/reject", handlers.RejectRequest)

	app.Post("/signature-events/:provider", handlers.SignatureWebhook)
	app.Get("/steps", handlers.GetStepSchemas)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Patch("/:id/publish", handlers.PublishWorkflow)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
