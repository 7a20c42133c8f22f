package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/gatekeeper"
	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/protocol"
	"github.com/vessoa/paperwork/pkg/registry"
	"github.com/vessoa/paperwork/pkg/services"
)

type APIHandlers struct {
	runService        *services.Run
	workflowService   *services.Workflow
	publishingService *services.Publishing
	gatekeeper        *gatekeeper.Gatekeeper
	registry          *registry.Registry
	providers         map[string]protocol.SignatureProvider
	publisher         eventbus.EventPublisher
	validator         *validator.Validate
	logger            *slog.Logger
}

func NewAPIHandlers(
	runService *services.Run,
	workflowService *services.Workflow,
	publishingService *services.Publishing,
	gk *gatekeeper.Gatekeeper,
	reg *registry.Registry,
	providers map[string]protocol.SignatureProvider,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		runService:        runService,
		workflowService:   workflowService,
		publishingService: publishingService,
		gatekeeper:        gk,
		registry:          reg,
		providers:         providers,
		publisher:         publisher,
		validator:         validator,
		logger:            logger.With("module", "api"),
	}
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req services.StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.runService.StartRun(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) ListRuns(c fiber.Ctx) error {
	runs, err := h.runService.List(c.Context(), c.Query("workflow_id"), c.Query("status"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.runService.CancelRun(c.Context(), id, c.Query("canceled_by"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	request, err := h.gatekeeper.RequestByToken(c.Context(), c.Params("token"))
	if err != nil {
		return handleDecisionError(c, err)
	}

	return c.JSON(TransformApprovalResponse(request))
}

func (h *APIHandlers) ApproveRequest(c fiber.Ctx) error {
	return h.decide(c, models.ApprovalStatusApproved)
}

func (h *APIHandlers) RejectRequest(c fiber.Ctx) error {
	return h.decide(c, models.ApprovalStatusRejected)
}

func (h *APIHandlers) decide(c fiber.Ctx, outcome models.ApprovalStatus) error {
	var req DecisionRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	request, err := h.gatekeeper.Decide(c.Context(), c.Params("token"), outcome, req.DecidedBy, req.Comment)
	if err != nil {
		return handleDecisionError(c, err)
	}

	return c.JSON(TransformApprovalResponse(request))
}

// SignatureWebhook accepts one provider notification, normalizes it through
// the provider's adapter, and republishes it as a signature update signal.
// The gatekeeper consumes the signal; unknown envelopes are dropped there.
func (h *APIHandlers) SignatureWebhook(c fiber.Ctx) error {
	providerName := c.Params("provider")

	provider, ok := h.providers[providerName]
	if !ok {
		return notFound(c, "Unknown signature provider")
	}

	event, err := provider.ParseWebhookEvent(c.Body())
	if err != nil {
		return badRequest(c, "Unparseable webhook payload: "+err.Error())
	}

	update := events.SignatureUpdated{
		BaseEvent:      events.NewBaseEvent(events.SignatureUpdatedEvent, ""),
		Provider:       provider.Name(),
		ExternalID:     event.ExternalID,
		Status:         event.Status,
		SignerStatuses: event.SignerStatuses,
		OccurredAt:     event.OccurredAt,
	}

	if err := h.publisher.Publish(c.Context(), event.ExternalID, update); err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Signature webhook accepted",
		"provider", provider.Name(), "external_id", event.ExternalID, "status", string(event.Status))

	return c.SendStatus(fiber.StatusAccepted)
}

// GetStepSchemas lists the registered step kinds and their configuration
// schemas, so authoring tools can discover what a workflow may contain.
func (h *APIHandlers) GetStepSchemas(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"steps": h.registry.Schemas(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Metadata:    req.Metadata,
		Steps:       TransformSteps(req.Steps),
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	if req.Steps != nil {
		existing.Steps = TransformSteps(req.Steps)
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	published, err := h.publishingService.PublishWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Paperwork API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Paperwork API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
