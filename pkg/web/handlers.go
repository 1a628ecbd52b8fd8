// Package web provides HTTP handlers and REST API endpoints for WFM authoring, projects and CRM entities.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/services"
)

type APIHandlers struct {
	authoring *services.Authoring
	projects  *services.Projects
	leads     *services.Leads
	deals     *services.Deals
	metrics   *metrics.Metrics
	validator *validator.Validate
}

func NewAPIHandlers(
	authoring *services.Authoring,
	projects *services.Projects,
	leads *services.Leads,
	deals *services.Deals,
	metrics *metrics.Metrics,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		authoring: authoring,
		projects:  projects,
		leads:     leads,
		deals:     deals,
		metrics:   metrics,
		validator: validator,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	router.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, ok := h.authoring.HealthCheck(c.Context())

			return ok
		},
	}))
	router.Get("/health", h.HealthCheck)

	if h.metrics != nil {
		router.Get("/metrics", adaptor.HTTPHandler(h.metrics.Handler()))
	}

	s := router.Group("/statuses")
	s.Get("/", h.GetStatuses)
	s.Post("/", h.CreateStatus)
	s.Patch("/:id", h.UpdateStatus)

	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)

	// Step endpoints:
	w.Get("/:id/steps", h.GetSteps)
	w.Post("/:id/steps", h.CreateStep)
	w.Put("/:id/steps/order", h.ReorderSteps)
	w.Patch("/:id/steps/:stepId", h.UpdateStep)
	w.Delete("/:id/steps/:stepId", h.DeleteStep)

	// Transition endpoints:
	w.Get("/:id/transitions", h.GetTransitions)
	w.Post("/:id/transitions", h.CreateTransition)
	w.Delete("/:id/transitions/:transitionId", h.DeleteTransition)

	pt := router.Group("/project-types")
	pt.Get("/", h.GetProjectTypes)
	pt.Post("/", h.CreateProjectType)
	pt.Patch("/:id", h.UpdateProjectType)

	p := router.Group("/projects")
	p.Get("/:id", h.GetProject)
	p.Get("/:id/next-steps", h.GetNextSteps)

	l := router.Group("/leads")
	l.Post("/", h.CreateLead)
	l.Get("/:id", h.GetLead)
	l.Patch("/:id", h.UpdateLead)
	l.Delete("/:id", h.DeleteLead)
	l.Post("/:id/wfm-progress", h.ProgressLead)
	l.Get("/:id/history", h.GetLeadHistory)

	d := router.Group("/deals")
	d.Post("/", h.CreateDeal)
	d.Get("/:id", h.GetDeal)
	d.Patch("/:id", h.UpdateDeal)
	d.Delete("/:id", h.DeleteDeal)
	d.Post("/:id/wfm-progress", h.ProgressDeal)
	d.Get("/:id/history", h.GetDealHistory)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.authoring.HealthCheck(c.Context())

	status := "unhealthy"
	message := "WFM API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "WFM API is healthy"
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

// bind decodes and validates a JSON body. It writes the 400 response itself and reports whether
// the handler should continue.
func (h *APIHandlers) bind(c fiber.Ctx, req any) (bool, error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return false, badRequest(c, err.Error())
	}

	return true, nil
}

// Statuses

func (h *APIHandlers) GetStatuses(c fiber.Ctx) error {
	statuses, err := h.authoring.ListStatuses(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(statuses)
}

func (h *APIHandlers) CreateStatus(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req CreateStatusRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	status, err := h.authoring.CreateStatus(c.Context(), &models.Status{
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
	}, actor.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(status)
}

func (h *APIHandlers) UpdateStatus(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req UpdateStatusRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	status, err := h.authoring.UpdateStatus(c.Context(), c.Params("id"), services.StatusUpdate{
		Name:        req.Name,
		Color:       req.Color,
		Description: req.Description,
		IsArchived:  req.IsArchived,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(status)
}

// Workflows

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	includeArchived := false

	if includeArchivedStr := c.Query("include_archived"); includeArchivedStr != "" {
		parsed, err := strconv.ParseBool(includeArchivedStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		includeArchived = parsed
	}

	workflows, err := h.authoring.ListWorkflows(c.Context(), includeArchived)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.authoring.GetWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req CreateWorkflowRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	workflow, err := h.authoring.CreateWorkflow(c.Context(), &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
	}, actor.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req UpdateWorkflowRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	workflow, err := h.authoring.UpdateWorkflow(c.Context(), c.Params("id"), services.WorkflowUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsArchived:  req.IsArchived,
	}, actor.UserID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

// Steps

func (h *APIHandlers) GetSteps(c fiber.Ctx) error {
	steps, err := h.authoring.ListSteps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(steps)
}

func (h *APIHandlers) CreateStep(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req CreateStepRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	step, err := h.authoring.CreateStep(c.Context(), c.Params("id"), services.StepInput{
		StatusID:      req.StatusID,
		StepOrder:     req.StepOrder,
		IsInitialStep: req.IsInitialStep,
		IsFinalStep:   req.IsFinalStep,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req UpdateStepRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	step, err := h.authoring.UpdateStep(c.Context(), c.Params("id"), c.Params("stepId"), services.StepUpdate{
		StatusID:      req.StatusID,
		IsInitialStep: req.IsInitialStep,
		IsFinalStep:   req.IsFinalStep,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) DeleteStep(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	err := h.authoring.DeleteStep(c.Context(), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ReorderSteps(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req ReorderStepsRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	steps, err := h.authoring.ReorderSteps(c.Context(), c.Params("id"), req.StepIDs)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(steps)
}

// Transitions

func (h *APIHandlers) GetTransitions(c fiber.Ctx) error {
	transitions, err := h.authoring.ListTransitions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(transitions)
}

func (h *APIHandlers) CreateTransition(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req CreateTransitionRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	transition, err := h.authoring.CreateTransition(c.Context(), c.Params("id"), req.FromStepID, req.ToStepID, req.Name)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(transition)
}

func (h *APIHandlers) DeleteTransition(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	err := h.authoring.DeleteTransition(c.Context(), c.Params("id"), c.Params("transitionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Project types

func (h *APIHandlers) GetProjectTypes(c fiber.Ctx) error {
	projectTypes, err := h.authoring.ListProjectTypes(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(projectTypes)
}

func (h *APIHandlers) CreateProjectType(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req CreateProjectTypeRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	projectType, err := h.authoring.CreateProjectType(c.Context(), &models.ProjectType{
		Name:              req.Name,
		Description:       req.Description,
		DefaultWorkflowID: req.DefaultWorkflowID,
		IconName:          req.IconName,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(projectType)
}

func (h *APIHandlers) UpdateProjectType(c fiber.Ctx) error {
	if actorFrom(c).UserID == "" {
		return unauthorized(c)
	}

	var req UpdateProjectTypeRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	projectType, err := h.authoring.UpdateProjectType(c.Context(), c.Params("id"), services.ProjectTypeUpdate{
		Name:              req.Name,
		Description:       req.Description,
		DefaultWorkflowID: req.DefaultWorkflowID,
		IconName:          req.IconName,
		IsArchived:        req.IsArchived,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(projectType)
}

// Projects

func (h *APIHandlers) GetProject(c fiber.Ctx) error {
	project, err := h.projects.GetProject(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(project)
}

func (h *APIHandlers) GetNextSteps(c fiber.Ctx) error {
	steps, err := h.projects.NextSteps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(steps)
}
