package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/services"
)

// Leads

func (h *APIHandlers) CreateLead(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req CreateLeadRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	lead, err := h.leads.Create(c.Context(), &models.Lead{
		Name:             req.Name,
		ContactName:      req.ContactName,
		ContactEmail:     req.ContactEmail,
		Source:           req.Source,
		CreatedBy:        actor.UserID,
		AssignedToUserID: req.AssignedToUserID,
	}, actor, services.CreateOptions{WorkflowID: req.WorkflowID})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(lead)
}

func (h *APIHandlers) GetLead(c fiber.Ctx) error {
	lead, err := h.leads.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(lead)
}

func (h *APIHandlers) UpdateLead(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req UpdateLeadRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	lead, err := h.leads.Update(c.Context(), c.Params("id"), actor, func(lead *models.Lead) error {
		req.apply(lead)

		return nil
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(lead)
}

func (h *APIHandlers) DeleteLead(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	err := h.leads.Delete(c.Context(), c.Params("id"), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ProgressLead is updateLeadWFMProgress: it moves the lead's project and returns the updated lead.
func (h *APIHandlers) ProgressLead(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req ProgressRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	lead, err := h.leads.Progress(c.Context(), c.Params("id"), req.TargetStepID, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(lead)
}

func (h *APIHandlers) GetLeadHistory(c fiber.Ctx) error {
	history, err := h.leads.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(history)
}

// Deals

func (h *APIHandlers) CreateDeal(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req CreateDealRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	deal, err := h.deals.Create(c.Context(), &models.Deal{
		Name:                    req.Name,
		Amount:                  req.Amount,
		Currency:                req.Currency,
		ExpectedCloseDate:       req.ExpectedCloseDate,
		CreatedBy:               actor.UserID,
		AssignedToUserID:        req.AssignedToUserID,
		DealSpecificProbability: req.DealSpecificProbability,
	}, actor, services.CreateOptions{WorkflowID: req.WorkflowID})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(newDealResponse(deal))
}

func (h *APIHandlers) GetDeal(c fiber.Ctx) error {
	deal, err := h.deals.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newDealResponse(deal))
}

func (h *APIHandlers) UpdateDeal(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req UpdateDealRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	deal, err := h.deals.Update(c.Context(), c.Params("id"), actor, func(deal *models.Deal) error {
		req.apply(deal)

		return nil
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newDealResponse(deal))
}

func (h *APIHandlers) DeleteDeal(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	err := h.deals.Delete(c.Context(), c.Params("id"), actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ProgressDeal is updateDealWFMProgress: it moves the deal's project and returns the updated deal.
func (h *APIHandlers) ProgressDeal(c fiber.Ctx) error {
	actor := actorFrom(c)
	if actor.UserID == "" {
		return unauthorized(c)
	}

	var req ProgressRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	deal, err := h.deals.Progress(c.Context(), c.Params("id"), req.TargetStepID, actor)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(newDealResponse(deal))
}

func (h *APIHandlers) GetDealHistory(c fiber.Ctx) error {
	history, err := h.deals.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(history)
}
