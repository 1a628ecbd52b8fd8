package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/pipecrm/wfm/pkg/services"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, services.CodeValidation, detail)
}

func unauthorized(c fiber.Ctx) error {
	return problem(c, fiber.StatusUnauthorized, "unauthenticated", UserIDHeader+" header is required")
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsForbidden(err):
		return problem(c, fiber.StatusForbidden, services.CodeForbidden, err.Error())

	case services.IsInvalidTransition(err):
		return problem(c, fiber.StatusUnprocessableEntity, services.CodeInvalidTransition, err.Error())

	case services.IsValidationError(err):
		return problem(c, fiber.StatusBadRequest, errorCode(err, services.CodeValidation), err.Error())

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, errorCode(err, "conflict"), err.Error())

	case services.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, services.CodeNotFound, err.Error())

	case services.IsConfigurationError(err):
		// The definition is broken, not the request.
		return problem(c, fiber.StatusInternalServerError, services.CodeConfiguration, err.Error())

	default:
		p := problems.NewStatusProblem(fiber.StatusInternalServerError).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(p)
	}
}

// errorCode returns the code carried by a ServiceError, or fallback.
func errorCode(err error, fallback string) string {
	var serviceErr *services.ServiceError
	if errors.As(err, &serviceErr) && serviceErr.Code != "" {
		return serviceErr.Code
	}

	switch {
	case errors.Is(err, services.ErrConcurrentModification):
		return services.CodeConcurrentModification
	case errors.Is(err, services.ErrDuplicate):
		return services.CodeDuplicate
	default:
		return fallback
	}
}
