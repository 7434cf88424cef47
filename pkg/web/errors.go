package web

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/novu-co/novu-sub003/pkg/persistence"
	"github.com/novu-co/novu-sub003/pkg/services"
	"github.com/novu-co/novu-sub003/pkg/tier"
	"github.com/novu-co/novu-sub003/pkg/workflow"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps service and persistence errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors

	switch {
	case services.IsValidationError(err),
		errors.Is(err, workflow.ErrInvalidTrigger),
		errors.Is(err, workflow.ErrInvalidPayload),
		errors.Is(err, workflow.ErrTooManyEvents),
		errors.As(err, &validationErrors):
		return badRequest(c, err.Error())

	case errors.Is(err, workflow.ErrWorkflowNotFound), persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", err.Error())

	case errors.Is(err, services.ErrTransactionNotFound):
		return problem(c, fiber.StatusNotFound, "transaction_not_found", err.Error())

	case persistence.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, persistence.ErrWorkflowAlreadyExists),
		persistence.IsSubscriberAlreadyExists(err),
		persistence.IsJobStatusConflict(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error())

	case errors.Is(err, tier.ErrResourceLimitExceeded):
		return problem(c, fiber.StatusUnprocessableEntity, "resource_limit_exceeded", err.Error())

	default:
		return internalError(c, err)
	}
}
