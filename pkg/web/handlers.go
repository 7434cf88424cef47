package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/novu-co/novu-sub003/pkg/models"
	"github.com/novu-co/novu-sub003/pkg/services"
	"github.com/novu-co/novu-sub003/pkg/subscriber"
	"github.com/novu-co/novu-sub003/pkg/workflow"
)

type APIHandlers struct {
	triggers    *workflow.TriggerService
	workflows   *services.Workflow
	activity    *services.Activity
	subscribers *subscriber.Resolver
	validator   *validator.Validate
}

func NewAPIHandlers(
	triggers *workflow.TriggerService,
	workflows *services.Workflow,
	activity *services.Activity,
	subscribers *subscriber.Resolver,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		triggers:    triggers,
		workflows:   workflows,
		activity:    activity,
		subscribers: subscribers,
		validator:   validator,
	}
}

// Register mounts the API routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	v1 := router.Group("/v1")

	events := v1.Group("/events")
	events.Post("/trigger", h.Trigger)
	events.Post("/trigger/broadcast", h.Broadcast)
	events.Post("/trigger/bulk", h.Bulk)

	workflows := v1.Group("/workflows")
	workflows.Post("/", h.SaveWorkflow)
	workflows.Get("/:identifier", h.GetWorkflow)
	workflows.Delete("/:identifier", h.DeleteWorkflow)

	v1.Put("/subscribers/:subscriberId", h.IdentifySubscriber)
	v1.Get("/activity/:transactionId", h.GetActivity)
}

type tenancy struct {
	environmentID  string
	organizationID string
}

func scope(c fiber.Ctx) (tenancy, error) {
	t := tenancy{
		environmentID:  c.Get(EnvironmentHeader),
		organizationID: c.Get(OrganizationHeader),
	}

	if t.environmentID == "" || t.organizationID == "" {
		return t, fmt.Errorf("%s and %s headers are required", EnvironmentHeader, OrganizationHeader)
	}

	return t, nil
}

func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return strings.Join(messages, "; ")
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Novu API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Novu API is healthy"
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

func (h *APIHandlers) bindTrigger(c fiber.Ctx) (models.TriggerCommand, error) {
	var cmd models.TriggerCommand

	t, err := scope(c)
	if err != nil {
		return cmd, err
	}

	if err := c.Bind().JSON(&cmd); err != nil {
		return cmd, fmt.Errorf("invalid JSON format: %w", err)
	}

	cmd.EnvironmentID = t.environmentID
	cmd.OrganizationID = t.organizationID

	return cmd, nil
}

func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	cmd, err := h.bindTrigger(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	response, err := h.triggers.Trigger(c.Context(), cmd)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(response)
}

func (h *APIHandlers) Broadcast(c fiber.Ctx) error {
	cmd, err := h.bindTrigger(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	response, err := h.triggers.Broadcast(c.Context(), cmd)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(response)
}

func (h *APIHandlers) Bulk(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req BulkTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	for i := range req.Events {
		req.Events[i].EnvironmentID = t.environmentID
		req.Events[i].OrganizationID = t.organizationID
	}

	responses, err := h.triggers.Bulk(c.Context(), req.Events)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(BulkTriggerResponse{Data: responses})
}

func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, validationMessage(err))
	}

	result, err := h.workflows.Save(c.Context(), &models.Workflow{
		EnvironmentID:  t.environmentID,
		OrganizationID: t.organizationID,
		Identifier:     req.Identifier,
		Name:           req.Name,
		Active:         req.Active,
		Critical:       req.Critical,
		PayloadSchema:  req.PayloadSchema,
		Steps:          req.Steps,
		Tags:           req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.workflows.FetchByIdentifier(c.Context(), t.environmentID, c.Params("identifier"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	err = h.workflows.Delete(c.Context(), t.environmentID, c.Params("identifier"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// IdentifySubscriber creates the subscriber or merges the given profile into the stored one.
func (h *APIHandlers) IdentifySubscriber(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var payload models.SubscriberPayload
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON format: "+err.Error())
	}

	payload.SubscriberID = c.Params("subscriberId")

	sub, err := h.subscribers.Identify(c.Context(), t.environmentID, t.organizationID, payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(sub)
}

func (h *APIHandlers) GetActivity(c fiber.Ctx) error {
	t, err := scope(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	timeline, err := h.activity.Transaction(c.Context(), t.environmentID, c.Params("transactionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(timeline)
}
