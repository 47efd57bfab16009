// Package web provides the HTTP handlers for graph, trigger, event and
// dead-letter administration endpoints.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/flowstone-io/flowstone/pkg/dispatcher"
	"github.com/flowstone-io/flowstone/pkg/eventlog"
	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/persistence"
	"github.com/flowstone-io/flowstone/pkg/services"
	"github.com/flowstone-io/flowstone/pkg/webhook"
)

type APIHandlers struct {
	graphService     *services.Graph
	triggerService   *services.Trigger
	executionService *services.Execution
	webhookService   *webhook.Service
	eventLog         *eventlog.Log
	dispatcher       *dispatcher.Dispatcher
	validator        *validator.Validate
}

func NewAPIHandlers(
	graphService *services.Graph,
	triggerService *services.Trigger,
	executionService *services.Execution,
	webhookService *webhook.Service,
	eventLog *eventlog.Log,
	eventDispatcher *dispatcher.Dispatcher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		graphService:     graphService,
		triggerService:   triggerService,
		executionService: executionService,
		webhookService:   webhookService,
		eventLog:         eventLog,
		dispatcher:       eventDispatcher,
		validator:        validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.graphService.HealthCheck(c.Context())

	status := "unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetGraphs(c fiber.Ctx) error {
	graphs, err := h.graphService.List(c.Context(), c.Query("tenant_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"graphs": graphs})
}

func (h *APIHandlers) GetGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	graph, err := h.graphService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(graph)
}

func (h *APIHandlers) CreateGraph(c fiber.Ctx) error {
	var req CreateGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	graph := &models.WorkflowGraph{
		Name:        req.Name,
		Description: req.Description,
		TenantID:    req.TenantID,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	created, err := h.graphService.Create(c.Context(), graph)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	var req UpdateGraphRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.graphService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}

	if req.Edges != nil {
		existing.Edges = req.Edges
	}

	updated, err := h.graphService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	err := h.graphService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	published, err := h.graphService.Publish(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) UnpublishGraph(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	unpublished, err := h.graphService.Unpublish(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(unpublished)
}

// RotateWebhookSecret regenerates the secret of the graph's webhook
// trigger. The secret appears in this response only.
func (h *APIHandlers) RotateWebhookSecret(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Graph ID is required")
	}

	secret, err := h.triggerService.RotateSecretForGraph(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SecretResponse{Secret: secret})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	graphID := c.Params("id")
	if graphID == "" {
		return badRequest(c, "Graph ID is required")
	}

	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := h.graphService.FetchByID(c.Context(), graphID); err != nil {
		return handleServiceError(c, err)
	}

	trigger := &models.WorkflowTrigger{
		GraphID:          graphID,
		TenantID:         req.TenantID,
		TriggerType:      req.TriggerType,
		EntityType:       req.EntityType,
		FieldName:        req.FieldName,
		FilterConditions: req.FilterConditions,
		CronExpression:   req.CronExpression,
		NextRunAt:        req.NextRunAt,
	}

	created, secret, err := h.triggerService.Create(c.Context(), trigger)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(CreateTriggerResponse{
		Trigger: created,
		Secret:  secret,
	})
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	trigger, err := h.triggerService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(trigger)
}

func (h *APIHandlers) UpdateTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	var req UpdateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	existing, err := h.triggerService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.EntityType != nil {
		existing.EntityType = *req.EntityType
	}

	if req.FieldName != nil {
		existing.FieldName = *req.FieldName
	}

	if req.FilterConditions != nil {
		existing.FilterConditions = req.FilterConditions
	}

	if req.CronExpression != nil {
		existing.CronExpression = *req.CronExpression
		existing.NextRunAt = nil
	}

	if req.NextRunAt != nil {
		existing.NextRunAt = req.NextRunAt
	}

	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	updated, err := h.triggerService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	err := h.triggerService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DeactivateTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	deactivated, err := h.triggerService.Deactivate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(deactivated)
}

// RunTrigger fires a manual trigger and returns the queued execution id.
func (h *APIHandlers) RunTrigger(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	var req RunTriggerRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	executionID, err := h.triggerService.Run(c.Context(), id, req.Data)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAccepted{ExecutionID: executionID})
}

// InvokeWebhook authenticates and queues a webhook trigger invocation.
// Status codes distinguish unknown trigger (404), inactive or unconfigured
// trigger (403), bad signature (401) and malformed payload (400).
func (h *APIHandlers) InvokeWebhook(c fiber.Ctx) error {
	id := c.Params("triggerId")
	if id == "" {
		return badRequest(c, "Trigger ID is required")
	}

	signature := c.Get(webhook.SignatureHeader)
	body := c.Body()

	executionID, err := h.webhookService.Invoke(c.Context(), id, signature, body)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrTriggerNotFound):
			return notFound(c, "webhook trigger not found")
		case errors.Is(err, webhook.ErrTriggerInactive), errors.Is(err, webhook.ErrSecretNotConfigured):
			return forbidden(c, err.Error())
		case errors.Is(err, webhook.ErrSignatureMismatch):
			return unauthorized(c, "signature verification failed")
		case errors.Is(err, webhook.ErrBadPayload):
			return badRequest(c, "payload is not valid JSON")
		default:
			return internalError(c, err)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionAccepted{ExecutionID: executionID})
}

// AppendEvent appends one event to an aggregate's stream and publishes it
// to the dispatcher. A version race returns 409.
func (h *APIHandlers) AppendEvent(c fiber.Ctx) error {
	var req AppendEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.eventLog.Append(c.Context(), eventlog.AppendRequest{
		AggregateID:     req.AggregateID,
		AggregateType:   req.AggregateType,
		ExpectedVersion: req.ExpectedVersion,
		EventType:       req.EventType,
		EventData:       req.EventData,
		TenantID:        req.TenantID,
		CausedBy:        req.CausedBy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	err = h.dispatcher.Publish(c.Context(), event)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetDeadLetters(c fiber.Ctx) error {
	entries, err := h.dispatcher.AllDeadLetters(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"dead_letters": entries})
}

// RetryDeadLetter re-delivers a dead-lettered event to its failed
// handlers under the normal retry policy.
func (h *APIHandlers) RetryDeadLetter(c fiber.Ctx) error {
	eventID := c.Params("eventId")
	if eventID == "" {
		return badRequest(c, "Event ID is required")
	}

	err := h.dispatcher.RetryDeadLetter(c.Context(), eventID)
	if err != nil {
		if errors.Is(err, persistence.ErrDeadLetterNotFound) {
			return notFound(c, "dead letter not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ClearDeadLetters(c fiber.Ctx) error {
	err := h.dispatcher.ClearDeadLetters(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ReplayEvents republishes stored events through the dispatcher, either
// for one aggregate or for everything since a timestamp.
func (h *APIHandlers) ReplayEvents(c fiber.Ctx) error {
	var req ReplayRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if (req.AggregateID == "") == (req.Since == nil) {
		return badRequest(c, "Exactly one of aggregate_id or since is required")
	}

	var (
		replayed int
		err      error
	)

	if req.AggregateID != "" {
		replayed, err = h.dispatcher.ReplayAggregate(c.Context(), req.AggregateID)
	} else {
		replayed, err = h.dispatcher.ReplaySince(c.Context(), *req.Since)
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"replayed": replayed})
}
