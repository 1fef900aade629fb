// Package web provides the HTTP boundary for workflow engine commands and templates.
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/templates"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

var errMissingActor = errors.New("missing actor")

type APIHandlers struct {
	engine      *engine.Engine
	templates   *templates.Service
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	engine *engine.Engine,
	templates *templates.Service,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		templates:   templates,
		persistence: persistence,
		validator:   validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	var check string

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	start := engine.StartRequest{
		TemplateID: req.TemplateID,
		AccountID:  accountID,
		Name:       req.Name,
		IsUrgent:   req.IsUrgent,
		DueDate:    req.DueDate,
		Kickoff:    req.Kickoff,
	}

	if actorID, err := headerID(c, ActorIDHeader); err == nil {
		start.StarterID = &actorID
	}

	workflow, err := h.engine.Start(c.Context(), start)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	workflow, err := h.engine.Workflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	if workflow.AccountID != accountID {
		return notFound(c, "Workflow not found")
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	actor := actorFrom(c)

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Task number must be an integer")
	}

	var req CompleteTaskRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.CompleteTask(c.Context(), engine.CompleteTaskRequest{
			WorkflowID: actor.workflowID,
			TaskNumber: number,
			UserID:     actor.userID,
			Values:     req.Values,
		})
	})
}

func (h *APIHandlers) RevertWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)

	var req RevertRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.Revert(c.Context(), actor.workflowID, req.ToTask, actor.userID)
	})
}

func (h *APIHandlers) ReturnToTask(c fiber.Ctx) error {
	actor := actorFrom(c)

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Task number must be an integer")
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.ReturnTo(c.Context(), actor.workflowID, number, actor.userID)
	})
}

func (h *APIHandlers) ForceComplete(c fiber.Ctx) error {
	actor := actorFrom(c)

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.ForceComplete(c.Context(), actor.workflowID, actor.userID)
	})
}

func (h *APIHandlers) DelayWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)

	until, err := h.parseDelay(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.ForceDelay(c.Context(), actor.workflowID, until, actor.userID)
	})
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.ForceResume(c.Context(), actor.workflowID, actor.userID)
	})
}

func (h *APIHandlers) DelayTask(c fiber.Ctx) error {
	actor := actorFrom(c)

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Task number must be an integer")
	}

	until, err := h.parseDelay(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.DelayTask(c.Context(), actor.workflowID, number, until, actor.userID)
	})
}

func (h *APIHandlers) TerminateWorkflow(c fiber.Ctx) error {
	actor := actorFrom(c)

	if err := h.engine.Terminate(c.Context(), actor.workflowID, actor.userID); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) SetUrgent(c fiber.Ctx) error {
	actor := actorFrom(c)

	var req UrgentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.SetUrgent(c.Context(), actor.workflowID, req.Urgent, actor.userID)
	})
}

func (h *APIHandlers) AddPerformer(c fiber.Ctx) error {
	actor := actorFrom(c)

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Task number must be an integer")
	}

	var req PerformerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.AddPerformer(c.Context(), engine.PerformerRequest{
			WorkflowID: actor.workflowID,
			TaskNumber: number,
			Type:       models.PerformerType(req.Type),
			ID:         req.ID,
			UserID:     actor.userID,
		})
	})
}

func (h *APIHandlers) RemovePerformer(c fiber.Ctx) error {
	actor := actorFrom(c)

	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Task number must be an integer")
	}

	performerID, err := strconv.ParseInt(c.Params("performerId"), 10, 64)
	if err != nil {
		return badRequest(c, "Performer ID must be an integer")
	}

	performerType := models.PerformerType(c.Params("type"))
	if performerType != models.PerformerTypeUser && performerType != models.PerformerTypeGroup {
		return badRequest(c, "Performer type must be user or group")
	}

	return h.respond(c, func() (*models.Workflow, error) {
		return h.engine.RemovePerformer(c.Context(), engine.PerformerRequest{
			WorkflowID: actor.workflowID,
			TaskNumber: number,
			Type:       performerType,
			ID:         performerID,
			UserID:     actor.userID,
		})
	})
}

type actorKey struct{}

// actorContext is the tenant, user and workflow a command runs against.
type actorContext struct {
	accountID  int64
	userID     int64
	workflowID string
}

// RequireActor reads the actor headers and checks that the workflow in the path belongs
// to the account before handing over to the command handler.
func (h *APIHandlers) RequireActor(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	userID, err := headerID(c, ActorIDHeader)
	if err != nil {
		return unauthorized(c, "Actor is required")
	}

	workflowID := c.Params("id")

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), workflowID)
	if err != nil {
		return internalError(c, err)
	}

	if workflow == nil || workflow.AccountID != accountID {
		return notFound(c, "Workflow not found")
	}

	c.Locals(actorKey{}, &actorContext{accountID: accountID, userID: userID, workflowID: workflowID})

	return c.Next()
}

func actorFrom(c fiber.Ctx) *actorContext {
	actor, _ := c.Locals(actorKey{}).(*actorContext)

	return actor
}

func (h *APIHandlers) respond(c fiber.Ctx, command func() (*models.Workflow, error)) error {
	workflow, err := command()
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) parseDelay(c fiber.Ctx) (time.Time, error) {
	var req DelayRequest
	if err := c.Bind().JSON(&req); err != nil {
		return time.Time{}, errors.New("invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return time.Time{}, err
	}

	return *req.Until, nil
}

func headerID(c fiber.Ctx, header string) (int64, error) {
	value := c.Get(header)
	if value == "" {
		return 0, errMissingActor
	}

	return strconv.ParseInt(value, 10, 64)
}
