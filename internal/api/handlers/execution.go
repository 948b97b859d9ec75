package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/api/dto"
	"github.com/flowline-ai/flowline/internal/api/middleware"
	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/domain/services"
	"github.com/flowline-ai/flowline/internal/pkg/validator"
)

// ExecutionHandler serves execute requests and execution introspection.
type ExecutionHandler struct {
	engine  *services.EngineService
	gateway *repositories.Gateway
}

func NewExecutionHandler(engine *services.EngineService, gateway *repositories.Gateway) *ExecutionHandler {
	return &ExecutionHandler{engine: engine, gateway: gateway}
}

// Execute starts a run. 202 for a new execution, 200 when the requestId was
// seen before, 409 when the requestId belongs to another workflow.
func (h *ExecutionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req dto.ExecuteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			dto.BadRequest(w, "invalid JSON body")
			return
		}
		if err := validator.Validate(&req); err != nil {
			dto.ValidationErrorResponse(w, err)
			return
		}
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	principal := req.Principal
	if principal == nil {
		principal = middleware.PrincipalFromContext(r.Context())
	}

	execution, wasExisting, err := h.engine.Execute(r.Context(), &services.ExecuteInput{
		WorkflowID:    workflowID,
		Version:       req.Version,
		RequestID:     req.RequestID,
		Trigger:       req.Trigger,
		Principal:     principal,
		Priority:      req.Priority,
		TenantID:      req.TenantID,
		CorrelationID: middleware.CorrelationIDFromContext(r.Context()),
	})
	if err != nil {
		h.startError(w, err)
		return
	}

	response := dto.ExecuteResponse{
		ExecutionID: execution.ID.String(),
		Status:      execution.Status,
		StatusURL:   fmt.Sprintf("/api/v1/executions/%s", execution.ID),
	}
	if wasExisting {
		dto.OK(w, response)
		return
	}
	dto.Accepted(w, response)
}

func (h *ExecutionHandler) startError(w http.ResponseWriter, err error) {
	switch {
	case models.IsStoreCode(err, models.CodeRequestIDConflictOtherWorkflow):
		dto.Conflict(w, models.CodeRequestIDConflictOtherWorkflow, err.Error())
	case errors.Is(err, repositories.ErrWorkflowNotFound):
		dto.NotFound(w, "workflow")
	case errors.Is(err, repositories.ErrWorkflowNotActive),
		errors.Is(err, repositories.ErrWorkflowDisabled),
		errors.Is(err, repositories.ErrNoPublishedVersion):
		dto.UnprocessableEntity(w, "WORKFLOW_NOT_EXECUTABLE", err.Error())
	default:
		dto.InternalServerError(w, "failed to start execution")
	}
}

func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	executionID, ok := h.executionID(w, r)
	if !ok {
		return
	}

	execution, err := h.gateway.GetExecution(r.Context(), executionID)
	if err != nil {
		if repositories.IsNotFound(err) {
			dto.NotFound(w, "execution")
			return
		}
		dto.InternalServerError(w, "failed to load execution")
		return
	}
	dto.OK(w, execution)
}

// Attempts returns the per-node attempt rows, oldest first.
func (h *ExecutionHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	executionID, ok := h.executionID(w, r)
	if !ok {
		return
	}

	attempts, err := h.gateway.Attempts.FindByExecution(r.Context(), executionID)
	if err != nil {
		dto.InternalServerError(w, "failed to load attempts")
		return
	}
	dto.OK(w, attempts)
}

// Events returns the audit trail page by page.
func (h *ExecutionHandler) Events(w http.ResponseWriter, r *http.Request) {
	executionID, ok := h.executionID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	events, err := h.gateway.Events.FindByExecution(r.Context(), executionID, opts)
	if err != nil {
		dto.InternalServerError(w, "failed to load events")
		return
	}
	dto.OK(w, events)
}

// Children lists the sub-workflow executions this run spawned.
func (h *ExecutionHandler) Children(w http.ResponseWriter, r *http.Request) {
	executionID, ok := h.executionID(w, r)
	if !ok {
		return
	}

	children, err := h.gateway.Hierarchy.FindChildren(r.Context(), executionID)
	if err != nil {
		dto.InternalServerError(w, "failed to load child executions")
		return
	}
	dto.OK(w, children)
}

// ResourceLinks lists the external resources this run claimed.
func (h *ExecutionHandler) ResourceLinks(w http.ResponseWriter, r *http.Request) {
	executionID, ok := h.executionID(w, r)
	if !ok {
		return
	}

	links, err := h.gateway.ResourceLinks.FindByExecution(r.Context(), executionID)
	if err != nil {
		dto.InternalServerError(w, "failed to load resource links")
		return
	}
	dto.OK(w, links)
}

// ListByWorkflow pages through a workflow's executions, newest first.
func (h *ExecutionHandler) ListByWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	executions, _, err := h.gateway.Executions.FindByWorkflowID(r.Context(), workflowID, opts)
	if err != nil {
		dto.InternalServerError(w, "failed to list executions")
		return
	}
	dto.OK(w, executions)
}

func (h *ExecutionHandler) executionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "executionID"))
	if err != nil {
		dto.BadRequest(w, "invalid execution id")
		return uuid.Nil, false
	}
	return id, true
}
