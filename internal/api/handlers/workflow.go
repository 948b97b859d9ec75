package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowline-ai/flowline/internal/api/dto"
	"github.com/flowline-ai/flowline/internal/api/middleware"
	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/lifecycle"
	"github.com/flowline-ai/flowline/internal/pkg/metrics"
	"github.com/flowline-ai/flowline/internal/pkg/validator"
)

// WorkflowHandler serves the lifecycle surface: draft editing, publishing,
// activation, archive and delete.
type WorkflowHandler struct {
	manager   *lifecycle.Manager
	workflows *repositories.WorkflowRepository
}

func NewWorkflowHandler(manager *lifecycle.Manager, workflows *repositories.WorkflowRepository) *WorkflowHandler {
	return &WorkflowHandler{manager: manager, workflows: workflows}
}

func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	opts := repositories.NewListOptions(page, perPage)

	var workflows []models.Workflow
	var err error
	if status := r.URL.Query().Get("status"); status != "" {
		workflows, _, err = h.workflows.FindByStatus(r.Context(), status, opts)
	} else {
		workflows, _, err = h.workflows.FindAll(r.Context(), opts)
	}
	if err != nil {
		dto.InternalServerError(w, "failed to list workflows")
		return
	}
	dto.OK(w, workflows)
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	workflow, err := h.workflows.FindByID(r.Context(), workflowID)
	if err != nil {
		if repositories.IsNotFound(err) {
			dto.NotFound(w, "workflow")
			return
		}
		dto.InternalServerError(w, "failed to load workflow")
		return
	}
	dto.OK(w, workflow)
}

func (h *WorkflowHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req dto.SaveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		dto.ValidationErrorResponse(w, err)
		return
	}

	principal := middleware.PrincipalFromContext(r.Context())
	var updatedBy *string
	if principal != nil {
		updatedBy = &principal.UserID
	}

	checksum, err := h.manager.SaveDraft(r.Context(), workflowID, req.Definition, updatedBy)
	if err != nil {
		var parseErrs definition.ParseErrors
		if errors.As(err, &parseErrs) {
			dto.BadRequest(w, parseErrs.Error())
			return
		}
		dto.BadRequest(w, err.Error())
		return
	}

	dto.OK(w, map[string]string{"checksum": checksum})
}

func (h *WorkflowHandler) Validate(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	result, err := h.manager.ValidateDraft(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoDraft) {
			dto.NotFound(w, "draft")
			return
		}
		dto.InternalServerError(w, "validation failed")
		return
	}
	dto.OK(w, result)
}

func (h *WorkflowHandler) Publish(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req dto.PublishRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			dto.BadRequest(w, "invalid JSON body")
			return
		}
	}

	principal := middleware.PrincipalFromContext(r.Context())
	var publishedBy *string
	if principal != nil {
		publishedBy = &principal.UserID
	}

	outcome, err := h.manager.Publish(r.Context(), workflowID, req.AutoActivate, publishedBy)
	if err != nil {
		var verr *lifecycle.ValidationError
		switch {
		case errors.As(err, &verr):
			metrics.WorkflowPublishesTotal.WithLabelValues("rejected").Inc()
			dto.PublishValidationErrorResponse(w, verr.Result.Errors)
		case errors.Is(err, lifecycle.ErrNoDraft):
			dto.NotFound(w, "draft")
		default:
			dto.InternalServerError(w, "publish failed")
		}
		return
	}

	metrics.WorkflowPublishesTotal.WithLabelValues("accepted").Inc()
	dto.OK(w, outcome)
}

func (h *WorkflowHandler) Activate(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var req dto.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		dto.ValidationErrorResponse(w, err)
		return
	}

	if err := h.manager.Activate(r.Context(), workflowID, req.Version); err != nil {
		h.lifecycleError(w, err)
		return
	}
	dto.NoContent(w)
}

func (h *WorkflowHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Archive(r.Context(), chi.URLParam(r, "workflowID")); err != nil {
		h.lifecycleError(w, err)
		return
	}
	dto.NoContent(w)
}

func (h *WorkflowHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Reactivate(r.Context(), chi.URLParam(r, "workflowID")); err != nil {
		h.lifecycleError(w, err)
		return
	}
	dto.NoContent(w)
}

func (h *WorkflowHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var req dto.SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		dto.BadRequest(w, "invalid JSON body")
		return
	}
	if err := validator.Validate(&req); err != nil {
		dto.ValidationErrorResponse(w, err)
		return
	}

	if err := h.manager.SetEnabled(r.Context(), chi.URLParam(r, "workflowID"), *req.Enabled); err != nil {
		h.lifecycleError(w, err)
		return
	}
	dto.NoContent(w)
}

func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "workflowID")); err != nil {
		h.lifecycleError(w, err)
		return
	}
	dto.NoContent(w)
}

func (h *WorkflowHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.manager.ListVersions(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		dto.InternalServerError(w, "failed to list versions")
		return
	}
	dto.OK(w, versions)
}

func (h *WorkflowHandler) lifecycleError(w http.ResponseWriter, err error) {
	switch {
	case repositories.IsNotFound(err):
		dto.NotFound(w, "workflow")
	case models.IsStoreCode(err, models.CodeIllegalStateTransition):
		dto.Conflict(w, models.CodeIllegalStateTransition, err.Error())
	default:
		dto.InternalServerError(w, "workflow operation failed")
	}
}
