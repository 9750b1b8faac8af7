package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gorax/gorax/internal/api/middleware"
	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/validation"
	"github.com/gorax/gorax/internal/workflow"
)

// WorkflowHandler handles workflow-related HTTP requests.
type WorkflowHandler struct {
	service *workflow.Service
	logger  *slog.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(service *workflow.Service, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		service: service,
		logger:  logger,
	}
}

// List returns workflows owned by the authenticated user.
func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	limit, _ := validation.ParsePaginationLimit(
		r.URL.Query().Get("limit"),
		validation.DefaultPaginationLimit,
		validation.MaxPaginationLimit,
	)
	offset, _ := validation.ParsePaginationOffset(r.URL.Query().Get("offset"))

	workflows, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list workflows", "error", err)
		response.InternalError(w, h.logger, "failed to list workflows")
		return
	}

	response.Paginated(w, h.logger, workflows, limit, offset, len(workflows))
}

// Create creates a new workflow owned by the authenticated user.
func (h *WorkflowHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	var input workflow.CreateWorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	wf, err := h.service.Create(r.Context(), userID, input)
	if err != nil {
		if _, ok := err.(*workflow.ValidationError); ok {
			response.BadRequest(w, h.logger, err.Error())
			return
		}
		h.logger.Error("failed to create workflow", "error", err)
		response.InternalError(w, h.logger, "failed to create workflow")
		return
	}

	response.Created(w, h.logger, wf)
}

// Get retrieves a single workflow.
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	wf, err := h.service.GetByID(r.Context(), workflowID)
	if err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		h.logger.Error("failed to get workflow", "error", err)
		response.InternalError(w, h.logger, "failed to get workflow")
		return
	}

	response.OK(w, h.logger, wf)
}

// Update updates a workflow.
func (h *WorkflowHandler) Update(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var input workflow.UpdateWorkflowInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	wf, err := h.service.Update(r.Context(), workflowID, input)
	if err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		if _, ok := err.(*workflow.ValidationError); ok {
			response.BadRequest(w, h.logger, err.Error())
			return
		}
		h.logger.Error("failed to update workflow", "error", err)
		response.InternalError(w, h.logger, "failed to update workflow")
		return
	}

	response.OK(w, h.logger, wf)
}

// SetActive activates or deactivates a workflow, enrolling or withdrawing
// its triggers.
func (h *WorkflowHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	var input struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	wf, err := h.service.SetActive(r.Context(), workflowID, input.Active)
	if err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		h.logger.Error("failed to set workflow active state", "error", err)
		response.InternalError(w, h.logger, "failed to set workflow active state")
		return
	}

	response.OK(w, h.logger, wf)
}

// Delete deletes a workflow.
func (h *WorkflowHandler) Delete(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	if err := h.service.Delete(r.Context(), workflowID); err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		h.logger.Error("failed to delete workflow", "error", err)
		response.InternalError(w, h.logger, "failed to delete workflow")
		return
	}

	response.NoContent(w)
}

// Execute triggers a manual execution of a workflow.
func (h *WorkflowHandler) Execute(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	workflowID := chi.URLParam(r, "workflowID")

	var input struct {
		TriggerNodeID string          `json:"trigger_node_id"`
		TriggerData   json.RawMessage `json:"trigger_data"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&input)
	}

	execution, err := h.service.Execute(r.Context(), uuid.New().String(), workflowID, userID, input.TriggerNodeID, input.TriggerData)
	if err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "workflow not found")
			return
		}
		if _, ok := err.(*workflow.ValidationError); ok {
			response.BadRequest(w, h.logger, err.Error())
			return
		}
		h.logger.Error("failed to execute workflow", "error", err)
		response.JSON(w, h.logger, http.StatusAccepted, map[string]interface{}{
			"data":  execution,
			"error": err.Error(),
		})
		return
	}

	response.JSON(w, h.logger, http.StatusAccepted, map[string]interface{}{
		"data": execution,
	})
}
