package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/workflow"
)

// ExecutionService defines the methods needed from the workflow service.
type ExecutionService interface {
	GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error)
	GetNodeExecutions(ctx context.Context, executionID string) ([]*workflow.NodeExecution, error)
	ListExecutions(ctx context.Context, filter workflow.ExecutionFilter, cursor string, limit int) (*workflow.ExecutionListResult, error)
}

// ExecutionHandler handles execution-related HTTP requests.
type ExecutionHandler struct {
	service ExecutionService
	logger  *slog.Logger
}

// NewExecutionHandler creates a new execution handler.
func NewExecutionHandler(service ExecutionService, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		service: service,
		logger:  logger,
	}
}

// ListExecutions returns executions matching filter with cursor pagination.
// GET /api/v1/executions
func (h *ExecutionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseExecutionFilter(r)
	if err != nil {
		response.BadRequest(w, h.logger, "invalid filter parameters: "+err.Error())
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := h.parseLimit(r)

	result, err := h.service.ListExecutions(r.Context(), filter, cursor, limit)
	if err != nil {
		if ve, ok := err.(*workflow.ValidationError); ok {
			response.BadRequest(w, h.logger, ve.Error())
			return
		}
		h.logger.Error("failed to list executions", "error", err)
		response.InternalError(w, h.logger, "failed to list executions")
		return
	}

	response.JSON(w, h.logger, http.StatusOK, result)
}

// GetExecution retrieves a single execution by ID.
// GET /api/v1/executions/:executionID
func (h *ExecutionHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if executionID == "" {
		response.BadRequest(w, h.logger, "execution ID is required")
		return
	}

	execution, err := h.service.GetExecution(r.Context(), executionID)
	if err != nil {
		if err == workflow.ErrNotFound {
			response.NotFound(w, h.logger, "execution not found")
			return
		}
		h.logger.Error("failed to get execution", "error", err, "execution_id", executionID)
		response.InternalError(w, h.logger, "failed to get execution")
		return
	}

	response.JSON(w, h.logger, http.StatusOK, execution)
}

// GetNodeExecutions retrieves the per-node history of an execution.
// GET /api/v1/executions/:executionID/nodes
func (h *ExecutionHandler) GetNodeExecutions(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if executionID == "" {
		response.BadRequest(w, h.logger, "execution ID is required")
		return
	}

	nodes, err := h.service.GetNodeExecutions(r.Context(), executionID)
	if err != nil {
		h.logger.Error("failed to get node executions", "error", err, "execution_id", executionID)
		response.InternalError(w, h.logger, "failed to get node executions")
		return
	}

	response.JSON(w, h.logger, http.StatusOK, map[string]any{"data": nodes})
}

// parseExecutionFilter parses an execution filter from query parameters.
func (h *ExecutionHandler) parseExecutionFilter(r *http.Request) (workflow.ExecutionFilter, error) {
	filter := workflow.ExecutionFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		Status:     workflow.ExecutionStatus(r.URL.Query().Get("status")),
	}

	if startDateStr := r.URL.Query().Get("start_date"); startDateStr != "" {
		startDate, err := time.Parse(time.RFC3339, startDateStr)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &startDate
	}

	if endDateStr := r.URL.Query().Get("end_date"); endDateStr != "" {
		endDate, err := time.Parse(time.RFC3339, endDateStr)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &endDate
	}

	return filter, nil
}

// parseLimit parses and validates the limit query parameter.
func (h *ExecutionHandler) parseLimit(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0 // service applies its own default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0
	}

	return limit
}
