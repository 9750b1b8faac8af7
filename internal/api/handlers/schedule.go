package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gorax/gorax/internal/api/response"
	"github.com/gorax/gorax/internal/schedule"
	"github.com/gorax/gorax/internal/validation"
)

// ScheduleService defines the read surface handlers need over enrolled
// scheduled jobs. There is no Create/Update/Delete here: a job's
// lifecycle is owned by its workflow's trigger list and maintained by
// schedule.Service.SyncTriggers whenever the workflow is saved.
type ScheduleService interface {
	GetByJobKey(ctx context.Context, jobKey string) (*schedule.ScheduledJob, error)
	List(ctx context.Context, workflowID string) ([]*schedule.ScheduledJob, error)
	ListAll(ctx context.Context, limit, offset int) ([]*schedule.ScheduledJobWithWorkflow, error)
	ParseNextRunTime(expression, timezone string) (time.Time, error)
	GetNextRunTimes(expression, timezone string, count int) ([]time.Time, error)
	ListExecutionLogs(ctx context.Context, jobKey string, limit, offset int) ([]*schedule.ExecutionLog, error)
	GetExecutionLog(ctx context.Context, logID string) (*schedule.ExecutionLog, error)
	CountExecutionLogs(ctx context.Context, jobKey string) (int, error)
}

// ScheduleHandler handles read-only HTTP access to enrolled schedule triggers.
type ScheduleHandler struct {
	service ScheduleService
	logger  *slog.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(service ScheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		service: service,
		logger:  logger,
	}
}

// List returns all scheduled jobs enrolled for a workflow
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	jobs, err := h.service.List(r.Context(), workflowID)
	if err != nil {
		h.logger.Error("failed to list scheduled jobs", "error", err)
		response.InternalError(w, h.logger, "failed to list scheduled jobs")
		return
	}

	response.Paginated(w, h.logger, jobs, len(jobs), 0, len(jobs))
}

// ListAll returns every enrolled scheduled job across all workflows
func (h *ScheduleHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit, _ := validation.ParsePaginationLimit(
		r.URL.Query().Get("limit"),
		validation.DefaultPaginationLimit,
		validation.MaxPaginationLimit,
	)
	offset, _ := validation.ParsePaginationOffset(r.URL.Query().Get("offset"))

	jobs, err := h.service.ListAll(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list all scheduled jobs", "error", err)
		response.InternalError(w, h.logger, "failed to list scheduled jobs")
		return
	}

	response.Paginated(w, h.logger, jobs, limit, offset, 0)
}

// Get retrieves a single scheduled job by its job key
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobKey := chi.URLParam(r, "jobKey")

	job, err := h.service.GetByJobKey(r.Context(), jobKey)
	if err != nil {
		if err == schedule.ErrNotFound {
			response.NotFound(w, h.logger, "scheduled job not found")
			return
		}
		h.logger.Error("failed to get scheduled job", "error", err)
		response.InternalError(w, h.logger, "failed to get scheduled job")
		return
	}

	response.OK(w, h.logger, job)
}

// ParseCron validates a cron expression and returns the next run time
func (h *ScheduleHandler) ParseCron(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CronExpression string `json:"cron_expression"`
		Timezone       string `json:"timezone"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	if input.Timezone == "" {
		input.Timezone = "UTC"
	}

	nextRun, err := h.service.ParseNextRunTime(input.CronExpression, input.Timezone)
	if err != nil {
		response.BadRequest(w, h.logger, "invalid cron expression: "+err.Error())
		return
	}

	response.JSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"next_run": nextRun,
	})
}

// PreviewSchedule returns next N execution times for a cron expression
func (h *ScheduleHandler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var input struct {
		CronExpression string `json:"cron_expression"`
		Timezone       string `json:"timezone"`
		Count          int    `json:"count"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, h.logger, "invalid request body")
		return
	}

	if input.Timezone == "" {
		input.Timezone = "UTC"
	}
	if input.Count <= 0 {
		input.Count = 10
	}
	if input.Count > 50 {
		input.Count = 50
	}

	nextRuns, err := h.service.GetNextRunTimes(input.CronExpression, input.Timezone, input.Count)
	if err != nil {
		response.BadRequest(w, h.logger, "invalid cron expression: "+err.Error())
		return
	}

	response.JSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"next_runs": nextRuns,
		"count":     len(nextRuns),
		"timezone":  input.Timezone,
	})
}

// ListExecutionHistory returns execution history for a scheduled job
func (h *ScheduleHandler) ListExecutionHistory(w http.ResponseWriter, r *http.Request) {
	jobKey := chi.URLParam(r, "jobKey")

	limit, _ := validation.ParsePaginationLimit(
		r.URL.Query().Get("limit"),
		validation.DefaultPaginationLimit,
		validation.MaxPaginationLimit,
	)
	offset, _ := validation.ParsePaginationOffset(r.URL.Query().Get("offset"))

	logs, err := h.service.ListExecutionLogs(r.Context(), jobKey, limit, offset)
	if err != nil {
		h.logger.Error("failed to list execution history", "error", err)
		response.InternalError(w, h.logger, "failed to list execution history")
		return
	}

	total, err := h.service.CountExecutionLogs(r.Context(), jobKey)
	if err != nil {
		h.logger.Error("failed to count execution logs", "error", err)
		total = 0
	}

	response.Paginated(w, h.logger, logs, limit, offset, total)
}

// GetExecutionLog retrieves a specific execution log
func (h *ScheduleHandler) GetExecutionLog(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logID")

	log, err := h.service.GetExecutionLog(r.Context(), logID)
	if err != nil {
		if err == schedule.ErrNotFound {
			response.NotFound(w, h.logger, "execution log not found")
			return
		}
		h.logger.Error("failed to get execution log", "error", err)
		response.InternalError(w, h.logger, "failed to get execution log")
		return
	}

	response.OK(w, h.logger, log)
}
