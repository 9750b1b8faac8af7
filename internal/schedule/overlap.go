package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// OverlapHandler applies a scheduled job's OverlapPolicy at fire time,
// reacting to whatever the job's own previous run is doing right now.
type OverlapHandler struct {
	repo   *Repository
	logger *slog.Logger
}

// NewOverlapHandler creates a new overlap handler
func NewOverlapHandler(repo *Repository, logger *slog.Logger) *OverlapHandler {
	return &OverlapHandler{
		repo:   repo,
		logger: logger,
	}
}

// OverlapDecision represents the decision made by the overlap handler
type OverlapDecision struct {
	ShouldExecute    bool
	ShouldTerminate  bool
	SkipReason       string
	RunningExecution *string
}

// CheckOverlap checks if execution should proceed based on overlap policy
func (h *OverlapHandler) CheckOverlap(ctx context.Context, job *ScheduledJob) (*OverlapDecision, error) {
	decision := &OverlapDecision{
		ShouldExecute:   true,
		ShouldTerminate: false,
	}

	hasRunning, runningID, err := h.repo.HasRunningExecution(ctx, job.JobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check running execution: %w", err)
	}

	if !hasRunning {
		return decision, nil
	}

	decision.RunningExecution = runningID

	switch job.OverlapPolicy {
	case OverlapPolicySkip:
		decision.ShouldExecute = false
		decision.SkipReason = fmt.Sprintf("previous execution %s still running (policy: skip)", *runningID)
		h.logger.Info("skipping execution due to overlap policy",
			"job_key", job.JobKey,
			"running_execution_id", *runningID,
			"policy", job.OverlapPolicy,
		)

	case OverlapPolicyQueue:
		// Queue policy skips this tick but doesn't disable the job; the
		// next check cycle will attempt again.
		decision.ShouldExecute = false
		decision.SkipReason = fmt.Sprintf("previous execution %s still running (policy: queue, will retry)", *runningID)
		h.logger.Info("queuing execution due to overlap policy",
			"job_key", job.JobKey,
			"running_execution_id", *runningID,
			"policy", job.OverlapPolicy,
		)

	case OverlapPolicyTerminate:
		decision.ShouldTerminate = true
		h.logger.Info("terminating previous execution due to overlap policy",
			"job_key", job.JobKey,
			"running_execution_id", *runningID,
			"policy", job.OverlapPolicy,
		)

	default:
		decision.ShouldExecute = false
		decision.SkipReason = fmt.Sprintf("unknown overlap policy: %s", job.OverlapPolicy)
	}

	return decision, nil
}

// RecordExecutionStart records the start of an execution
func (h *OverlapHandler) RecordExecutionStart(ctx context.Context, job *ScheduledJob, executionID string, triggerTime time.Time) (*ExecutionLog, error) {
	log, err := h.repo.CreateExecutionLog(ctx, job.JobKey, triggerTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution log: %w", err)
	}

	if err := h.repo.UpdateExecutionLogStarted(ctx, log.ID, executionID); err != nil {
		return nil, fmt.Errorf("failed to update execution log started: %w", err)
	}

	if err := h.repo.SetRunningExecution(ctx, job.JobKey, executionID); err != nil {
		return nil, fmt.Errorf("failed to set running execution: %w", err)
	}

	h.logger.Info("execution started",
		"job_key", job.JobKey,
		"execution_id", executionID,
		"log_id", log.ID,
	)

	return log, nil
}

// RecordExecutionComplete records the completion of an execution
func (h *OverlapHandler) RecordExecutionComplete(ctx context.Context, jobKey, logID string) error {
	if err := h.repo.UpdateExecutionLogCompleted(ctx, logID); err != nil {
		return fmt.Errorf("failed to update execution log completed: %w", err)
	}

	if err := h.repo.ClearRunningExecution(ctx, jobKey); err != nil {
		return fmt.Errorf("failed to clear running execution: %w", err)
	}

	h.logger.Info("execution completed", "job_key", jobKey, "log_id", logID)
	return nil
}

// RecordExecutionFailed records a failed execution
func (h *OverlapHandler) RecordExecutionFailed(ctx context.Context, jobKey, logID, errorMsg string) error {
	if err := h.repo.UpdateExecutionLogFailed(ctx, logID, errorMsg); err != nil {
		return fmt.Errorf("failed to update execution log failed: %w", err)
	}

	if err := h.repo.ClearRunningExecution(ctx, jobKey); err != nil {
		return fmt.Errorf("failed to clear running execution: %w", err)
	}

	h.logger.Info("execution failed", "job_key", jobKey, "log_id", logID, "error", errorMsg)
	return nil
}

// RecordExecutionSkipped records a skipped execution
func (h *OverlapHandler) RecordExecutionSkipped(ctx context.Context, job *ScheduledJob, triggerTime time.Time, reason string) error {
	log, err := h.repo.CreateExecutionLog(ctx, job.JobKey, triggerTime)
	if err != nil {
		return fmt.Errorf("failed to create execution log: %w", err)
	}

	if err := h.repo.UpdateExecutionLogSkipped(ctx, log.ID, reason); err != nil {
		return fmt.Errorf("failed to update execution log skipped: %w", err)
	}

	h.logger.Info("execution skipped", "job_key", job.JobKey, "log_id", log.ID, "reason", reason)
	return nil
}

// RecordExecutionTerminated records that an execution was terminated
func (h *OverlapHandler) RecordExecutionTerminated(ctx context.Context, jobKey string) error {
	log, err := h.repo.GetRunningExecutionLogBySchedule(ctx, jobKey)
	if err != nil {
		return fmt.Errorf("failed to get running execution log: %w", err)
	}

	if log != nil {
		if err := h.repo.UpdateExecutionLogTerminated(ctx, log.ID); err != nil {
			return fmt.Errorf("failed to update execution log terminated: %w", err)
		}
	}

	if err := h.repo.ClearRunningExecution(ctx, jobKey); err != nil {
		return fmt.Errorf("failed to clear running execution: %w", err)
	}

	h.logger.Info("execution terminated", "job_key", jobKey)
	return nil
}
