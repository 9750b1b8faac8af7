package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("scheduled job not found")
)

// Repository handles scheduled_jobs and schedule_execution_logs
// persistence, all keyed by job_key rather than a tenant-scoped id.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new schedule repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts job, or replaces it in place if job_key already
// exists, preserving run-history columns across the update. Called by
// Service.SyncTriggers whenever a workflow's schedule triggers change.
func (r *Repository) Upsert(ctx context.Context, job *ScheduledJob) (*ScheduledJob, error) {
	now := time.Now()

	query := `
		INSERT INTO scheduled_jobs (
			job_key, workflow_id, trigger_id, node_id, cron_expression, timezone,
			overlap_policy, active, next_run_at, consecutive_failures, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)
		ON CONFLICT (job_key) DO UPDATE SET
			node_id         = EXCLUDED.node_id,
			cron_expression = EXCLUDED.cron_expression,
			timezone        = EXCLUDED.timezone,
			overlap_policy  = EXCLUDED.overlap_policy,
			active          = EXCLUDED.active,
			next_run_at     = EXCLUDED.next_run_at,
			updated_at      = EXCLUDED.updated_at
		RETURNING *
	`

	var stored ScheduledJob
	err := r.db.QueryRowxContext(
		ctx, query,
		job.JobKey, job.WorkflowID, job.TriggerID, job.NodeID, job.CronExpression,
		job.Timezone, job.OverlapPolicy, job.Active, job.NextRunAt, now,
	).StructScan(&stored)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetByJobKey retrieves a scheduled job by its job key.
func (r *Repository) GetByJobKey(ctx context.Context, jobKey string) (*ScheduledJob, error) {
	query := `SELECT * FROM scheduled_jobs WHERE job_key = $1`

	var job ScheduledJob
	err := r.db.GetContext(ctx, &job, query, jobKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// DeleteByJobKey removes a scheduled job, e.g. when its trigger is
// removed or deactivated on workflow save.
func (r *Repository) DeleteByJobKey(ctx context.Context, jobKey string) error {
	query := `DELETE FROM scheduled_jobs WHERE job_key = $1`
	_, err := r.db.ExecContext(ctx, query, jobKey)
	return err
}

// DeleteByWorkflow removes every scheduled job belonging to workflowID,
// used when a workflow's triggers are withdrawn entirely.
func (r *Repository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	query := `DELETE FROM scheduled_jobs WHERE workflow_id = $1`
	_, err := r.db.ExecContext(ctx, query, workflowID)
	return err
}

// ListByWorkflow retrieves all scheduled jobs belonging to a workflow.
func (r *Repository) ListByWorkflow(ctx context.Context, workflowID string) ([]*ScheduledJob, error) {
	query := `SELECT * FROM scheduled_jobs WHERE workflow_id = $1 ORDER BY created_at ASC`

	var jobs []*ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, query, workflowID)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListAll retrieves every scheduled job, joined with its workflow's
// name and status, for the cross-workflow listing endpoint.
func (r *Repository) ListAll(ctx context.Context, limit, offset int) ([]*ScheduledJobWithWorkflow, error) {
	query := `
		SELECT
			j.*,
			w.name as workflow_name,
			w.status as workflow_status
		FROM scheduled_jobs j
		JOIN workflows w ON j.workflow_id = w.id
		ORDER BY j.created_at DESC
		LIMIT $1 OFFSET $2
	`

	var jobs []*ScheduledJobWithWorkflow
	err := r.db.SelectContext(ctx, &jobs, query, limit, offset)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetDueJobs retrieves active scheduled jobs whose next run time has
// passed, oldest-due first, capped at 100 per check.
func (r *Repository) GetDueJobs(ctx context.Context, beforeTime time.Time) ([]*ScheduledJob, error) {
	query := `
		SELECT * FROM scheduled_jobs
		WHERE active = true
		AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST
		LIMIT 100
	`

	var jobs []*ScheduledJob
	err := r.db.SelectContext(ctx, &jobs, query, beforeTime)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateNextRunTime updates the next run time for a scheduled job.
func (r *Repository) UpdateNextRunTime(ctx context.Context, jobKey string, nextRunAt time.Time) error {
	query := `UPDATE scheduled_jobs SET next_run_at = $2, updated_at = $3 WHERE job_key = $1`
	_, err := r.db.ExecContext(ctx, query, jobKey, nextRunAt, time.Now())
	return err
}

// RecordSuccess updates a job after a successful fire: last run info,
// next run time, and resets the consecutive failure counter.
func (r *Repository) RecordSuccess(ctx context.Context, jobKey string, lastRunAt time.Time, executionID string, nextRunAt time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET last_run_at = $2,
		    last_execution_id = $3,
		    next_run_at = $4,
		    consecutive_failures = 0,
		    last_error = NULL,
		    updated_at = $5
		WHERE job_key = $1
	`
	_, err := r.db.ExecContext(ctx, query, jobKey, lastRunAt, executionID, nextRunAt, time.Now())
	return err
}

// RecordFailure updates a job after a fire that failed to even admit,
// advancing its next run time and incrementing the failure streak so
// repeated failures are observable without a dedicated alert.
func (r *Repository) RecordFailure(ctx context.Context, jobKey string, lastRunAt time.Time, errMsg string, nextRunAt time.Time) error {
	query := `
		UPDATE scheduled_jobs
		SET last_run_at = $2,
		    next_run_at = $3,
		    consecutive_failures = consecutive_failures + 1,
		    last_error = $4,
		    updated_at = $5
		WHERE job_key = $1
	`
	_, err := r.db.ExecContext(ctx, query, jobKey, lastRunAt, nextRunAt, errMsg, time.Now())
	return err
}

// SetRunningExecution marks a scheduled job as having a running execution
func (r *Repository) SetRunningExecution(ctx context.Context, jobKey, executionID string) error {
	query := `UPDATE scheduled_jobs SET running_execution_id = $2, updated_at = $3 WHERE job_key = $1`
	_, err := r.db.ExecContext(ctx, query, jobKey, executionID, time.Now())
	return err
}

// ClearRunningExecution clears the running execution for a scheduled job
func (r *Repository) ClearRunningExecution(ctx context.Context, jobKey string) error {
	query := `UPDATE scheduled_jobs SET running_execution_id = NULL, updated_at = $2 WHERE job_key = $1`
	_, err := r.db.ExecContext(ctx, query, jobKey, time.Now())
	return err
}

// HasRunningExecution checks if a scheduled job has a running execution
func (r *Repository) HasRunningExecution(ctx context.Context, jobKey string) (bool, *string, error) {
	query := `SELECT running_execution_id FROM scheduled_jobs WHERE job_key = $1`

	var runningID *string
	err := r.db.GetContext(ctx, &runningID, query, jobKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil, ErrNotFound
		}
		return false, nil, err
	}
	return runningID != nil, runningID, nil
}

// GetSchedulesByWorkflow satisfies ConflictRepository, returning every
// scheduled job enrolled for workflowID.
func (r *Repository) GetSchedulesByWorkflow(ctx context.Context, workflowID string) ([]*ScheduledJob, error) {
	return r.ListByWorkflow(ctx, workflowID)
}

// GetRunningExecutions satisfies ConflictRepository, reporting whether
// jobKey currently has a running execution as a one-element slice (the
// scheduler only ever tracks a single in-flight run per job).
func (r *Repository) GetRunningExecutions(ctx context.Context, jobKey string) ([]*ScheduleExecution, error) {
	hasRunning, runningID, err := r.HasRunningExecution(ctx, jobKey)
	if err != nil || !hasRunning {
		return nil, err
	}
	return []*ScheduleExecution{{ID: *runningID, JobKey: jobKey, ExecutionID: *runningID, Status: "running"}}, nil
}

// CreateExecutionLog creates a new execution log entry
func (r *Repository) CreateExecutionLog(ctx context.Context, jobKey string, triggerTime time.Time) (*ExecutionLog, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO schedule_execution_logs (id, job_key, status, trigger_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`

	var log ExecutionLog
	err := r.db.QueryRowxContext(
		ctx, query,
		id, jobKey, ExecutionLogStatusPending, triggerTime, now, now,
	).StructScan(&log)
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// UpdateExecutionLogStarted marks an execution log as started
func (r *Repository) UpdateExecutionLogStarted(ctx context.Context, logID, executionID string) error {
	now := time.Now()
	query := `
		UPDATE schedule_execution_logs
		SET status = $2, execution_id = $3, started_at = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, logID, ExecutionLogStatusRunning, executionID, now, now)
	return err
}

// UpdateExecutionLogCompleted marks an execution log as completed
func (r *Repository) UpdateExecutionLogCompleted(ctx context.Context, logID string) error {
	now := time.Now()
	query := `UPDATE schedule_execution_logs SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, logID, ExecutionLogStatusCompleted, now, now)
	return err
}

// UpdateExecutionLogFailed marks an execution log as failed
func (r *Repository) UpdateExecutionLogFailed(ctx context.Context, logID string, errorMsg string) error {
	now := time.Now()
	query := `
		UPDATE schedule_execution_logs
		SET status = $2, error_message = $3, completed_at = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, logID, ExecutionLogStatusFailed, errorMsg, now, now)
	return err
}

// UpdateExecutionLogSkipped marks an execution log as skipped
func (r *Repository) UpdateExecutionLogSkipped(ctx context.Context, logID string, reason string) error {
	now := time.Now()
	query := `
		UPDATE schedule_execution_logs
		SET status = $2, skipped_reason = $3, completed_at = $4, updated_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, logID, ExecutionLogStatusSkipped, reason, now, now)
	return err
}

// UpdateExecutionLogTerminated marks an execution log as terminated
func (r *Repository) UpdateExecutionLogTerminated(ctx context.Context, logID string) error {
	now := time.Now()
	query := `UPDATE schedule_execution_logs SET status = $2, completed_at = $3, updated_at = $4 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, logID, ExecutionLogStatusTerminated, now, now)
	return err
}

// GetExecutionLog retrieves an execution log by ID
func (r *Repository) GetExecutionLog(ctx context.Context, logID string) (*ExecutionLog, error) {
	query := `SELECT * FROM schedule_execution_logs WHERE id = $1`

	var log ExecutionLog
	err := r.db.GetContext(ctx, &log, query, logID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &log, nil
}

// ListExecutionLogs retrieves execution logs for a scheduled job
func (r *Repository) ListExecutionLogs(ctx context.Context, params ExecutionLogListParams) ([]*ExecutionLog, error) {
	query := `SELECT * FROM schedule_execution_logs WHERE job_key = $1`
	args := []interface{}{params.JobKey}

	if params.Status != nil {
		query += ` AND status = $2`
		args = append(args, *params.Status)
	}

	query += ` ORDER BY trigger_time DESC LIMIT $` + fmt.Sprintf("%d", len(args)+1) + ` OFFSET $` + fmt.Sprintf("%d", len(args)+2)
	args = append(args, params.Limit, params.Offset)

	var logs []*ExecutionLog
	err := r.db.SelectContext(ctx, &logs, query, args...)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// CountExecutionLogs returns the count of execution logs for a scheduled job
func (r *Repository) CountExecutionLogs(ctx context.Context, jobKey string) (int, error) {
	query := `SELECT COUNT(*) FROM schedule_execution_logs WHERE job_key = $1`

	var count int
	err := r.db.GetContext(ctx, &count, query, jobKey)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetRunningExecutionLogBySchedule retrieves the current running
// execution log for a scheduled job
func (r *Repository) GetRunningExecutionLogBySchedule(ctx context.Context, jobKey string) (*ExecutionLog, error) {
	query := `
		SELECT * FROM schedule_execution_logs
		WHERE job_key = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var log ExecutionLog
	err := r.db.GetContext(ctx, &log, query, jobKey, ExecutionLogStatusRunning)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}
