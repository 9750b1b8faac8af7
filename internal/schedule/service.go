package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gorax/gorax/internal/workflow"
)

// Service handles scheduled job business logic and implements
// workflow.TriggerSync for the schedule-variant subset of a workflow's
// triggers; the webhook router owns the webhook-variant subset. Because
// a ScheduledJob already carries the node id its trigger fires, the
// service never needs a handle back to workflow.Service to resolve one.
type Service struct {
	repo             *Repository
	conflictDetector *ConflictDetector
	logger           *slog.Logger
	cronParser       cron.Parser
}

// NewService creates a new schedule service
func NewService(repo *Repository, logger *slog.Logger) *Service {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Service{
		repo:             repo,
		logger:           logger,
		cronParser:       parser,
		conflictDetector: NewConflictDetector(repo, logger),
	}
}

// SyncTriggers replaces workflowID's enrolled scheduled jobs with the
// schedule-variant entries of triggers, upserting each active one and
// deleting rows for triggers no longer present or no longer active.
// Implements workflow.TriggerSync.
func (s *Service) SyncTriggers(ctx context.Context, workflowID string, triggers []workflow.TriggerDefinition) error {
	existing, err := s.repo.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))

	for _, t := range triggers {
		if t.Variant != workflow.TriggerVariantSchedule || t.Schedule == nil {
			continue
		}
		jobKey := MakeJobKey(workflowID, t.ID)
		seen[jobKey] = true

		if !t.Active {
			if err := s.repo.DeleteByJobKey(ctx, jobKey); err != nil {
				return err
			}
			continue
		}

		if err := s.validateCronExpression(t.Schedule.CronExpression); err != nil {
			s.logger.Warn("skipping schedule trigger with invalid cron expression",
				"workflow_id", workflowID, "trigger_id", t.ID, "error", err,
			)
			continue
		}

		timezone := t.Schedule.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		overlapPolicy := OverlapPolicy(t.Schedule.OverlapPolicy)
		if !overlapPolicy.IsValid() {
			overlapPolicy = OverlapPolicySkip
		}

		if conflict, err := s.conflictDetector.CheckScheduleConflict(ctx, workflowID, t.Schedule.CronExpression, timezone, jobKey); err != nil {
			s.logger.Warn("schedule conflict check failed", "job_key", jobKey, "error", err)
		} else if conflict.HasConflict {
			s.logger.Warn("scheduled job overlaps another active job on this workflow within a minute",
				"job_key", jobKey, "conflicting_jobs", conflict.ConflictingIDs,
			)
		}

		nextRun, err := s.calculateNextRun(t.Schedule.CronExpression, timezone)
		if err != nil {
			s.logger.Error("failed to calculate next run time", "job_key", jobKey, "error", err)
			continue
		}

		job := &ScheduledJob{
			JobKey:         jobKey,
			WorkflowID:     workflowID,
			TriggerID:      t.ID,
			NodeID:         t.NodeID,
			CronExpression: t.Schedule.CronExpression,
			Timezone:       timezone,
			OverlapPolicy:  overlapPolicy,
			Active:         true,
			NextRunAt:      &nextRun,
		}
		if _, err := s.repo.Upsert(ctx, job); err != nil {
			return err
		}
	}

	for _, job := range existing {
		if !seen[job.JobKey] {
			if err := s.repo.DeleteByJobKey(ctx, job.JobKey); err != nil {
				return err
			}
		}
	}

	s.logger.Info("synced schedule triggers", "workflow_id", workflowID, "active_jobs", len(seen))
	return nil
}

// RemoveTriggers withdraws every scheduled job enrolled for workflowID.
// Implements workflow.TriggerSync.
func (s *Service) RemoveTriggers(ctx context.Context, workflowID string) error {
	return s.repo.DeleteByWorkflow(ctx, workflowID)
}

// GetByJobKey retrieves a scheduled job by its key.
func (s *Service) GetByJobKey(ctx context.Context, jobKey string) (*ScheduledJob, error) {
	return s.repo.GetByJobKey(ctx, jobKey)
}

// List retrieves all scheduled jobs for a workflow
func (s *Service) List(ctx context.Context, workflowID string) ([]*ScheduledJob, error) {
	return s.repo.ListByWorkflow(ctx, workflowID)
}

// ListAll retrieves every scheduled job across all workflows
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*ScheduledJobWithWorkflow, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListAll(ctx, limit, offset)
}

// GetDueSchedules retrieves scheduled jobs that need to be executed
func (s *Service) GetDueSchedules(ctx context.Context) ([]*ScheduledJob, error) {
	return s.repo.GetDueJobs(ctx, time.Now())
}

// MarkScheduleRun updates a scheduled job after a successful trigger fire.
func (s *Service) MarkScheduleRun(ctx context.Context, jobKey, executionID string) error {
	job, err := s.repo.GetByJobKey(ctx, jobKey)
	if err != nil {
		return err
	}

	nextRun, err := s.calculateNextRun(job.CronExpression, job.Timezone)
	if err != nil {
		s.logger.Error("failed to calculate next run time", "error", err, "job_key", jobKey)
		return err
	}

	if err := s.repo.RecordSuccess(ctx, jobKey, time.Now(), executionID, nextRun); err != nil {
		s.logger.Error("failed to update scheduled job run info", "error", err, "job_key", jobKey)
		return err
	}

	s.logger.Info("scheduled job run marked", "job_key", jobKey, "execution_id", executionID, "next_run", nextRun)
	return nil
}

// MarkScheduleFailure updates a scheduled job after a trigger fire that
// failed to even admit, advancing its next run time so the job doesn't
// spin forever on an instant failure.
func (s *Service) MarkScheduleFailure(ctx context.Context, jobKey, errMsg string) error {
	job, err := s.repo.GetByJobKey(ctx, jobKey)
	if err != nil {
		return err
	}

	nextRun, err := s.calculateNextRun(job.CronExpression, job.Timezone)
	if err != nil {
		s.logger.Error("failed to calculate next run time", "error", err, "job_key", jobKey)
		return err
	}

	if err := s.repo.RecordFailure(ctx, jobKey, time.Now(), errMsg, nextRun); err != nil {
		s.logger.Error("failed to record scheduled job failure", "error", err, "job_key", jobKey)
		return err
	}

	s.logger.Warn("scheduled job failed", "job_key", jobKey, "next_run", nextRun, "error", errMsg)
	return nil
}

// validateCronExpression validates a cron expression
func (s *Service) validateCronExpression(expression string) error {
	_, err := s.cronParser.Parse(expression)
	if err != nil {
		return &ValidationError{Message: "invalid cron expression: " + err.Error()}
	}
	return nil
}

// calculateNextRun calculates the next run time for a cron expression
func (s *Service) calculateNextRun(expression, timezone string) (time.Time, error) {
	sched, err := s.cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, err
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	return sched.Next(now), nil
}

// ParseNextRunTime is a helper to parse and return next run time (useful for API responses)
func (s *Service) ParseNextRunTime(expression, timezone string) (time.Time, error) {
	return s.calculateNextRun(expression, timezone)
}

// GetNextRunTimes returns the next count run times for a cron expression,
// used to preview a schedule before it is saved.
func (s *Service) GetNextRunTimes(expression, timezone string, count int) ([]time.Time, error) {
	sched, err := s.cronParser.Parse(expression)
	if err != nil {
		return nil, &ValidationError{Message: "invalid cron expression: " + err.Error()}
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	if count <= 0 {
		count = 1
	}

	times := make([]time.Time, 0, count)
	next := time.Now().In(loc)
	for i := 0; i < count; i++ {
		next = sched.Next(next)
		times = append(times, next)
	}
	return times, nil
}

// ListExecutionLogs retrieves execution logs for a scheduled job.
func (s *Service) ListExecutionLogs(ctx context.Context, jobKey string, limit, offset int) ([]*ExecutionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListExecutionLogs(ctx, ExecutionLogListParams{
		JobKey: jobKey,
		Limit:  limit,
		Offset: offset,
	})
}

// GetExecutionLog retrieves a single execution log by ID.
func (s *Service) GetExecutionLog(ctx context.Context, logID string) (*ExecutionLog, error) {
	return s.repo.GetExecutionLog(ctx, logID)
}

// CountExecutionLogs returns the number of execution logs for a scheduled job.
func (s *Service) CountExecutionLogs(ctx context.Context, jobKey string) (int, error) {
	return s.repo.CountExecutionLogs(ctx, jobKey)
}
