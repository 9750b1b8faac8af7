package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ConflictStrategy defines how to handle schedule conflicts
type ConflictStrategy string

const (
	// ConflictStrategySkip skips the new execution if one is already running
	ConflictStrategySkip ConflictStrategy = "skip"
	// ConflictStrategyQueue queues the new execution to run after the current one
	ConflictStrategyQueue ConflictStrategy = "queue"
	// ConflictStrategyReplace cancels the running execution and starts a new one
	ConflictStrategyReplace ConflictStrategy = "replace"
	// ConflictStrategyParallel allows parallel executions
	ConflictStrategyParallel ConflictStrategy = "parallel"
)

// ConflictDetector is a save-time diagnostic: when SyncTriggers enrolls
// a workflow's schedule triggers, it asks the detector whether any of
// them fire within a minute of each other, logging a warning so an
// author sees it before it becomes a fire-time surprise. This is
// distinct from OverlapHandler, which reacts to an individual job's own
// previous run still being active at fire time.
type ConflictDetector struct {
	repo   ConflictRepository
	logger *slog.Logger
	parser *CronParser
}

// ConflictRepository defines the interface for conflict-related database operations
type ConflictRepository interface {
	// GetSchedulesByWorkflow returns all scheduled jobs for a workflow
	GetSchedulesByWorkflow(ctx context.Context, workflowID string) ([]*ScheduledJob, error)
}

// NewConflictDetector creates a new conflict detector
func NewConflictDetector(repo ConflictRepository, logger *slog.Logger) *ConflictDetector {
	return &ConflictDetector{
		repo:   repo,
		logger: logger,
		parser: NewCronParser(),
	}
}

// ConflictCheckResult contains the result of a conflict check
type ConflictCheckResult struct {
	HasConflict       bool             `json:"has_conflict"`
	ConflictType      string           `json:"conflict_type,omitempty"`
	ConflictingIDs    []string         `json:"conflicting_ids,omitempty"`
	Message           string           `json:"message,omitempty"`
	RecommendedAction ConflictStrategy `json:"recommended_action,omitempty"`
	Details           *ConflictDetails `json:"details,omitempty"`
}

// ConflictDetails provides detailed information about a conflict
type ConflictDetails struct {
	RunningExecutions     int          `json:"running_executions,omitempty"`
	OverlappingWindows    []TimeWindow `json:"overlapping_windows,omitempty"`
	SameTimeSchedules     []string     `json:"same_time_schedules,omitempty"`
	EstimatedNextConflict *time.Time   `json:"estimated_next_conflict,omitempty"`
}

// TimeWindow represents a time window for conflict detection
type TimeWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	JobKey   string    `json:"job_key"`
}

// CheckScheduleConflict checks whether a trigger's cron expression, once
// enrolled, would fire within a minute of another active job already
// enrolled on the same workflow. excludeJobKey skips the trigger's own
// row when it's already persisted (an update, not a create).
func (cd *ConflictDetector) CheckScheduleConflict(ctx context.Context, workflowID string, cronExpr, timezone string, excludeJobKey string) (*ConflictCheckResult, error) {
	result := &ConflictCheckResult{
		HasConflict: false,
		Details:     &ConflictDetails{},
	}

	existingJobs, err := cd.repo.GetSchedulesByWorkflow(ctx, workflowID)
	if err != nil {
		cd.logger.Error("failed to get existing scheduled jobs",
			"workflow_id", workflowID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get existing scheduled jobs: %w", err)
	}

	newTimes, err := cd.parser.CalculateNextRuns(cronExpr, timezone, 10)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate next runs for new schedule: %w", err)
	}

	for _, existing := range existingJobs {
		if existing.JobKey == excludeJobKey {
			continue
		}
		if !existing.Active {
			continue
		}

		existingTimes, err := cd.parser.CalculateNextRuns(existing.CronExpression, existing.Timezone, 10)
		if err != nil {
			cd.logger.Warn("failed to calculate next runs for existing scheduled job",
				"job_key", existing.JobKey,
				"error", err,
			)
			continue
		}

		for _, newTime := range newTimes {
			for _, existingTime := range existingTimes {
				diff := newTime.Sub(existingTime)
				if diff < 0 {
					diff = -diff
				}

				if diff < time.Minute {
					result.HasConflict = true
					result.ConflictType = "overlapping_schedule"
					result.ConflictingIDs = append(result.ConflictingIDs, existing.JobKey)
					result.Details.SameTimeSchedules = append(result.Details.SameTimeSchedules, existing.JobKey)

					if result.Details.EstimatedNextConflict == nil {
						conflictTime := newTime
						result.Details.EstimatedNextConflict = &conflictTime
					}

					result.Details.OverlappingWindows = append(result.Details.OverlappingWindows, TimeWindow{
						Start:  newTime.Add(-time.Minute),
						End:    newTime.Add(time.Minute),
						JobKey: existing.JobKey,
					})
					break
				}
			}
		}
	}

	if result.HasConflict {
		result.Message = fmt.Sprintf("schedule conflicts with %d existing job(s)", len(result.ConflictingIDs))
		result.RecommendedAction = ConflictStrategyQueue

		cd.logger.Warn("schedule conflict detected",
			"workflow_id", workflowID,
			"conflicting_jobs", len(result.ConflictingIDs),
		)
	}

	return result, nil
}

// ValidateConflictStrategy validates a conflict strategy string
func ValidateConflictStrategy(strategy string) (ConflictStrategy, error) {
	switch ConflictStrategy(strategy) {
	case ConflictStrategySkip, ConflictStrategyQueue, ConflictStrategyReplace, ConflictStrategyParallel:
		return ConflictStrategy(strategy), nil
	default:
		return "", fmt.Errorf("invalid conflict strategy: %s (valid: skip, queue, replace, parallel)", strategy)
	}
}
