package schedule

import (
	"slices"
	"time"
)

// OverlapPolicy defines how to handle a cron tick firing while the
// previous run of the same scheduled job is still executing.
type OverlapPolicy string

const (
	// OverlapPolicySkip skips the new execution if previous is still running
	OverlapPolicySkip OverlapPolicy = "skip"
	// OverlapPolicyQueue queues the new execution for when the current completes
	OverlapPolicyQueue OverlapPolicy = "queue"
	// OverlapPolicyTerminate terminates the current execution and starts new one
	OverlapPolicyTerminate OverlapPolicy = "terminate"
)

// ValidOverlapPolicies contains all valid overlap policy values
var ValidOverlapPolicies = []OverlapPolicy{
	OverlapPolicySkip,
	OverlapPolicyQueue,
	OverlapPolicyTerminate,
}

// IsValid checks if the overlap policy is valid
func (p OverlapPolicy) IsValid() bool {
	return slices.Contains(ValidOverlapPolicies, p)
}

// MakeJobKey identifies one scheduled job by the workflow and the
// schedule-variant trigger that owns it. A workflow may enroll more
// than one schedule trigger, each on its own node, so a job is keyed on
// the pair rather than the workflow alone.
func MakeJobKey(workflowID, triggerID string) string {
	return workflowID + "-" + triggerID
}

// ScheduledJob is one schedule-variant trigger enrolled with the cron
// scheduler. Rows are kept in sync with a workflow's trigger
// definitions by Service.SyncTriggers whenever the workflow is saved;
// there is no standalone create/update/delete API for a job, since its
// lifecycle is owned entirely by its workflow's trigger list.
type ScheduledJob struct {
	JobKey              string        `db:"job_key" json:"jobKey"`
	WorkflowID          string        `db:"workflow_id" json:"workflowId"`
	TriggerID           string        `db:"trigger_id" json:"triggerId"`
	NodeID              string        `db:"node_id" json:"nodeId"`
	CronExpression      string        `db:"cron_expression" json:"cronExpression"`
	Timezone            string        `db:"timezone" json:"timezone"`
	OverlapPolicy       OverlapPolicy `db:"overlap_policy" json:"overlapPolicy"`
	Active              bool          `db:"active" json:"active"`
	NextRunAt           *time.Time    `db:"next_run_at" json:"nextRunAt,omitempty"`
	LastRunAt           *time.Time    `db:"last_run_at" json:"lastRunAt,omitempty"`
	LastExecutionID     *string       `db:"last_execution_id" json:"lastExecutionId,omitempty"`
	RunningExecutionID  *string       `db:"running_execution_id" json:"runningExecutionId,omitempty"`
	ConsecutiveFailures int           `db:"consecutive_failures" json:"consecutiveFailures"`
	LastError           *string       `db:"last_error" json:"lastError,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
}

// ScheduledJobWithWorkflow augments a job with its owning workflow's
// name and status, for the cross-workflow listing endpoint.
type ScheduledJobWithWorkflow struct {
	ScheduledJob
	WorkflowName   string `db:"workflow_name" json:"workflowName"`
	WorkflowStatus string `db:"workflow_status" json:"workflowStatus"`
}

// ExecutionLogStatus represents the status of a schedule execution
type ExecutionLogStatus string

const (
	ExecutionLogStatusPending    ExecutionLogStatus = "pending"
	ExecutionLogStatusRunning    ExecutionLogStatus = "running"
	ExecutionLogStatusCompleted  ExecutionLogStatus = "completed"
	ExecutionLogStatusFailed     ExecutionLogStatus = "failed"
	ExecutionLogStatusSkipped    ExecutionLogStatus = "skipped"
	ExecutionLogStatusTerminated ExecutionLogStatus = "terminated"
)

// ExecutionLog represents a record of one scheduled job's cron tick,
// from the moment it fired to completion, failure, skip, or
// termination.
type ExecutionLog struct {
	ID            string             `db:"id" json:"id"`
	JobKey        string             `db:"job_key" json:"jobKey"`
	ExecutionID   *string            `db:"execution_id" json:"executionId,omitempty"`
	Status        ExecutionLogStatus `db:"status" json:"status"`
	StartedAt     *time.Time         `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt   *time.Time         `db:"completed_at" json:"completedAt,omitempty"`
	ErrorMessage  *string            `db:"error_message" json:"errorMessage,omitempty"`
	TriggerTime   time.Time          `db:"trigger_time" json:"triggerTime"`
	SkippedReason *string            `db:"skipped_reason" json:"skippedReason,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updatedAt"`
}

// ExecutionLogListParams represents parameters for listing execution logs
type ExecutionLogListParams struct {
	JobKey string
	Status *ExecutionLogStatus
	Limit  int
	Offset int
}

// ScheduleExecution represents a workflow execution triggered by a
// scheduled job, used by the conflict detector's overlap window query.
type ScheduleExecution struct {
	ID          string     `db:"id" json:"id"`
	JobKey      string     `db:"job_key" json:"jobKey"`
	ExecutionID string     `db:"execution_id" json:"executionId"`
	Status      string     `db:"status" json:"status"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
