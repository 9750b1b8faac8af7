package schedule

import "context"

// WorkflowServiceAdapter adapts a trigger-admission function into a
// WorkflowExecutor, avoiding an import cycle between schedule and
// trigger (trigger.Manager.Submit already returns an execution id).
type WorkflowServiceAdapter struct {
	executeFunc func(ctx context.Context, job *ScheduledJob) (executionID string, err error)
}

// NewWorkflowServiceAdapter creates a new adapter
func NewWorkflowServiceAdapter(executeFunc func(ctx context.Context, job *ScheduledJob) (executionID string, err error)) *WorkflowServiceAdapter {
	return &WorkflowServiceAdapter{executeFunc: executeFunc}
}

// ExecuteScheduled executes a scheduled job
func (w *WorkflowServiceAdapter) ExecuteScheduled(ctx context.Context, job *ScheduledJob) (executionID string, err error) {
	return w.executeFunc(ctx, job)
}
