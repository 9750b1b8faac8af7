package worker

import (
	"context"
	"fmt"

	"github.com/gorax/gorax/internal/queue"
	"github.com/gorax/gorax/internal/workflow"
)

// processExecutionMessage loads the execution a Trigger Manager already
// admitted and runs it through the Flow Execution Engine. The execution
// row, including its status and trigger data, was created at admission
// time; this only carries it to completion.
func (w *Worker) processExecutionMessage(ctx context.Context, msg *queue.ExecutionMessage) error {
	w.logger.Info("processing execution message",
		"execution_id", msg.ExecutionID,
		"workflow_id", msg.WorkflowID,
		"trigger_type", msg.TriggerType,
		"retry_count", msg.RetryCount,
	)

	execution, err := w.workflowRepo.GetExecutionByID(ctx, msg.ExecutionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}

	wf, err := w.workflowRepo.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	def, err := workflow.ParseDefinition(wf)
	if err != nil {
		return fmt.Errorf("parse workflow definition: %w", err)
	}

	w.activeExecutions.Add(1)
	defer w.activeExecutions.Add(-1)

	if err := w.engine.Execute(ctx, execution, def); err != nil {
		w.failedTotal.Add(1)
		return err
	}

	w.logger.Info("execution completed", "execution_id", execution.ID)
	w.processedTotal.Add(1)
	return nil
}
