package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorax/gorax/internal/queue"
	"github.com/gorax/gorax/internal/workflow"
)

// QueueDispatcher satisfies trigger.Dispatcher by creating the execution
// record and handing it to the shared queue instead of running the Flow
// Execution Engine in the calling process, so any worker replica
// consuming the queue can pick it up. Admission (concurrency caps,
// conflict policy, queueing) has already happened in the Trigger Manager
// by the time Execute is called; this only persists the admitted request
// and publishes it.
type QueueDispatcher struct {
	workflowRepo *workflow.Repository
	publisher    *queue.Publisher
	logger       *slog.Logger
}

// NewQueueDispatcher wires a Trigger Manager dispatcher over publisher.
func NewQueueDispatcher(workflowRepo *workflow.Repository, publisher *queue.Publisher, logger *slog.Logger) *QueueDispatcher {
	return &QueueDispatcher{workflowRepo: workflowRepo, publisher: publisher, logger: logger}
}

// Execute creates the execution row under executionID and publishes it
// for a worker replica to run.
func (d *QueueDispatcher) Execute(ctx context.Context, executionID, workflowID, userID, triggerNodeID string, triggerData []byte) (*workflow.Execution, error) {
	execution, err := d.workflowRepo.CreateExecution(ctx, executionID, workflowID, userID, triggerNodeID, triggerData)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	msg := queue.NewExecutionMessage(execution.ID, workflowID, triggerNodeID, json.RawMessage(triggerData))
	if err := d.publisher.PublishExecution(ctx, msg); err != nil {
		d.logger.Error("failed to publish execution message", "error", err, "execution_id", execution.ID)
		return execution, fmt.Errorf("publish execution: %w", err)
	}

	d.logger.Info("execution queued for worker replica", "execution_id", execution.ID, "workflow_id", workflowID)
	return execution, nil
}
