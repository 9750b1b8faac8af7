package worker

import (
	"context"

	"github.com/gorax/gorax/internal/queue"
	"github.com/gorax/gorax/internal/tracing"
)

// HandleMessageWithTracing wraps message handling with distributed tracing.
func (h *QueueMessageHandler) HandleMessageWithTracing(ctx context.Context, msg *queue.ExecutionMessage, receiptHandle string) error {
	return tracing.TraceQueueMessage(
		ctx,
		"workflow-executions",
		msg.ExecutionID,
		func(ctx context.Context) error {
			tracing.AddWorkflowAttributes(ctx, map[string]interface{}{
				"workflow_id":    msg.WorkflowID,
				"execution_id":   msg.ExecutionID,
				"retry_count":    msg.RetryCount,
				"receipt_handle": receiptHandle,
			})

			return h.HandleMessage(ctx, msg, receiptHandle)
		},
	)
}
