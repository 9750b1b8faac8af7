package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorax/gorax/internal/queue"
)

// QueueMessageHandler wraps execution processing with delay-based requeue:
// on a retryable failure it extends the message's visibility timeout by an
// exponentially increasing delay instead of letting SQS redeliver it
// immediately at the fixed visibility timeout.
type QueueMessageHandler struct {
	worker    *Worker
	sqsClient *queue.SQSClient
	logger    *slog.Logger
}

// NewQueueMessageHandler creates a handler that supports delayed requeue.
func NewQueueMessageHandler(worker *Worker, sqsClient *queue.SQSClient, logger *slog.Logger) *QueueMessageHandler {
	return &QueueMessageHandler{
		worker:    worker,
		sqsClient: sqsClient,
		logger:    logger,
	}
}

// HandleMessage processes a message, given its receipt handle for requeue support.
func (h *QueueMessageHandler) HandleMessage(ctx context.Context, msg *queue.ExecutionMessage, receiptHandle string) error {
	h.logger.Info("handling queue message",
		"execution_id", msg.ExecutionID,
		"workflow_id", msg.WorkflowID,
		"retry_count", msg.RetryCount,
	)

	err := h.worker.processExecutionMessage(ctx, msg)
	if err == nil {
		return nil
	}

	if !msg.ShouldRetry(h.worker.maxRetries) {
		return err
	}

	if requeueErr := requeueMessage(ctx, h.sqsClient, receiptHandle, msg.RetryCount); requeueErr != nil {
		h.logger.Error("failed to requeue message",
			"error", requeueErr,
			"execution_id", msg.ExecutionID,
		)
		return err
	}

	h.logger.Info("execution failed, requeued with backoff",
		"execution_id", msg.ExecutionID,
		"retry_count", msg.RetryCount,
		"error", err,
	)
	return ErrMessageRequeued
}

// ErrMessageRequeued indicates message was requeued and should not be deleted
var ErrMessageRequeued = errors.New("message requeued with delay")
