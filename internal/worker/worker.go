package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/executor"
	"github.com/gorax/gorax/internal/queue"
	"github.com/gorax/gorax/internal/workflow"
)

// Worker pulls execution messages the Trigger Manager has already admitted
// off the shared queue and runs them through the Flow Execution Engine, so
// any worker replica can pick up the work regardless of which API node
// accepted the trigger.
type Worker struct {
	logger       *slog.Logger
	workflowRepo *workflow.Repository
	engine       *executor.Engine
	sqsClient    *queue.SQSClient
	handler      *QueueMessageHandler

	maxMessages       int32
	waitTimeSeconds   int32
	maxRetries        int
	pollInterval      time.Duration
	concurrentWorkers int

	wg sync.WaitGroup

	activeExecutions atomic.Int32
	processedTotal   atomic.Int64
	failedTotal      atomic.Int64
}

// New creates a worker consuming execution messages from cfg.AWS.SQSQueueURL.
// Callers should only construct a Worker when cfg.Queue.Enabled is true.
func New(cfg *config.Config, workflowRepo *workflow.Repository, engine *executor.Engine, logger *slog.Logger) (*Worker, error) {
	if cfg.AWS.SQSQueueURL == "" {
		return nil, ErrMissingQueueURL
	}

	sqsClient, err := queue.NewSQSClient(context.Background(), queue.SQSConfig{
		QueueURL:        cfg.AWS.SQSQueueURL,
		DLQueueURL:      cfg.AWS.SQSDLQueueURL,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
	}, logger)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		logger:            logger,
		workflowRepo:      workflowRepo,
		engine:            engine,
		sqsClient:         sqsClient,
		maxMessages:       cfg.Queue.MaxMessages,
		waitTimeSeconds:   cfg.Queue.WaitTimeSeconds,
		maxRetries:        cfg.Queue.MaxRetries,
		pollInterval:      time.Duration(cfg.Queue.PollInterval) * time.Second,
		concurrentWorkers: cfg.Queue.ConcurrentWorkers,
	}
	if w.maxMessages <= 0 {
		w.maxMessages = 10
	}
	if w.concurrentWorkers <= 0 {
		w.concurrentWorkers = 1
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	w.handler = NewQueueMessageHandler(w, sqsClient, logger)

	logger.Info("queue worker initialized", "queue_url", cfg.AWS.SQSQueueURL, "concurrent_workers", w.concurrentWorkers)
	return w, nil
}

// Start pulls and processes messages until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting queue worker", "concurrent_workers", w.concurrentWorkers)

	messages := make(chan queue.Message, w.concurrentWorkers*2)

	for i := 0; i < w.concurrentWorkers; i++ {
		w.wg.Add(1)
		go w.runHandler(ctx, i, messages)
	}

	for {
		select {
		case <-ctx.Done():
			close(messages)
			w.wg.Wait()
			return ctx.Err()
		default:
			received, err := w.sqsClient.ReceiveMessages(ctx, w.maxMessages, w.waitTimeSeconds)
			if err != nil {
				w.logger.Error("failed to receive messages", "error", err)
				time.Sleep(w.pollInterval)
				continue
			}
			if len(received) == 0 {
				time.Sleep(w.pollInterval)
				continue
			}
			for _, msg := range received {
				select {
				case messages <- msg:
				case <-ctx.Done():
					close(messages)
					w.wg.Wait()
					return ctx.Err()
				}
			}
		}
	}
}

// runHandler drains the message channel, handing each message to the
// tracing-wrapped queue handler.
func (w *Worker) runHandler(ctx context.Context, id int, messages <-chan queue.Message) {
	defer w.wg.Done()
	w.logger.Debug("worker started", "worker_id", id)

	for raw := range messages {
		w.handleRaw(ctx, raw)
	}

	w.logger.Debug("worker stopped", "worker_id", id)
}

func (w *Worker) handleRaw(ctx context.Context, raw queue.Message) {
	execMsg, err := queue.UnmarshalExecutionMessage(raw.Body)
	if err != nil {
		w.logger.Error("failed to unmarshal execution message", "error", err, "message_id", raw.ID)
		w.deleteMessage(ctx, raw.ReceiptHandle)
		return
	}
	if err := execMsg.Validate(); err != nil {
		w.logger.Error("invalid execution message", "error", err, "message_id", raw.ID)
		w.deleteMessage(ctx, raw.ReceiptHandle)
		return
	}

	execMsg.RetryCount = raw.ApproximateReceiveCount - 1
	if execMsg.RetryCount < 0 {
		execMsg.RetryCount = 0
	}

	err = w.handler.HandleMessageWithTracing(ctx, execMsg, raw.ReceiptHandle)
	switch {
	case err == nil:
		w.deleteMessage(ctx, raw.ReceiptHandle)
	case errors.Is(err, ErrMessageRequeued):
		// visibility timeout already extended by the handler
	case !execMsg.ShouldRetry(w.maxRetries):
		w.logger.Error("execution message exceeded max retries, dropping",
			"execution_id", execMsg.ExecutionID,
			"retry_count", execMsg.RetryCount,
			"error", err,
		)
		w.deleteMessage(ctx, raw.ReceiptHandle)
	default:
		w.logger.Warn("execution message processing failed, will retry natively",
			"execution_id", execMsg.ExecutionID,
			"retry_count", execMsg.RetryCount,
			"error", err,
		)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if err := w.sqsClient.DeleteMessage(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete message", "error", err)
	}
}

// Wait blocks until all in-flight message handlers have returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// ActiveExecutions returns the number of executions currently running.
func (w *Worker) ActiveExecutions() int32 {
	return w.activeExecutions.Load()
}

// ProcessedCount returns the total number of executions completed.
func (w *Worker) ProcessedCount() int64 {
	return w.processedTotal.Load()
}

// FailedCount returns the total number of executions that failed.
func (w *Worker) FailedCount() int64 {
	return w.failedTotal.Load()
}

// WorkerError is a sentinel error type for worker-level failures.
type WorkerError struct {
	Message string
}

func (e WorkerError) Error() string {
	return e.Message
}

var ErrMissingQueueURL = WorkerError{Message: "queue URL is required when queue is enabled"}
