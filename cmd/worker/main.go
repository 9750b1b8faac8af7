package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/gorax/gorax/internal/config"
	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/executor"
	"github.com/gorax/gorax/internal/schedule"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/trigger"
	"github.com/gorax/gorax/internal/worker"
	"github.com/gorax/gorax/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	tracingCleanup, err := tracing.InitGlobalTracer(context.Background(), &cfg.Observability)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracingCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	workflowRepo := workflow.NewRepository(db)
	scheduleRepo := schedule.NewRepository(db)

	workflowService := workflow.NewService(workflowRepo, logger)
	scheduleService := schedule.NewService(scheduleRepo, logger)

	engine := executor.NewEngine(workflowRepo, logger)
	engine.SetEventBus(eventbus.New(logger))
	workflowService.SetExecutor(engine)

	triggerManager := trigger.New(trigger.Config{
		MaxGlobalConcurrent:      cfg.Trigger.MaxGlobalConcurrent,
		MaxPerWorkflowConcurrent: cfg.Trigger.MaxPerWorkflowConcurrent,
		MaxPerUserConcurrent:     cfg.Trigger.MaxPerUserConcurrent,
		ConflictPolicy:           trigger.ConflictPolicy(cfg.Trigger.ConflictPolicy),
		MaxQueueSize:             cfg.Trigger.MaxQueueSize,
		QueueTimeout:             cfg.Trigger.QueueTimeout,
	}, workflowService, logger)

	scheduler := schedule.NewScheduler(
		scheduleService,
		schedule.NewWorkflowServiceAdapter(scheduledExecuteFunc(triggerManager)),
		logger,
	)
	scheduler.SetTerminator(&triggerTerminatorAdapter{manager: triggerManager})
	scheduler.SetOverlapHandler(schedule.NewOverlapHandler(scheduleRepo, logger))
	// This binary is the one most often run as several replicas behind
	// the queue dispatcher, so the leader lock matters here specifically:
	// without it, every replica would fire the same due job on its tick.
	scheduler.SetLocker(redisClient)

	go func() {
		slog.Info("starting workflow scheduler")
		if err := scheduler.Start(ctx); err != nil {
			slog.Error("scheduler error", "error", err)
		}
	}()

	// The queue consumer is optional: it only runs when executions are
	// dispatched onto SQS instead of in-process (see internal/api's
	// buildDispatcher), letting this binary double as a horizontal-fan-out
	// replica for whichever node admitted the trigger.
	if cfg.Queue.Enabled {
		w, err := worker.New(cfg, workflowRepo, engine, logger)
		if err != nil {
			slog.Error("failed to initialize queue worker", "error", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("starting queue worker")
			if err := w.Start(ctx); err != nil && err != context.Canceled {
				slog.Error("queue worker error", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down scheduler...")
	cancel()
	scheduler.Stop()
	slog.Info("scheduler stopped")
}

// scheduledExecuteFunc submits a cron tick's admission request through
// the Trigger Manager, so scheduled runs are subject to the same
// concurrency caps and conflict policy as every other trigger source.
// The firing job already carries the node id its trigger lives on, so
// there is no re-fetch of the workflow definition to find it, and a
// workflow with several schedule triggers fires each independently.
func scheduledExecuteFunc(manager *trigger.Manager) func(ctx context.Context, job *schedule.ScheduledJob) (string, error) {
	return func(ctx context.Context, job *schedule.ScheduledJob) (string, error) {
		triggerData := []byte(`{"jobKey":"` + job.JobKey + `"}`)
		execution, err := manager.Submit(ctx, trigger.Request{
			WorkflowID:    job.WorkflowID,
			TriggerNodeID: job.NodeID,
			TriggerData:   triggerData,
			Source:        trigger.SourceSchedule,
		})
		if err != nil {
			return "", err
		}
		return execution.ID, nil
	}
}

// triggerTerminatorAdapter satisfies schedule.ExecutionTerminator over
// the Trigger Manager's admission-scoped cancel.
type triggerTerminatorAdapter struct {
	manager *trigger.Manager
}

func (t *triggerTerminatorAdapter) TerminateExecution(ctx context.Context, executionID string) error {
	return t.manager.Cancel(executionID)
}
