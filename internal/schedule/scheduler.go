package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WorkflowExecutor triggers the execution a scheduled job's cron tick
// fires. Taking the whole job (rather than just a workflow/schedule id)
// means the caller never has to re-derive which trigger node fired: the
// job already carries it.
type WorkflowExecutor interface {
	ExecuteScheduled(ctx context.Context, job *ScheduledJob) (executionID string, err error)
}

// ExecutionTerminator interface for terminating workflow executions
type ExecutionTerminator interface {
	TerminateExecution(ctx context.Context, executionID string) error
}

// ScheduleProvider interface for getting due scheduled jobs
type ScheduleProvider interface {
	GetDueSchedules(ctx context.Context) ([]*ScheduledJob, error)
	MarkScheduleRun(ctx context.Context, jobKey, executionID string) error
	MarkScheduleFailure(ctx context.Context, jobKey, errMsg string) error
}

// lockTTL bounds how long a leader lock is held before it expires on
// its own, so a replica that dies mid-tick doesn't wedge a job forever.
const lockTTL = 45 * time.Second

// Scheduler is the cron tick loop: it polls ScheduleProvider for due
// jobs and executes each exactly once across however many worker
// replicas are running, using a Redis leader lock keyed per job so only
// one replica wins a given tick.
type Scheduler struct {
	provider       ScheduleProvider
	executor       WorkflowExecutor
	terminator     ExecutionTerminator
	overlapHandler *OverlapHandler
	locker         *redis.Client
	logger         *slog.Logger

	checkInterval time.Duration
	batchSize     int

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewScheduler creates a new scheduler instance
func NewScheduler(provider ScheduleProvider, executor WorkflowExecutor, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		provider:      provider,
		executor:      executor,
		logger:        logger,
		checkInterval: 30 * time.Second,
		batchSize:     100,
		stopCh:        make(chan struct{}),
	}
}

// SetOverlapHandler sets the overlap handler for the scheduler
func (s *Scheduler) SetOverlapHandler(handler *OverlapHandler) {
	s.overlapHandler = handler
}

// SetTerminator sets the execution terminator for the scheduler
func (s *Scheduler) SetTerminator(terminator ExecutionTerminator) {
	s.terminator = terminator
}

// SetLocker enables the Redis-backed leader lock that lets more than
// one worker replica run Start concurrently without double-firing a
// job. Without a locker every replica fires every due job itself.
func (s *Scheduler) SetLocker(client *redis.Client) {
	s.locker = client
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", "check_interval", s.checkInterval)

	s.wg.Add(1)
	go s.run(ctx)

	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler...")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Wait waits for the scheduler to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.checkAndExecuteSchedules(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stop signal received")
			return
		case <-ticker.C:
			s.checkAndExecuteSchedules(ctx)
		}
	}
}

// checkAndExecuteSchedules checks for due jobs and executes them
func (s *Scheduler) checkAndExecuteSchedules(ctx context.Context) {
	jobs, err := s.provider.GetDueSchedules(ctx)
	if err != nil {
		s.logger.Error("failed to get due scheduled jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		s.logger.Debug("no scheduled jobs due for execution")
		return
	}

	s.logger.Info("found scheduled jobs due for execution", "count", len(jobs))

	semaphore := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(j *ScheduledJob) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if !s.acquireLock(ctx, j.JobKey) {
				s.logger.Debug("another replica holds the lock for this tick", "job_key", j.JobKey)
				return
			}
			s.executeSchedule(ctx, j)
		}(job)
	}

	wg.Wait()
	s.logger.Info("finished processing due scheduled jobs", "count", len(jobs))
}

// acquireLock claims jobKey's tick via a Redis SET NX PX lock so only
// one replica executes it. It reports true unconditionally when no
// locker is configured, for single-replica deployments.
func (s *Scheduler) acquireLock(ctx context.Context, jobKey string) bool {
	if s.locker == nil {
		return true
	}
	ok, err := s.locker.SetNX(ctx, "schedule:lock:"+jobKey, "1", lockTTL).Result()
	if err != nil {
		s.logger.Warn("leader lock check failed, skipping tick", "job_key", jobKey, "error", err)
		return false
	}
	return ok
}

// executeSchedule executes a single scheduled job with overlap policy handling
func (s *Scheduler) executeSchedule(ctx context.Context, job *ScheduledJob) {
	triggerTime := time.Now()

	s.logger.Info("executing scheduled job",
		"job_key", job.JobKey,
		"workflow_id", job.WorkflowID,
		"trigger_id", job.TriggerID,
		"overlap_policy", job.OverlapPolicy,
	)

	if !job.Active {
		s.logger.Warn("scheduled job is inactive, skipping", "job_key", job.JobKey)
		return
	}

	if s.overlapHandler != nil {
		decision, err := s.overlapHandler.CheckOverlap(ctx, job)
		if err != nil {
			s.logger.Error("failed to check overlap policy", "error", err, "job_key", job.JobKey)
			return
		}

		if decision.ShouldTerminate {
			if err := s.terminatePreviousExecution(ctx, job, decision.RunningExecution); err != nil {
				s.logger.Error("failed to terminate previous execution",
					"error", err,
					"job_key", job.JobKey,
					"running_execution_id", decision.RunningExecution,
				)
				return
			}
		}

		if !decision.ShouldExecute {
			if err := s.overlapHandler.RecordExecutionSkipped(ctx, job, triggerTime, decision.SkipReason); err != nil {
				s.logger.Error("failed to record skipped execution", "error", err, "job_key", job.JobKey)
			}
			if job.OverlapPolicy == OverlapPolicySkip {
				if err := s.provider.MarkScheduleRun(ctx, job.JobKey, ""); err != nil {
					s.logger.Error("failed to mark scheduled job run after skip", "error", err, "job_key", job.JobKey)
				}
			}
			return
		}
	}

	executionID, err := s.executor.ExecuteScheduled(ctx, job)
	if err != nil {
		s.logger.Error("failed to execute scheduled workflow", "error", err, "job_key", job.JobKey, "workflow_id", job.WorkflowID)

		if s.overlapHandler != nil {
			log, logErr := s.overlapHandler.RecordExecutionStart(ctx, job, "", triggerTime)
			if logErr == nil && log != nil {
				_ = s.overlapHandler.RecordExecutionFailed(ctx, job.JobKey, log.ID, err.Error())
			}
		}

		if err := s.provider.MarkScheduleFailure(ctx, job.JobKey, err.Error()); err != nil {
			s.logger.Error("failed to mark scheduled job failure", "error", err, "job_key", job.JobKey)
		}
		return
	}

	var execLog *ExecutionLog
	if s.overlapHandler != nil {
		execLog, err = s.overlapHandler.RecordExecutionStart(ctx, job, executionID, triggerTime)
		if err != nil {
			s.logger.Error("failed to record execution start", "error", err, "job_key", job.JobKey, "execution_id", executionID)
		}
	}

	s.logger.Info("scheduled job executed successfully", "job_key", job.JobKey, "execution_id", executionID)

	if err := s.provider.MarkScheduleRun(ctx, job.JobKey, executionID); err != nil {
		s.logger.Error("failed to mark scheduled job run", "error", err, "job_key", job.JobKey)
	}

	// The scheduler admits the execution and returns; it does not watch
	// the execution to completion. Mark the log complete immediately
	// rather than leave it "running" forever — RecordExecutionTerminated
	// corrects this if a later tick's overlap check finds it still active.
	if s.overlapHandler != nil && execLog != nil {
		if err := s.overlapHandler.RecordExecutionComplete(ctx, job.JobKey, execLog.ID); err != nil {
			s.logger.Error("failed to record execution complete", "error", err, "job_key", job.JobKey)
		}
	}
}

// terminatePreviousExecution terminates a running execution
func (s *Scheduler) terminatePreviousExecution(ctx context.Context, job *ScheduledJob, runningExecutionID *string) error {
	if runningExecutionID == nil {
		return nil
	}

	if s.terminator != nil {
		if err := s.terminator.TerminateExecution(ctx, *runningExecutionID); err != nil {
			s.logger.Warn("failed to terminate execution", "error", err, "execution_id", *runningExecutionID)
		}
	}

	if s.overlapHandler != nil {
		if err := s.overlapHandler.RecordExecutionTerminated(ctx, job.JobKey); err != nil {
			return err
		}
	}

	return nil
}

// SetCheckInterval sets the interval between schedule checks
func (s *Scheduler) SetCheckInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkInterval = interval
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
