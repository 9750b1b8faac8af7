// Package trigger implements the Trigger Manager of §4.3: the
// admission-control chokepoint every webhook, schedule, and manual
// invocation passes through before the Flow Execution Engine sees it.
// It enforces global/per-workflow/per-user concurrency caps, orders
// queued admissions by priority, applies a conflict policy once a cap
// is hit, and supports cancelling an admitted or queued run.
package trigger

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gorax/gorax/internal/workflow"
)

// Source names the origin of a trigger, which determines its default
// priority per §4.3 — manual invocations outrank webhooks, which
// outrank scheduled runs, so an operator manually retrying a workflow
// is never starved behind a backlog of cron fires.
type Source string

const (
	SourceManual   Source = "manual"
	SourceWebhook  Source = "webhook"
	SourceSchedule Source = "schedule"
)

// priority returns the admission priority for a source: lower value is
// admitted first.
func (s Source) priority() int {
	switch s {
	case SourceManual:
		return 0
	case SourceWebhook:
		return 1
	case SourceSchedule:
		return 2
	default:
		return 3
	}
}

// ConflictPolicy governs what happens when admitting a request would
// exceed a concurrency cap, per §4.3.
type ConflictPolicy string

const (
	// ConflictQueue holds the request until capacity frees up or
	// QueueTimeout elapses.
	ConflictQueue ConflictPolicy = "queue"
	// ConflictReject fails the request immediately with ErrCapacityExceeded.
	ConflictReject ConflictPolicy = "reject"
	// ConflictCancelOldest cancels the oldest running admission sharing
	// the same scope (workflow or user) to make room for the new one.
	ConflictCancelOldest ConflictPolicy = "cancel-oldest"
)

// Errors returned by Submit.
var (
	ErrCapacityExceeded = errors.New("trigger: capacity exceeded")
	ErrQueueFull        = errors.New("trigger: admission queue is full")
	ErrQueueTimeout     = errors.New("trigger: timed out waiting for admission")
	ErrCancelled        = errors.New("trigger: execution was cancelled")
)

// Dispatcher hands an admitted request to the Flow Execution Engine.
// executionID is generated by the Trigger Manager at admission time
// (§4.3 step 3), before the Flow Execution Engine ever sees the
// request, so it can be handed back to the caller of SubmitAsync
// immediately and used later to look up the result in the Result
// Cache. It is satisfied directly by workflow.Service.Execute.
type Dispatcher interface {
	Execute(ctx context.Context, executionID, workflowID, userID, triggerNodeID string, triggerData []byte) (*workflow.Execution, error)
}

// Config bounds the Trigger Manager's admission control, per §4.3 and
// §5.
type Config struct {
	MaxGlobalConcurrent      int
	MaxPerWorkflowConcurrent int
	MaxPerUserConcurrent     int
	ConflictPolicy           ConflictPolicy
	MaxQueueSize             int
	QueueTimeout             time.Duration
}

// DefaultConfig returns the Trigger Manager defaults used when no
// explicit configuration is supplied.
func DefaultConfig() Config {
	return Config{
		MaxGlobalConcurrent:      100,
		MaxPerWorkflowConcurrent: 10,
		MaxPerUserConcurrent:     20,
		ConflictPolicy:           ConflictQueue,
		MaxQueueSize:             500,
		QueueTimeout:             30 * time.Second,
	}
}

// Request is one trigger admission request.
type Request struct {
	WorkflowID    string
	UserID        string
	TriggerNodeID string
	TriggerData   []byte
	Source        Source
}

// admission is one in-flight or queued request, ordered by source
// priority and then FIFO within the same priority.
type admission struct {
	req      Request
	seq      int64
	index    int
	cancel   context.CancelFunc
	running  bool
	executionID string
	done     chan struct{}
}

type admissionHeap []*admission

func (h admissionHeap) Len() int { return len(h) }
func (h admissionHeap) Less(i, j int) bool {
	if h[i].req.Source.priority() != h[j].req.Source.priority() {
		return h[i].req.Source.priority() < h[j].req.Source.priority()
	}
	return h[i].seq < h[j].seq
}
func (h admissionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *admissionHeap) Push(x interface{}) {
	a := x.(*admission)
	a.index = len(*h)
	*h = append(*h, a)
}
func (h *admissionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}

// Manager is the Trigger Manager. The zero value is not usable;
// construct with New.
type Manager struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger

	mu            sync.Mutex
	globalCount   int
	perWorkflow   map[string]int
	perUser       map[string]int
	queue         admissionHeap
	byExecutionID map[string]*admission
	nextSeq       int64
}

// New creates a Trigger Manager over dispatcher, which performs the
// actual workflow execution once a request is admitted.
func New(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	if cfg.MaxGlobalConcurrent <= 0 {
		cfg.MaxGlobalConcurrent = DefaultConfig().MaxGlobalConcurrent
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = ConflictQueue
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = DefaultConfig().QueueTimeout
	}
	m := &Manager{
		cfg:           cfg,
		dispatcher:    dispatcher,
		logger:        logger,
		perWorkflow:   make(map[string]int),
		perUser:       make(map[string]int),
		byExecutionID: make(map[string]*admission),
	}
	heap.Init(&m.queue)
	return m
}

// Submit blocks until req is admitted and its execution finishes, is
// rejected by the conflict policy, or the queue wait times out. It is
// the synchronous path used by executeTriggerAndWait (§4.3) — webhook
// handlers await this call directly for "last node" response mode.
func (m *Manager) Submit(ctx context.Context, req Request) (*workflow.Execution, error) {
	a := &admission{req: req, done: make(chan struct{})}

	if err := m.admitOrEnqueue(ctx, a); err != nil {
		return nil, err
	}

	<-a.done

	var result *workflow.Execution
	var runErr error
	execCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	m.mu.Lock()
	m.byExecutionID[a.executionID] = a
	m.mu.Unlock()

	result, runErr = m.dispatcher.Execute(execCtx, a.executionID, req.WorkflowID, req.UserID, req.TriggerNodeID, req.TriggerData)
	m.release(a)

	if errors.Is(execCtx.Err(), context.Canceled) && !errors.Is(ctx.Err(), context.Canceled) {
		return result, ErrCancelled
	}
	return result, runErr
}

// Admission is the result of SubmitAsync: the identifier assigned to a
// request as soon as it clears admission control.
type Admission struct {
	ExecutionID string
}

// SubmitAsync admits req exactly as Submit does — reserving capacity
// under the concurrency caps, applying the conflict policy, and, under
// ConflictQueue, waiting up to QueueTimeout for room — but returns as
// soon as admission succeeds instead of waiting for the Flow Execution
// Engine to finish. The dispatcher keeps running in the background;
// SubmitAsync's caller is expected to look up the eventual result by
// ExecutionID through the Result Cache. This is the admit-only entry
// point §4.3 step 3 describes for the "immediate" webhook response mode.
func (m *Manager) SubmitAsync(ctx context.Context, req Request) (Admission, error) {
	a := &admission{req: req, done: make(chan struct{})}

	if err := m.admitOrEnqueue(ctx, a); err != nil {
		return Admission{}, err
	}

	<-a.done

	execCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	m.mu.Lock()
	m.byExecutionID[a.executionID] = a
	m.mu.Unlock()

	go func() {
		defer cancel()
		defer m.release(a)
		if _, err := m.dispatcher.Execute(execCtx, a.executionID, req.WorkflowID, req.UserID, req.TriggerNodeID, req.TriggerData); err != nil {
			m.logger.Error("trigger: background execution failed", "execution_id", a.executionID, "workflow_id", req.WorkflowID, "error", err)
		}
	}()

	return Admission{ExecutionID: a.executionID}, nil
}

// admitOrEnqueue reserves capacity for a under the global/workflow/user
// caps, applying the conflict policy when a cap is exceeded, and marks
// a admitted (closing a.done) once capacity is secured.
func (m *Manager) admitOrEnqueue(ctx context.Context, a *admission) error {
	m.mu.Lock()
	if m.tryAdmitLocked(a) {
		m.mu.Unlock()
		close(a.done)
		return nil
	}

	switch m.cfg.ConflictPolicy {
	case ConflictReject:
		m.mu.Unlock()
		return ErrCapacityExceeded

	case ConflictCancelOldest:
		victim := m.oldestRunningLocked(a.req)
		m.mu.Unlock()
		if victim == nil {
			return ErrCapacityExceeded
		}
		victim.cancel()
		m.logger.Info("trigger: cancelled oldest admission to make room", "workflow_id", a.req.WorkflowID, "cancelled_execution_id", victim.executionID)
		m.mu.Lock()
		if !m.tryAdmitLocked(a) {
			m.mu.Unlock()
			return ErrCapacityExceeded
		}
		m.mu.Unlock()
		close(a.done)
		return nil

	default: // ConflictQueue
		if len(m.queue) >= m.cfg.MaxQueueSize {
			m.mu.Unlock()
			return ErrQueueFull
		}
		a.seq = m.nextSeq
		m.nextSeq++
		heap.Push(&m.queue, a)
		m.mu.Unlock()

		timer := time.NewTimer(m.cfg.QueueTimeout)
		defer timer.Stop()
		select {
		case <-a.done:
			return nil
		case <-timer.C:
			m.dequeue(a)
			return ErrQueueTimeout
		case <-ctx.Done():
			m.dequeue(a)
			return ctx.Err()
		}
	}
}

// tryAdmitLocked reserves capacity for a if all three caps allow it.
// Caller holds m.mu.
func (m *Manager) tryAdmitLocked(a *admission) bool {
	if m.globalCount >= m.cfg.MaxGlobalConcurrent {
		return false
	}
	if m.cfg.MaxPerWorkflowConcurrent > 0 && m.perWorkflow[a.req.WorkflowID] >= m.cfg.MaxPerWorkflowConcurrent {
		return false
	}
	if m.cfg.MaxPerUserConcurrent > 0 && a.req.UserID != "" && m.perUser[a.req.UserID] >= m.cfg.MaxPerUserConcurrent {
		return false
	}
	m.globalCount++
	m.perWorkflow[a.req.WorkflowID]++
	if a.req.UserID != "" {
		m.perUser[a.req.UserID]++
	}
	a.running = true
	a.executionID = uuid.New().String()
	return true
}

// oldestRunningLocked returns the longest-admitted running admission
// sharing req's workflow or user scope, or nil if none is running.
func (m *Manager) oldestRunningLocked(req Request) *admission {
	var oldest *admission
	for _, a := range m.byExecutionID {
		if a.req.WorkflowID != req.WorkflowID && (req.UserID == "" || a.req.UserID != req.UserID) {
			continue
		}
		if oldest == nil || a.seq < oldest.seq {
			oldest = a
		}
	}
	return oldest
}

// release frees a's reserved capacity and drains the queue in priority
// order, admitting as many queued requests as the freed capacity allows.
func (m *Manager) release(a *admission) {
	m.mu.Lock()
	delete(m.byExecutionID, a.executionID)
	m.globalCount--
	m.perWorkflow[a.req.WorkflowID]--
	if m.perWorkflow[a.req.WorkflowID] <= 0 {
		delete(m.perWorkflow, a.req.WorkflowID)
	}
	if a.req.UserID != "" {
		m.perUser[a.req.UserID]--
		if m.perUser[a.req.UserID] <= 0 {
			delete(m.perUser, a.req.UserID)
		}
	}

	for m.queue.Len() > 0 {
		next := m.queue[0]
		if !m.tryAdmitLocked(next) {
			break
		}
		heap.Pop(&m.queue)
		close(next.done)
	}
	m.mu.Unlock()
}

// dequeue removes a queued admission that timed out or whose caller's
// context was cancelled before it was admitted.
func (m *Manager) dequeue(a *admission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.index >= 0 && a.index < len(m.queue) && m.queue[a.index] == a {
		heap.Remove(&m.queue, a.index)
	}
}

// Cancel cancels a running execution's context, used by the
// cancellation API of §4.3.
func (m *Manager) Cancel(executionID string) error {
	m.mu.Lock()
	a, ok := m.byExecutionID[executionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("trigger: no running execution %s", executionID)
	}
	a.cancel()
	return nil
}

// Stats reports the current admission counters, used by the metrics
// and health handlers.
type Stats struct {
	GlobalRunning int
	QueueDepth    int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{GlobalRunning: m.globalCount, QueueDepth: m.queue.Len()}
}
