package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Executor is implemented by the Flow Execution Engine. Service depends on
// this interface, not the concrete executor package, to avoid an import
// cycle (executor imports workflow for its domain types).
type Executor interface {
	Execute(ctx context.Context, execution *Execution, def *Definition) error
}

// TriggerSync is implemented by the trigger registry / schedule manager
// facade that keeps webhook routes and cron jobs in sync with a
// workflow's trigger definitions.
type TriggerSync interface {
	SyncTriggers(ctx context.Context, workflowID string, triggers []TriggerDefinition) error
	RemoveTriggers(ctx context.Context, workflowID string) error
}

// Service implements workflow CRUD and execution admission.
type Service struct {
	repo        *Repository
	executor    Executor
	triggerSync TriggerSync
	logger      *slog.Logger
}

// NewService creates a new workflow service.
func NewService(repo *Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetExecutor wires the Flow Execution Engine after both are constructed,
// avoiding an import cycle between the workflow and executor packages.
func (s *Service) SetExecutor(executor Executor) {
	s.executor = executor
}

// SetTriggerSync wires the trigger registry / schedule manager facade.
func (s *Service) SetTriggerSync(sync TriggerSync) {
	s.triggerSync = sync
}

// Create validates and persists a new workflow. New workflows are created
// inactive; Activate enrolls their triggers.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateWorkflowInput) (*Workflow, error) {
	if err := s.validateDefinition(input.Nodes, input.Connections, input.Triggers); err != nil {
		return nil, err
	}

	wf, err := s.repo.Create(ctx, ownerID, input)
	if err != nil {
		s.logger.Error("failed to create workflow", "error", err, "owner_id", ownerID)
		return nil, err
	}

	s.logger.Info("workflow created", "workflow_id", wf.ID, "owner_id", ownerID)
	return wf, nil
}

// GetByID retrieves a workflow by ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Workflow, error) {
	return s.repo.GetByID(ctx, id)
}

// Update validates and persists changes to a workflow, re-syncing its
// triggers if the definition changed and the workflow is active.
func (s *Service) Update(ctx context.Context, id string, input UpdateWorkflowInput) (*Workflow, error) {
	if input.Nodes != nil || input.Connections != nil || input.Triggers != nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes := input.Nodes
		if nodes == nil {
			nodes = current.Nodes
		}
		connections := input.Connections
		if connections == nil {
			connections = current.Connections
		}
		triggers := input.Triggers
		if triggers == nil {
			triggers = current.Triggers
		}
		if err := s.validateDefinition(nodes, connections, triggers); err != nil {
			return nil, err
		}
	}

	wf, err := s.repo.Update(ctx, id, input)
	if err != nil {
		s.logger.Error("failed to update workflow", "error", err, "workflow_id", id)
		return nil, err
	}

	if wf.Active && s.triggerSync != nil {
		def, err := ParseDefinition(wf)
		if err == nil {
			if err := s.triggerSync.SyncTriggers(ctx, wf.ID, def.Triggers); err != nil {
				s.logger.Error("failed to sync triggers", "error", err, "workflow_id", wf.ID)
			}
		}
	}

	s.logger.Info("workflow updated", "workflow_id", wf.ID, "version", wf.Version)
	return wf, nil
}

// SetActive activates or deactivates a workflow, enrolling or withdrawing
// its triggers from the registry and schedule manager.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Workflow, error) {
	wf, err := s.repo.Update(ctx, id, UpdateWorkflowInput{Active: &active})
	if err != nil {
		return nil, err
	}

	if s.triggerSync == nil {
		return wf, nil
	}
	if active {
		def, err := ParseDefinition(wf)
		if err != nil {
			return wf, fmt.Errorf("parse definition: %w", err)
		}
		if err := s.triggerSync.SyncTriggers(ctx, wf.ID, def.Triggers); err != nil {
			return wf, fmt.Errorf("sync triggers: %w", err)
		}
	} else {
		if err := s.triggerSync.RemoveTriggers(ctx, wf.ID); err != nil {
			return wf, fmt.Errorf("remove triggers: %w", err)
		}
	}
	return wf, nil
}

// Delete removes a workflow and withdraws its triggers.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.triggerSync != nil {
		if err := s.triggerSync.RemoveTriggers(ctx, id); err != nil {
			s.logger.Error("failed to remove triggers", "error", err, "workflow_id", id)
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete workflow", "error", err, "workflow_id", id)
		return err
	}
	s.logger.Info("workflow deleted", "workflow_id", id)
	return nil
}

// List retrieves workflows owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]*Workflow, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, ownerID, limit, offset)
}

// Execute implements trigger.Dispatcher: it creates the execution record
// under executionID and hands it to the Flow Execution Engine.
// executionID is generated by the caller — the Trigger Manager at
// admission time for triggered runs, per §4.3 — so the identifier
// returned here always matches the one already exposed to the trigger's
// caller.
func (s *Service) Execute(ctx context.Context, executionID, workflowID, userID, triggerNodeID string, triggerData []byte) (*Execution, error) {
	wf, err := s.repo.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Active {
		return nil, &ValidationError{Message: "workflow must be active to execute"}
	}

	def, err := ParseDefinition(wf)
	if err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}

	execution, err := s.repo.CreateExecution(ctx, executionID, workflowID, userID, triggerNodeID, triggerData)
	if err != nil {
		s.logger.Error("failed to create execution", "error", err, "workflow_id", workflowID)
		return nil, err
	}
	s.logger.Info("execution created", "execution_id", execution.ID, "workflow_id", workflowID)

	if s.executor == nil {
		return execution, &ValidationError{Message: "executor not configured"}
	}
	if err := s.executor.Execute(ctx, execution, def); err != nil {
		s.logger.Error("workflow execution failed", "error", err, "execution_id", execution.ID)
		return execution, err
	}
	return s.repo.GetExecutionByID(ctx, execution.ID)
}

// GetExecution retrieves an execution by ID.
func (s *Service) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	return s.repo.GetExecutionByID(ctx, executionID)
}

// GetNodeExecutions retrieves the per-node history of an execution.
func (s *Service) GetNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error) {
	return s.repo.GetNodeExecutions(ctx, executionID)
}

// ListExecutions retrieves executions matching filter with cursor pagination.
func (s *Service) ListExecutions(ctx context.Context, filter ExecutionFilter, cursor string, limit int) (*ExecutionListResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if err := filter.Validate(); err != nil {
		return nil, &ValidationError{Message: "invalid filter: " + err.Error()}
	}
	return s.repo.ListExecutions(ctx, filter, cursor, limit)
}

// validateDefinition checks the structural invariants of §3: every
// connection's endpoints resolve to declared nodes, no self-connections,
// the connection graph is acyclic, and every trigger references an
// existing node.
func (s *Service) validateDefinition(nodesRaw, connectionsRaw, triggersRaw json.RawMessage) error {
	var nodes []Node
	if err := json.Unmarshal(nodesRaw, &nodes); err != nil {
		return &ValidationError{Message: "invalid nodes JSON: " + err.Error()}
	}
	if len(nodes) == 0 {
		return &ValidationError{Message: "workflow must have at least one node"}
	}

	nodeIDs := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return &ValidationError{Message: "node is missing an id"}
		}
		nodeIDs[n.ID] = true
	}

	var connections []Connection
	if len(connectionsRaw) > 0 {
		if err := json.Unmarshal(connectionsRaw, &connections); err != nil {
			return &ValidationError{Message: "invalid connections JSON: " + err.Error()}
		}
	}

	adj := make(map[string][]string, len(nodes))
	for _, c := range connections {
		if !nodeIDs[c.SourceNodeID] {
			return &ValidationError{Message: "connection references non-existent source node: " + c.SourceNodeID}
		}
		if !nodeIDs[c.TargetNodeID] {
			return &ValidationError{Message: "connection references non-existent target node: " + c.TargetNodeID}
		}
		if c.SourceNodeID == c.TargetNodeID {
			return &ValidationError{Message: "self-connections are not allowed: " + c.SourceNodeID}
		}
		adj[c.SourceNodeID] = append(adj[c.SourceNodeID], c.TargetNodeID)
	}

	if _, err := topologicalOrder(nodeIDs, adj); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	if len(triggersRaw) > 0 {
		var triggers []TriggerDefinition
		if err := json.Unmarshal(triggersRaw, &triggers); err != nil {
			return &ValidationError{Message: "invalid triggers JSON: " + err.Error()}
		}
		for _, t := range triggers {
			if !nodeIDs[t.NodeID] {
				return &ValidationError{Message: "trigger references non-existent node: " + t.NodeID}
			}
		}
	}

	return nil
}

// topologicalOrder runs Kahn's algorithm over the node/connection graph,
// returning an error if a cycle is detected.
func topologicalOrder(nodeIDs map[string]bool, adj map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodeIDs))
	for id := range nodeIDs {
		inDegree[id] = 0
	}
	for _, targets := range adj {
		for _, t := range targets {
			inDegree[t]++
		}
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodeIDs) {
		return nil, fmt.Errorf("workflow contains a cycle")
	}
	return order, nil
}

// ValidationError represents a request-level validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
