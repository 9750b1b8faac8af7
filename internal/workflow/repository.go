package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("workflow not found")

// Repository handles workflow and execution persistence.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new workflow repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new workflow.
func (r *Repository) Create(ctx context.Context, ownerID string, input CreateWorkflowInput) (*Workflow, error) {
	id := uuid.New().String()
	now := time.Now()

	query := `
		INSERT INTO workflows (id, owner_id, name, active, nodes, connections, triggers, settings, version, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $5, $6, $7, 1, $8, $8)
		RETURNING *
	`

	var wf Workflow
	err := r.db.QueryRowxContext(
		ctx, query,
		id, ownerID, input.Name, input.Nodes, input.Connections, input.Triggers, input.Settings, now,
	).StructScan(&wf)
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return &wf, nil
}

// GetByID retrieves a workflow by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT * FROM workflows WHERE id = $1`

	var wf Workflow
	err := r.db.GetContext(ctx, &wf, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wf, nil
}

// Update updates a workflow, incrementing its version whenever the
// definition (nodes, connections or triggers) changes.
func (r *Repository) Update(ctx context.Context, id string, input UpdateWorkflowInput) (*Workflow, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newVersion := current.Version
	definitionChanged := input.Nodes != nil || input.Connections != nil || input.Triggers != nil
	if definitionChanged {
		newVersion++
	}

	name := current.Name
	if input.Name != nil {
		name = *input.Name
	}
	active := current.Active
	if input.Active != nil {
		active = *input.Active
	}
	nodes := current.Nodes
	if input.Nodes != nil {
		nodes = input.Nodes
	}
	connections := current.Connections
	if input.Connections != nil {
		connections = input.Connections
	}
	triggers := current.Triggers
	if input.Triggers != nil {
		triggers = input.Triggers
	}
	settings := current.Settings
	if input.Settings != nil {
		settings = input.Settings
	}

	query := `
		UPDATE workflows
		SET name = $2, active = $3, nodes = $4, connections = $5, triggers = $6, settings = $7, version = $8, updated_at = $9
		WHERE id = $1
		RETURNING *
	`

	var wf Workflow
	err = r.db.QueryRowxContext(
		ctx, query,
		id, name, active, nodes, connections, triggers, settings, newVersion, time.Now(),
	).StructScan(&wf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wf, nil
}

// Delete removes a workflow.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves workflows owned by ownerID with pagination.
func (r *Repository) List(ctx context.Context, ownerID string, limit, offset int) ([]*Workflow, error) {
	query := `
		SELECT * FROM workflows
		WHERE owner_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`
	var workflows []*Workflow
	err := r.db.SelectContext(ctx, &workflows, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

// ListActive retrieves every active workflow, used at startup to
// rehydrate the Trigger Registry, Schedule Manager and webhook router.
func (r *Repository) ListActive(ctx context.Context) ([]*Workflow, error) {
	var workflows []*Workflow
	err := r.db.SelectContext(ctx, &workflows, `SELECT * FROM workflows WHERE active = true`)
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

// CreateExecution creates a new execution record under id, which the
// caller generates up front — the Trigger Manager assigns it at
// admission time (§4.3) so the identifier handed back to an "immediate"
// response-mode caller matches the one the Result Cache is keyed on.
func (r *Repository) CreateExecution(ctx context.Context, id, workflowID, userID, triggerNodeID string, triggerData []byte) (*Execution, error) {
	now := time.Now()

	var triggerDataParam interface{}
	if len(triggerData) > 0 {
		triggerDataParam = triggerData
	}

	query := `
		INSERT INTO executions (id, workflow_id, user_id, trigger_node_id, status, trigger_data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`
	var execution Execution
	err := r.db.QueryRowxContext(
		ctx, query,
		id, workflowID, userID, triggerNodeID, ExecutionStatusRunning, triggerDataParam, now,
	).StructScan(&execution)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return &execution, nil
}

// GetExecutionByID retrieves an execution by ID.
func (r *Repository) GetExecutionByID(ctx context.Context, id string) (*Execution, error) {
	query := `SELECT * FROM executions WHERE id = $1`
	var execution Execution
	err := r.db.GetContext(ctx, &execution, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &execution, nil
}

// UpdateExecutionStatus updates an execution's terminal status.
func (r *Repository) UpdateExecutionStatus(ctx context.Context, id string, status ExecutionStatus, errData []byte) error {
	now := time.Now()
	var errParam interface{}
	if len(errData) > 0 {
		errParam = errData
	}
	query := `
		UPDATE executions
		SET status = $2, finished_at = $3, error = COALESCE($4, error)
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, now, errParam)
	return err
}

// ListExecutions retrieves executions matching filter with cursor pagination.
func (r *Repository) ListExecutions(ctx context.Context, filter ExecutionFilter, cursor string, limit int) (*ExecutionListResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	if limit <= 0 {
		limit = 20
	}

	conditions := []string{"1=1"}
	args := []interface{}{}
	argIndex := 0

	addCond := func(cond string, arg interface{}) {
		argIndex++
		conditions = append(conditions, fmt.Sprintf(cond, argIndex))
		args = append(args, arg)
	}

	if filter.WorkflowID != "" {
		addCond("workflow_id = $%d", filter.WorkflowID)
	}
	if filter.Status != "" {
		addCond("status = $%d", filter.Status)
	}
	if filter.StartDate != nil {
		addCond("started_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		addCond("started_at <= $%d", *filter.EndDate)
	}

	if cursor != "" {
		cursorData, err := DecodePaginationCursor(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		argIndex++
		ai1 := argIndex
		args = append(args, cursorData.CreatedAt)
		argIndex++
		ai2 := argIndex
		args = append(args, cursorData.ID)
		conditions = append(conditions, fmt.Sprintf("(started_at < $%d OR (started_at = $%d AND id < $%d))", ai1, ai1, ai2))
	}

	where := ""
	for i, c := range conditions {
		if i > 0 {
			where += " AND "
		}
		where += c
	}

	query := fmt.Sprintf(`
		SELECT * FROM executions
		WHERE %s
		ORDER BY started_at DESC, id DESC
		LIMIT %d
	`, where, limit+1)

	var executions []*Execution
	if err := r.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	hasMore := len(executions) > limit
	if hasMore {
		executions = executions[:limit]
	}

	var nextCursor string
	if hasMore && len(executions) > 0 {
		last := executions[len(executions)-1]
		nextCursor = PaginationCursor{CreatedAt: last.StartedAt, ID: last.ID}.Encode()
	}

	return &ExecutionListResult{Data: executions, Cursor: nextCursor, HasMore: hasMore}, nil
}

// CreateNodeExecution records that a node began executing.
func (r *Repository) CreateNodeExecution(ctx context.Context, executionID, nodeID string, inputData []byte) (*NodeExecution, error) {
	id := uuid.New().String()
	now := time.Now()
	var inputParam interface{}
	if len(inputData) > 0 {
		inputParam = inputData
	}
	query := `
		INSERT INTO node_executions (id, execution_id, node_id, status, input_data, started_at)
		VALUES ($1, $2, $3, 'running', $4, $5)
		RETURNING *
	`
	var ne NodeExecution
	err := r.db.QueryRowxContext(ctx, query, id, executionID, nodeID, inputParam, now).StructScan(&ne)
	if err != nil {
		return nil, fmt.Errorf("create node execution: %w", err)
	}
	return &ne, nil
}

// UpdateNodeExecution records a node's completion.
func (r *Repository) UpdateNodeExecution(ctx context.Context, id, status string, outputData, errData []byte) error {
	now := time.Now()
	var outParam, errParam interface{}
	if len(outputData) > 0 {
		outParam = outputData
	}
	if len(errData) > 0 {
		errParam = errData
	}
	query := `
		UPDATE node_executions
		SET status = $2, output_data = COALESCE($3, output_data), error = COALESCE($4, error), finished_at = $5
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, outParam, errParam, now)
	return err
}

// GetNodeExecutions retrieves all node executions for an execution, ordered
// by start time.
func (r *Repository) GetNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error) {
	query := `SELECT * FROM node_executions WHERE execution_id = $1 ORDER BY started_at ASC`
	var rows []*NodeExecution
	if err := r.db.SelectContext(ctx, &rows, query, executionID); err != nil {
		return nil, err
	}
	return rows, nil
}
