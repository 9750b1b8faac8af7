package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorax/gorax/internal/eventbus"
	"github.com/gorax/gorax/internal/executor/actions"
	"github.com/gorax/gorax/internal/resultcache"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/workflow"
)

// Engine is the Flow Execution Engine: it resolves a workflow's
// reachable subgraph from a trigger node, schedules nodes in
// dependency order, routes data per connection, gates branch
// consumers, drives the loop-node protocol, and optionally persists
// per-node state. It implements workflow.Executor.
type Engine struct {
	repo     *workflow.Repository
	handlers *HandlerRegistry
	retry    *RetryStrategy
	logger   *slog.Logger

	events  *eventbus.Bus
	results *resultcache.Cache

	maxLoopIterations int
}

// SetEventBus wires execution and node lifecycle event publication
// (§4.6). Optional — a nil bus means Execute runs without publishing.
func (e *Engine) SetEventBus(bus *eventbus.Bus) {
	e.events = bus
}

// SetResultCache wires the terminal-result cache used for synchronous
// webhook responses (§4.5). Optional — a nil cache means finished
// executions are recorded only through the repository.
func (e *Engine) SetResultCache(cache *resultcache.Cache) {
	e.results = cache
}

func (e *Engine) publish(evt eventbus.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

// NewEngine wires the built-in action handlers (action:http,
// action:transform) on top of the structural handlers (trigger:manual,
// control:if, control:switch) and returns a ready-to-use Engine.
func NewEngine(repo *workflow.Repository, logger *slog.Logger) *Engine {
	retryStrategy := NewRetryStrategy(DefaultNodeRetryConfig().RetryConfig, logger)

	handlers := NewHandlerRegistry()
	handlers.Register("action:http", newActionHandler(func() actions.Action { return actions.NewHTTPAction() }, retryStrategy))
	handlers.Register("action:transform", newActionHandler(func() actions.Action { return &actions.TransformAction{} }, retryStrategy))

	return &Engine{
		repo:              repo,
		handlers:          handlers,
		retry:             retryStrategy,
		logger:            logger,
		maxLoopIterations: 100_000,
	}
}

// runState is the per-node bookkeeping the scheduler maintains for one
// scope (the top-level run, or a nested loop-body run).
type runState struct {
	status          map[string]string // idle|queued|running|completed|failed|skipped
	pendingDeps     map[string]int
	completedDeps   map[string]int
	hasData         map[string]bool
	outputs         map[string]*NodeOutput
	order           []string // node ids in the order finish() settled them
}

func newRunState() *runState {
	return &runState{
		status:        make(map[string]string),
		pendingDeps:   make(map[string]int),
		completedDeps: make(map[string]int),
		hasData:       make(map[string]bool),
		outputs:       make(map[string]*NodeOutput),
	}
}

// Execute implements workflow.Executor. It computes the reachable scope
// from the execution's trigger node, carves out loop-node bodies so the
// main scheduler never queues them directly, then drives the scope to
// completion.
func (e *Engine) Execute(ctx context.Context, execution *workflow.Execution, def *workflow.Definition) error {
	e.publish(eventbus.Event{Type: eventbus.ExecutionStarted, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID})

	nodeMap := make(map[string]*workflow.Node, len(def.Nodes))
	for i := range def.Nodes {
		nodeMap[def.Nodes[i].ID] = &def.Nodes[i]
	}
	if _, ok := nodeMap[execution.TriggerNodeID]; !ok {
		return fmt.Errorf("trigger node %s not found in workflow", execution.TriggerNodeID)
	}

	bySource := make(map[string][]workflow.Connection)
	byTarget := make(map[string][]workflow.Connection)
	for _, c := range def.Connections {
		bySource[c.SourceNodeID] = append(bySource[c.SourceNodeID], c)
		byTarget[c.TargetNodeID] = append(byTarget[c.TargetNodeID], c)
	}

	scope := bfsReachable(execution.TriggerNodeID, bySource)

	loopBodies := carveLoopBodies(scope, nodeMap, bySource)
	for loopID, body := range loopBodies {
		for id := range body {
			delete(scope, id)
		}
		_ = loopID
	}

	if err := checkAcyclic(scope, bySource); err != nil {
		return e.finishExecution(ctx, execution, err)
	}

	var triggerData map[string]interface{}
	if execution.TriggerData != nil && len(*execution.TriggerData) > 0 {
		_ = json.Unmarshal(*execution.TriggerData, &triggerData)
	}
	if triggerData == nil {
		triggerData = map[string]interface{}{}
	}

	rc := &RunContext{
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		TriggerData:    triggerData,
		SaveToDatabase: def.Settings.SaveExecutionToDatabase,
	}

	g := &graph{nodeMap: nodeMap, bySource: bySource, byTarget: byTarget, loopBodies: loopBodies}
	rs := newRunState()
	seed := map[string][]Item{execution.TriggerNodeID: {{JSON: triggerData}}}

	hasFailure, runErr := e.runScope(ctx, g, scope, seed, rs, rc)

	rc.outputs = rs.outputs
	terminalItems := terminalOutput(g, scope, rs)

	if runErr != nil {
		return e.finishExecution(ctx, execution, runErr, terminalItems)
	}
	if hasFailure {
		return e.finishExecution(ctx, execution, fmt.Errorf("one or more nodes failed"), terminalItems)
	}
	return e.finishExecution(ctx, execution, nil, terminalItems)
}

// terminalOutput collects the Main-port items of every in-scope node
// that has no outgoing connection at all, the data a synchronous
// webhook response (§4.1 "last node" mode) or the Result Cache (§4.5)
// reports back to the caller. Nodes are visited in completion order
// (rs.order) rather than scope's map order so the result is
// deterministic and the last item reflects the last node the scheduler
// actually finished.
func terminalOutput(g *graph, scope map[string]bool, rs *runState) []Item {
	var items []Item
	for _, id := range rs.order {
		if !scope[id] {
			continue
		}
		if len(g.bySource[id]) > 0 {
			continue
		}
		if out := rs.outputs[id]; out != nil {
			items = append(items, out.Main...)
		}
	}
	return items
}

func (e *Engine) finishExecution(ctx context.Context, execution *workflow.Execution, runErr error, terminalItems []Item) error {
	status := workflow.ExecutionStatusSuccess
	var errPayload []byte
	if runErr != nil {
		status = workflow.ExecutionStatusError
		errPayload, _ = json.Marshal(map[string]string{"message": runErr.Error()})
		e.logger.Error("execution failed", "execution_id", execution.ID, "error", runErr)
	}
	if updateErr := e.repo.UpdateExecutionStatus(ctx, execution.ID, status, errPayload); updateErr != nil {
		e.logger.Error("failed to record execution status", "execution_id", execution.ID, "error", updateErr)
	}

	evtType := eventbus.ExecutionCompleted
	if runErr != nil {
		evtType = eventbus.ExecutionFailed
	}
	evt := eventbus.Event{Type: evtType, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID}
	if runErr != nil {
		evt.Error = runErr.Error()
	}
	e.publish(evt)

	if e.results != nil {
		data, _ := json.Marshal(terminalItems)
		result := resultcache.Result{ExecutionID: execution.ID, Status: string(status), Data: data}
		if runErr != nil {
			result.Error = runErr.Error()
		}
		e.results.Set(ctx, result)
	}

	return runErr
}

// graph is the static, precomputed shape of a workflow's connections,
// shared by the top-level scheduler and every nested loop-body run.
type graph struct {
	nodeMap    map[string]*workflow.Node
	bySource   map[string][]workflow.Connection
	byTarget   map[string][]workflow.Connection
	loopBodies map[string]map[string]bool
}

// runScope drives a push-based scheduler over exactly the node ids in
// `ids`. Nodes named in `seed` receive their main input from the seed
// map instead of (or in addition to) their in-scope incoming
// connections — this models both the top-level trigger node and a
// loop body's entry nodes with the same mechanism.
func (e *Engine) runScope(ctx context.Context, g *graph, ids map[string]bool, seed map[string][]Item, rs *runState, rc *RunContext) (hasFailure bool, err error) {
	for id := range ids {
		rs.status[id] = "idle"
		deps := 0
		for _, c := range g.byTarget[id] {
			if ids[c.SourceNodeID] {
				deps++
			}
		}
		rs.pendingDeps[id] = deps
	}

	var queue []string
	for id := range seed {
		if ids[id] {
			rs.status[id] = "queued"
			queue = append(queue, id)
		}
	}
	for id := range ids {
		if rs.status[id] == "idle" && rs.pendingDeps[id] == 0 {
			rs.status[id] = "queued"
			queue = append(queue, id)
		}
	}

	completed, failed := 0, 0

	var finish func(id string, out *NodeOutput, status string)
	finish = func(id string, out *NodeOutput, status string) {
		rs.status[id] = status
		rs.outputs[id] = out
		rs.order = append(rs.order, id)
		switch status {
		case "completed":
			completed++
			e.publish(eventbus.Event{Type: eventbus.NodeCompleted, ExecutionID: rc.ExecutionID, WorkflowID: rc.WorkflowID, NodeID: id})
		case "failed":
			failed++
			e.publish(eventbus.Event{Type: eventbus.NodeFailed, ExecutionID: rc.ExecutionID, WorkflowID: rc.WorkflowID, NodeID: id})
		}

		for _, c := range g.bySource[id] {
			if !ids[c.TargetNodeID] {
				continue
			}
			target := c.TargetNodeID
			carries := status == "completed" && branchNonEmpty(out, c.SourcePort())
			if carries {
				rs.hasData[target] = true
			}
			rs.completedDeps[target]++
			if rs.completedDeps[target] == rs.pendingDeps[target] {
				if rs.hasData[target] || seed[target] != nil {
					rs.status[target] = "queued"
					queue = append(queue, target)
				} else {
					finish(target, nil, "skipped")
				}
			}
		}
	}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return hasFailure, ctx.Err()
		}
		id := queue[0]
		queue = queue[1:]
		if rs.status[id] != "queued" {
			continue
		}
		rs.status[id] = "running"
		e.publish(eventbus.Event{Type: eventbus.NodeStarted, ExecutionID: rc.ExecutionID, WorkflowID: rc.WorkflowID, NodeID: id})

		input := NewNodeInput()
		for _, c := range g.byTarget[id] {
			if !ids[c.SourceNodeID] {
				continue
			}
			input.Add(c.TargetPort(), itemsForPort(rs.outputs[c.SourceNodeID], c.SourcePort()))
		}
		if items, ok := seed[id]; ok {
			input.Add(workflow.MainPort, items)
		}

		out, execErr := e.runNode(ctx, g, id, input, rc, rs)
		if execErr != nil {
			hasFailure = true
			e.logger.Error("node execution failed", "node_id", id, "error", execErr)
			finish(id, nil, "failed")
			continue
		}
		finish(id, out, "completed")
	}

	return hasFailure, nil
}

// runNode dispatches one node to its handler, special-casing
// control:loop which drives a nested scope repeatedly instead of
// executing once.
func (e *Engine) runNode(ctx context.Context, g *graph, id string, input *NodeInput, rc *RunContext, rs *runState) (*NodeOutput, error) {
	node := g.nodeMap[id]
	if node.Disabled {
		return NewNodeOutput(node.Type, input.Flatten(workflow.MainPort), nil), nil
	}

	var nodeExecID string
	if rc.SaveToDatabase {
		nodeExecID = e.recordNodeStart(ctx, rc.ExecutionID, id, input)
	}

	var out *NodeOutput
	var err error
	if node.Type == "control:loop" {
		out, err = e.driveLoop(ctx, g, node, input, rc, rs)
	} else {
		handler, ok := e.handlers.Lookup(node.Type)
		if !ok {
			err = fmt.Errorf("node %s: %w: %s", id, ErrUnknownNodeType, node.Type)
		} else {
			var result interface{}
			result, err = tracing.TraceNodeExecution(ctx, id, node.Type, func(ctx context.Context) (interface{}, error) {
				o, hErr := handler.Execute(ctx, node, input, rc)
				return o, hErr
			})
			if err == nil && result != nil {
				out = result.(*NodeOutput)
			}
		}
	}

	e.recordNodeFinish(ctx, nodeExecID, out, err)
	return out, err
}

// driveLoop repeatedly invokes a control:loop node, running its
// "loop"-port subgraph to completion as a nested scope between
// invocations, per §4.4.4.
func (e *Engine) driveLoop(ctx context.Context, g *graph, node *workflow.Node, input *NodeInput, rc *RunContext, parentRS *runState) (*NodeOutput, error) {
	body := g.loopBodies[node.ID]
	cursor := newLoopCursor(input.Flatten(workflow.MainPort), parseLoopConfig(node.Parameters))

	var entryIDs []string
	for _, c := range g.bySource[node.ID] {
		if c.SourcePort() == "loop" && body[c.TargetNodeID] {
			entryIDs = append(entryIDs, c.TargetNodeID)
		}
	}

	iterations := 0
	for {
		branches := cursor.next()
		if len(branches["loop"]) == 0 && len(branches["done"]) == 0 {
			return nil, fmt.Errorf("node %s: %w", node.ID, ErrLoopStuck)
		}
		if len(branches["loop"]) > 0 {
			iterations++
			if iterations > e.maxLoopIterations {
				return nil, fmt.Errorf("node %s: %w", node.ID, ErrLoopIterationLimit)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if len(body) > 0 && len(entryIDs) > 0 {
				seed := make(map[string][]Item, len(entryIDs))
				for _, id := range entryIDs {
					seed[id] = branches["loop"]
				}
				bodyRS := newRunState()
				if _, err := e.runScope(ctx, g, body, seed, bodyRS, rc); err != nil {
					return nil, fmt.Errorf("node %s: loop body: %w", node.ID, err)
				}
				for id, out := range bodyRS.outputs {
					parentRS.outputs[id] = out
				}
			}
			continue
		}
		return NewNodeOutput(node.Type, nil, branches), nil
	}
}

func (e *Engine) recordNodeStart(ctx context.Context, executionID, nodeID string, input *NodeInput) string {
	payload, _ := json.Marshal(input.Ports)
	ne, err := e.repo.CreateNodeExecution(ctx, executionID, nodeID, payload)
	if err != nil {
		e.logger.Warn("failed to record node execution start", "node_id", nodeID, "error", err)
		return ""
	}
	return ne.ID
}

func (e *Engine) recordNodeFinish(ctx context.Context, nodeExecID string, out *NodeOutput, execErr error) {
	if nodeExecID == "" {
		return
	}
	status := "completed"
	var errPayload []byte
	if execErr != nil {
		status = "failed"
		errPayload, _ = json.Marshal(map[string]string{"message": execErr.Error()})
	}
	var outPayload []byte
	if out != nil {
		outPayload, _ = json.Marshal(out)
	}
	if err := e.repo.UpdateNodeExecution(ctx, nodeExecID, status, outPayload, errPayload); err != nil {
		e.logger.Warn("failed to record node execution finish", "node_execution_id", nodeExecID, "error", err)
	}
}

// bfsReachable computes the set R of nodes reachable forward from
// start, per §4.4's scope rule.
func bfsReachable(start string, bySource map[string][]workflow.Connection) map[string]bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range bySource[id] {
			if !visited[c.TargetNodeID] {
				visited[c.TargetNodeID] = true
				queue = append(queue, c.TargetNodeID)
			}
		}
	}
	return visited
}

// carveLoopBodies finds every control:loop node in scope (recursively,
// including loops nested inside another loop's body) and computes the
// set of nodes reachable only via its "loop" output port, so the outer
// scheduler never queues them directly — the loop driver owns them.
func carveLoopBodies(scope map[string]bool, nodeMap map[string]*workflow.Node, bySource map[string][]workflow.Connection) map[string]map[string]bool {
	bodies := make(map[string]map[string]bool)
	pending := make([]string, 0, len(scope))
	for id := range scope {
		pending = append(pending, id)
	}

	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		node, ok := nodeMap[id]
		if !ok || node.Type != "control:loop" {
			continue
		}

		doneTargets := portTargets(id, "done", bySource)
		doneReach := reachableExcluding(doneTargets, bySource, nil)

		loopTargets := portTargets(id, "loop", bySource)
		body := reachableExcluding(loopTargets, bySource, doneReach)

		bodies[id] = body
		for bodyID := range body {
			pending = append(pending, bodyID)
		}
	}
	return bodies
}

func portTargets(nodeID, port string, bySource map[string][]workflow.Connection) []string {
	var targets []string
	for _, c := range bySource[nodeID] {
		if c.SourcePort() == port {
			targets = append(targets, c.TargetNodeID)
		}
	}
	return targets
}

func reachableExcluding(starts []string, bySource map[string][]workflow.Connection, exclude map[string]bool) map[string]bool {
	visited := map[string]bool{}
	queue := append([]string{}, starts...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] || exclude[id] {
			continue
		}
		visited[id] = true
		for _, c := range bySource[id] {
			if !visited[c.TargetNodeID] && !exclude[c.TargetNodeID] {
				queue = append(queue, c.TargetNodeID)
			}
		}
	}
	return visited
}

// checkAcyclic runs Kahn's algorithm over the scoped subgraph,
// returning ErrWorkflowCycle if any node is left unordered. Loop bodies
// are carved out of scope before this runs, so a loop's internal
// structure never needs to participate in DAG validation here.
func checkAcyclic(scope map[string]bool, bySource map[string][]workflow.Connection) error {
	inDegree := make(map[string]int, len(scope))
	for id := range scope {
		inDegree[id] = 0
	}
	for id := range scope {
		for _, c := range bySource[id] {
			if scope[c.TargetNodeID] {
				inDegree[c.TargetNodeID]++
			}
		}
	}

	var queue []string
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, c := range bySource[id] {
			if !scope[c.TargetNodeID] {
				continue
			}
			inDegree[c.TargetNodeID]--
			if inDegree[c.TargetNodeID] == 0 {
				queue = append(queue, c.TargetNodeID)
			}
		}
	}

	if ordered != len(scope) {
		return ErrWorkflowCycle
	}
	return nil
}
