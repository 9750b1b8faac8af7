package executor

import "errors"

// Sentinel error kinds for the Flow Execution Engine (§7).
var (
	ErrWorkflowCycle       = errors.New("workflow contains a cycle in its scoped subgraph")
	ErrLoopStuck           = errors.New("loop node emitted neither loop nor done items")
	ErrLoopIterationLimit  = errors.New("loop node exceeded its iteration cap")
	ErrUnknownNodeType     = errors.New("no handler registered for node type")
	ErrDependencyUnsatisfied = errors.New("node dependencies could not be satisfied")
)
