package executor

import (
	"context"

	"github.com/gorax/gorax/internal/workflow"
)

// RunContext carries the state a node handler needs beyond its own
// input: the triggering payload and a read-only view of what upstream
// nodes have already produced, addressable by node id for interpolation
// expressions like steps.http-1.json.
type RunContext struct {
	ExecutionID    string
	WorkflowID     string
	TriggerData    map[string]interface{}
	SaveToDatabase bool
	outputs        map[string]*NodeOutput
}

// StepContext builds the map interpolation expressions resolve against:
// steps.<nodeId> -> that node's first main item, trigger -> the
// triggering payload.
func (rc *RunContext) StepContext() map[string]interface{} {
	steps := make(map[string]interface{}, len(rc.outputs))
	for nodeID, out := range rc.outputs {
		if out != nil && len(out.Main) > 0 {
			steps[nodeID] = out.Main[0].JSON
		} else {
			steps[nodeID] = map[string]interface{}{}
		}
	}
	return map[string]interface{}{
		"steps":   steps,
		"trigger": rc.TriggerData,
	}
}

// ItemContext merges the current item under "json" with the shared step
// context, matching the dot-path syntax node actions interpolate against
// (e.g. {{json.name}}, {{steps.http-1.body}}, {{trigger.userId}}).
func (rc *RunContext) ItemContext(item Item) map[string]interface{} {
	ctx := rc.StepContext()
	if item.JSON != nil {
		ctx["json"] = item.JSON
	} else {
		ctx["json"] = map[string]interface{}{}
	}
	return ctx
}

// NodeHandler executes one node type against its routed input,
// producing a Standardized Node Output.
type NodeHandler interface {
	Execute(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error)
}

// HandlerFunc adapts a plain function to a NodeHandler.
type HandlerFunc func(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error)

func (f HandlerFunc) Execute(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error) {
	return f(ctx, node, input, rc)
}

// HandlerRegistry maps a node's declared type to the handler that runs it.
type HandlerRegistry struct {
	handlers map[string]NodeHandler
}

// NewHandlerRegistry registers the node types that don't need a
// collaborator (manual trigger, if, switch). Action-backed handlers
// (action:http, action:transform) and the loop handler are registered
// separately by NewEngine once it has constructed their dependencies.
func NewHandlerRegistry() *HandlerRegistry {
	r := &HandlerRegistry{handlers: make(map[string]NodeHandler)}
	r.Register("trigger:manual", HandlerFunc(executeManualTrigger))
	r.Register("control:if", HandlerFunc(executeIfNode))
	r.Register("control:switch", HandlerFunc(executeSwitchNode))
	return r
}

// Register adds or replaces the handler for a node type.
func (r *HandlerRegistry) Register(nodeType string, handler NodeHandler) {
	r.handlers[nodeType] = handler
}

// Lookup returns the handler for a node type.
func (r *HandlerRegistry) Lookup(nodeType string) (NodeHandler, bool) {
	h, ok := r.handlers[nodeType]
	return h, ok
}

func executeManualTrigger(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error) {
	items := input.Flatten(workflow.MainPort)
	if len(items) == 0 {
		items = []Item{{JSON: rc.TriggerData}}
	}
	return NewNodeOutput(node.Type, items, nil), nil
}

var _ = fmt.Sprintf
