package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorax/gorax/internal/executor/actions"
	"github.com/gorax/gorax/internal/tracing"
	"github.com/gorax/gorax/internal/workflow"
)

// actionHandler adapts the single-item actions.Action interface
// (action:http, action:transform) to NodeHandler, running the action
// once per input item and collecting the results back into a flat
// output list, per §4.4.1.
type actionHandler struct {
	factory func() actions.Action
	retry   *RetryStrategy
}

func newActionHandler(factory func() actions.Action, retry *RetryStrategy) *actionHandler {
	return &actionHandler{factory: factory, retry: retry}
}

func (h *actionHandler) Execute(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error) {
	items := input.Flatten(workflow.MainPort)
	if len(items) == 0 {
		items = []Item{{JSON: map[string]interface{}{}}}
	}

	var params interface{}
	if len(node.Parameters) > 0 {
		if err := json.Unmarshal(node.Parameters, &params); err != nil {
			return nil, fmt.Errorf("node %s: invalid parameters: %w", node.ID, err)
		}
	}

	out := make([]Item, 0, len(items))
	for _, item := range items {
		execContext := rc.ItemContext(item)

		action := h.factory()
		in := actions.NewActionInput(params, execContext)

		var result *actions.ActionOutput
		err := h.retry.Execute(ctx, func(ctx context.Context, attempt int) error {
			r, execErr := tracing.TraceNodeExecution(ctx, node.ID, node.Type, func(ctx context.Context) (interface{}, error) {
				o, aErr := action.Execute(ctx, in)
				return o, aErr
			})
			if execErr != nil {
				return execErr
			}
			result = r.(*actions.ActionOutput)
			return nil
		})

		if err != nil {
			if node.Settings.ContinueOnFail {
				out = append(out, Item{JSON: map[string]interface{}{
					"error": err.Error(),
					"json":  item.JSON,
				}})
				continue
			}
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}

		out = append(out, Item{JSON: toJSONMap(result.Data)})
	}

	return NewNodeOutput(node.Type, out, nil), nil
}

// toJSONMap normalizes an action's Data into the map shape an Item's
// json field expects, round-tripping through JSON so scalars and
// slices are wrapped consistently.
func toJSONMap(data interface{}) map[string]interface{} {
	if m, ok := data.(map[string]interface{}); ok {
		return m
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]interface{}{"value": fmt.Sprint(data)}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var v interface{}
	_ = json.Unmarshal(raw, &v)
	return map[string]interface{}{"value": v}
}
