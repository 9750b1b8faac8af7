package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorax/gorax/internal/executor/actions"
	"github.com/gorax/gorax/internal/workflow"
)

// ConditionConfig is control:if's parameters: a single structured
// comparison against a dot-path into the current item, evaluated per
// item rather than through a general expression language.
type ConditionConfig struct {
	Path     string      `json:"path"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// SwitchCase maps one matched value to an output branch name.
type SwitchCase struct {
	Value  interface{} `json:"value"`
	Output string      `json:"output"`
}

// SwitchConfig is control:switch's parameters.
type SwitchConfig struct {
	Path    string       `json:"path"`
	Cases   []SwitchCase `json:"cases"`
	Default string       `json:"default,omitempty"`
}

func evaluateCondition(cfg ConditionConfig, item Item) (bool, error) {
	actual, err := actions.GetValueByPath(item.JSON, cfg.Path)
	if err != nil {
		actual = nil
	}
	switch cfg.Operator {
	case "exists":
		return actual != nil, nil
	case "not-exists":
		return actual == nil, nil
	case "eq":
		return fmt.Sprint(actual) == fmt.Sprint(cfg.Value), nil
	case "ne":
		return fmt.Sprint(actual) != fmt.Sprint(cfg.Value), nil
	case "contains":
		s, ok := actual.(string)
		sub, ok2 := cfg.Value.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return containsString(s, sub), nil
	case "gt", "gte", "lt", "lte":
		af, aok := toFloat(actual)
		bf, bok := toFloat(cfg.Value)
		if !aok || !bok {
			return false, nil
		}
		switch cfg.Operator {
		case "gt":
			return af > bf, nil
		case "gte":
			return af >= bf, nil
		case "lt":
			return af < bf, nil
		default:
			return af <= bf, nil
		}
	default:
		return false, fmt.Errorf("unsupported operator: %s", cfg.Operator)
	}
}

func containsString(s, sub string) bool {
	return len(sub) == 0 || (len(s) >= len(sub) && indexOf(s, sub) >= 0)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// executeIfNode partitions input items into "true"/"false" branches per
// item, per §4.4.2's branch gating contract.
func executeIfNode(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error) {
	var cfg ConditionConfig
	if len(node.Parameters) > 0 {
		if err := json.Unmarshal(node.Parameters, &cfg); err != nil {
			return nil, fmt.Errorf("node %s: invalid control:if parameters: %w", node.ID, err)
		}
	}

	branches := Branches{"true": nil, "false": nil}
	for _, item := range input.Flatten(workflow.MainPort) {
		ok, err := evaluateCondition(cfg, item)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
		if ok {
			branches["true"] = append(branches["true"], item)
		} else {
			branches["false"] = append(branches["false"], item)
		}
	}
	return NewNodeOutput(node.Type, nil, branches), nil
}

// executeSwitchNode routes each item to the first matching case's
// output branch, or to the default branch if none match.
func executeSwitchNode(ctx context.Context, node *workflow.Node, input *NodeInput, rc *RunContext) (*NodeOutput, error) {
	var cfg SwitchConfig
	if len(node.Parameters) > 0 {
		if err := json.Unmarshal(node.Parameters, &cfg); err != nil {
			return nil, fmt.Errorf("node %s: invalid control:switch parameters: %w", node.ID, err)
		}
	}

	branches := Branches{}
	for _, c := range cfg.Cases {
		if _, ok := branches[c.Output]; !ok {
			branches[c.Output] = nil
		}
	}
	if cfg.Default != "" {
		if _, ok := branches[cfg.Default]; !ok {
			branches[cfg.Default] = nil
		}
	}

	for _, item := range input.Flatten(workflow.MainPort) {
		actual, _ := actions.GetValueByPath(item.JSON, cfg.Path)
		matched := ""
		for _, c := range cfg.Cases {
			if fmt.Sprint(actual) == fmt.Sprint(c.Value) {
				matched = c.Output
				break
			}
		}
		if matched == "" {
			matched = cfg.Default
		}
		if matched == "" {
			continue
		}
		branches[matched] = append(branches[matched], item)
	}
	return NewNodeOutput(node.Type, nil, branches), nil
}
