package executor

import "github.com/gorax/gorax/internal/workflow"

// Item is one unit of data flowing along a connection.
type Item struct {
	JSON map[string]interface{} `json:"json"`
}

// Branches carries a node's named output ports other than "main".
type Branches map[string][]Item

// NodeOutputMetadata describes shape information about a NodeOutput,
// carried alongside the data itself so downstream consumers (the event
// bus, the node-execution store) don't have to recompute it.
type NodeOutputMetadata struct {
	NodeType            string `json:"nodeType"`
	OutputCount         int    `json:"outputCount"`
	HasMultipleBranches bool   `json:"hasMultipleBranches"`
}

// NodeOutput is the standardized shape every node handler returns.
// main is the flattened view of a branching node's output, kept for
// consumers that don't care about branch identity; branches carries
// the per-port breakdown used for gating and loop control.
type NodeOutput struct {
	Main     []Item   `json:"main"`
	Branches Branches `json:"branches,omitempty"`
	Metadata NodeOutputMetadata `json:"metadata"`
}

// NewNodeOutput builds a NodeOutput, deriving main from branches when
// the caller only has a branch map (an if/switch/loop node).
func NewNodeOutput(nodeType string, main []Item, branches Branches) *NodeOutput {
	if main == nil && branches != nil {
		for _, port := range sortedBranchPorts(branches) {
			main = append(main, branches[port]...)
		}
	}
	return &NodeOutput{
		Main:     main,
		Branches: branches,
		Metadata: NodeOutputMetadata{
			NodeType:            nodeType,
			OutputCount:         len(main),
			HasMultipleBranches: len(branches) > 1,
		},
	}
}

func sortedBranchPorts(b Branches) []string {
	ports := make([]string, 0, len(b))
	for p := range b {
		ports = append(ports, p)
	}
	// stable, deterministic concatenation order for main
	for i := 1; i < len(ports); i++ {
		for j := i; j > 0 && ports[j-1] > ports[j]; j-- {
			ports[j-1], ports[j] = ports[j], ports[j-1]
		}
	}
	return ports
}

// branchNonEmpty reports whether a source node's output carries data on
// the given output port, per the branch gating rule of §4.4.2: a
// branch-bearing source contributes iff branches[port] is non-empty, a
// plain source contributes iff main is non-empty.
func branchNonEmpty(out *NodeOutput, port string) bool {
	if out == nil {
		return false
	}
	if out.Branches != nil {
		if port == workflow.MainPort {
			if items, ok := out.Branches[port]; ok {
				return len(items) > 0
			}
			return len(out.Main) > 0
		}
		return len(out.Branches[port]) > 0
	}
	if port != workflow.MainPort {
		return false
	}
	return len(out.Main) > 0
}

// itemsForPort returns the items a source contributes on the given port.
func itemsForPort(out *NodeOutput, port string) []Item {
	if out == nil {
		return nil
	}
	if out.Branches != nil {
		if items, ok := out.Branches[port]; ok {
			return items
		}
		if port == workflow.MainPort {
			return out.Main
		}
		return nil
	}
	if port == workflow.MainPort {
		return out.Main
	}
	return nil
}

// NodeInput is the per-node invocation contract of §4.4.1: one item
// sub-list per incoming connection, grouped by target input port.
type NodeInput struct {
	Ports map[string][][]Item
}

// NewNodeInput creates an empty NodeInput.
func NewNodeInput() *NodeInput {
	return &NodeInput{Ports: make(map[string][][]Item)}
}

// Add records one incoming connection's contribution to a port.
func (in *NodeInput) Add(port string, items []Item) {
	in.Ports[port] = append(in.Ports[port], items)
}

// Flatten concatenates every incoming connection's items on a port into
// a single list, for node types that don't care about connection
// identity (most leaf actions).
func (in *NodeInput) Flatten(port string) []Item {
	var out []Item
	for _, lst := range in.Ports[port] {
		out = append(out, lst...)
	}
	return out
}

// HasAnyData reports whether any incoming connection on any port carries
// at least one item.
func (in *NodeInput) HasAnyData() bool {
	for _, lists := range in.Ports {
		for _, lst := range lists {
			if len(lst) > 0 {
				return true
			}
		}
	}
	return false
}
