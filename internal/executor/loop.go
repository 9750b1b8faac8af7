package executor

import (
	"encoding/json"
)

// LoopConfig is control:loop's parameters: items arrive through the
// node's normal "main" input, one captured at the loop's first
// invocation, and are walked one at a time (or in batches).
type LoopConfig struct {
	BatchSize int `json:"batchSize,omitempty"`
}

// loopCursor tracks a single loop node's progress across repeated
// invocations within one execution.
type loopCursor struct {
	items      []Item
	batchSize  int
	position   int
	iterations int
}

func newLoopCursor(items []Item, cfg LoopConfig) *loopCursor {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &loopCursor{items: items, batchSize: batch}
}

// next produces the branches for one invocation of the loop node: a
// "loop" batch while items remain, or a "done" sentinel once exhausted.
// Both empty only if the node is invoked again after done already fired,
// which the engine does not do, so that case surfaces as ErrLoopStuck
// if it somehow does.
func (c *loopCursor) next() Branches {
	if c.position < len(c.items) {
		end := c.position + c.batchSize
		if end > len(c.items) {
			end = len(c.items)
		}
		batch := c.items[c.position:end]
		c.position = end
		c.iterations++
		return Branches{"loop": batch, "done": nil}
	}
	return Branches{"loop": nil, "done": []Item{{JSON: map[string]interface{}{
		"iterations": c.iterations,
	}}}}
}

func parseLoopConfig(raw json.RawMessage) LoopConfig {
	var cfg LoopConfig
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &cfg)
	}
	return cfg
}
