package runtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowline-ai/flowline/internal/pkg/config"
)

// Context is the shared output store for one workflow execution. Completed
// nodes publish their outputs here; downstream templates and conditions read
// them under the node's id. Writes are concurrent, one writer per node.
type Context struct {
	Trigger map[string]interface{}
	Vars    map[string]interface{}

	mu      sync.RWMutex
	outputs map[string]nodeOutput
	order   []string
}

type nodeOutput struct {
	value   map[string]interface{}
	written time.Time
}

func NewContext(trigger, vars map[string]interface{}) *Context {
	if trigger == nil {
		trigger = map[string]interface{}{}
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return &Context{
		Trigger: trigger,
		Vars:    vars,
		outputs: make(map[string]nodeOutput),
	}
}

// SetOutput records a node's outputs. Only the first successful attempt per
// node writes, so a second call for the same node replaces without
// re-appending to the eviction order.
func (c *Context) SetOutput(nodeID string, outputs map[string]interface{}) {
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[nodeID]; !exists {
		c.order = append(c.order, nodeID)
	}
	c.outputs[nodeID] = nodeOutput{value: outputs, written: time.Now()}
}

// Output returns one node's outputs, or nil when the node has not completed.
func (c *Context) Output(nodeID string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if out, ok := c.outputs[nodeID]; ok {
		return out.value
	}
	return nil
}

// Outputs returns the full node output map for template and condition
// environments. The returned map is a shallow copy; node output values are
// shared and must be treated as read-only.
func (c *Context) Outputs() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.outputs))
	for id, o := range c.outputs {
		out[id] = o.value
	}
	return out
}

// Snapshot serializes the context per the snapshot policy for persistence at
// terminal states. Returns the snapshot document and its serialized size.
func (c *Context) Snapshot(cfg *config.SnapshotConfig) (map[string]interface{}, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc := c.buildSnapshot(cfg, nil)
	size, err := snapshotSize(doc)
	if err != nil {
		return nil, 0, err
	}
	if cfg.MaxContextSizeBytes <= 0 || size <= cfg.MaxContextSizeBytes {
		return doc, size, nil
	}

	switch cfg.OverflowBehavior {
	case config.OverflowFail:
		return nil, size, fmt.Errorf("context snapshot is %d bytes, limit is %d", size, cfg.MaxContextSizeBytes)

	case config.OverflowAutoPruneOldest:
		// Drop node outputs oldest-first until the snapshot fits.
		excluded := make(map[string]bool)
		for _, nodeID := range c.order {
			excluded[nodeID] = true
			doc = c.buildSnapshot(cfg, excluded)
			size, err = snapshotSize(doc)
			if err != nil {
				return nil, 0, err
			}
			if size <= cfg.MaxContextSizeBytes {
				doc["pruned"] = prunedList(c.order, excluded)
				return doc, size, nil
			}
		}
		doc["pruned"] = prunedList(c.order, excluded)
		return doc, size, nil

	default: // config.OverflowDropOversize
		// Keep the shape, drop the individually largest outputs first.
		excluded := make(map[string]bool)
		for _, nodeID := range bySizeDescending(c.outputs) {
			excluded[nodeID] = true
			doc = c.buildSnapshot(cfg, excluded)
			size, err = snapshotSize(doc)
			if err != nil {
				return nil, 0, err
			}
			if size <= cfg.MaxContextSizeBytes {
				doc["pruned"] = prunedList(c.order, excluded)
				return doc, size, nil
			}
		}
		doc["pruned"] = prunedList(c.order, excluded)
		return doc, size, nil
	}
}

func (c *Context) buildSnapshot(cfg *config.SnapshotConfig, excluded map[string]bool) map[string]interface{} {
	nodes := make(map[string]interface{}, len(c.outputs))
	for nodeID, out := range c.outputs {
		if excluded[nodeID] {
			continue
		}
		switch cfg.Mode {
		case config.SnapshotModeKeysOnly:
			kept := make(map[string]interface{})
			for _, k := range cfg.KeysToInclude {
				if v, ok := out.value[k]; ok {
					kept[k] = v
				}
			}
			nodes[nodeID] = kept

		case config.SnapshotModeSummaryOnly:
			nodes[nodeID] = summarize(out.value)

		default: // config.SnapshotModeFull
			nodes[nodeID] = out.value
		}
	}
	return map[string]interface{}{
		"trigger": c.Trigger,
		"vars":    c.Vars,
		"outputs": nodes,
	}
}

// summarize replaces a node's output with shape metadata only.
func summarize(outputs map[string]interface{}) map[string]interface{} {
	size := 0
	if data, err := json.Marshal(outputs); err == nil {
		size = len(data)
	}
	return map[string]interface{}{
		"type":      "object",
		"size":      size,
		"truncated": true,
	}
}

func snapshotSize(doc map[string]interface{}) (int, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("context snapshot is not serializable: %w", err)
	}
	return len(data), nil
}

func prunedList(order []string, excluded map[string]bool) []string {
	pruned := make([]string, 0, len(excluded))
	for _, id := range order {
		if excluded[id] {
			pruned = append(pruned, id)
		}
	}
	return pruned
}

func bySizeDescending(outputs map[string]nodeOutput) []string {
	type sized struct {
		id   string
		size int
	}
	all := make([]sized, 0, len(outputs))
	for id, out := range outputs {
		data, err := json.Marshal(out.value)
		size := 0
		if err == nil {
			size = len(data)
		}
		all = append(all, sized{id: id, size: size})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].size != all[j].size {
			return all[i].size > all[j].size
		}
		return all[i].id < all[j].id
	})
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids
}
