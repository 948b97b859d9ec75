package planner

import (
	"fmt"
	"sync"

	"github.com/flowline-ai/flowline/internal/engine/definition"
)

// Cache holds compiled plans keyed by workflow id and version. Plans are
// immutable once compiled, so a cached plan is shared across executions.
// Version 0 (the draft) is never cached; drafts change under the caller.
type Cache struct {
	planner *Planner

	mu    sync.RWMutex
	plans map[string]*Plan
}

func NewCache(p *Planner) *Cache {
	return &Cache{
		planner: p,
		plans:   make(map[string]*Plan),
	}
}

func cacheKey(workflowID string, version int) string {
	return fmt.Sprintf("%s@%d", workflowID, version)
}

// Get returns the cached plan, compiling and caching it on a miss. The
// loader resolves the definition document for the requested version.
func (c *Cache) Get(workflowID string, version int, load func() (*definition.Definition, error)) (*Plan, error) {
	if version > 0 {
		c.mu.RLock()
		plan, ok := c.plans[cacheKey(workflowID, version)]
		c.mu.RUnlock()
		if ok {
			return plan, nil
		}
	}

	def, err := load()
	if err != nil {
		return nil, err
	}
	plan, err := c.planner.Compile(def, version)
	if err != nil {
		return nil, err
	}

	if version > 0 {
		c.mu.Lock()
		c.plans[cacheKey(workflowID, version)] = plan
		c.mu.Unlock()
	}
	return plan, nil
}

// Invalidate drops every cached version of a workflow. Publish calls this
// so a re-published checksum cannot serve a stale plan.
func (c *Cache) Invalidate(workflowID string) {
	prefix := workflowID + "@"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.plans {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.plans, key)
		}
	}
}
