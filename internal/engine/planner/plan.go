package planner

import (
	"time"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/definition"
)

// Plan is the compiled, immutable runtime form of one definition version.
// It is safe to share across concurrent executions.
type Plan struct {
	WorkflowID string
	Version    int
	Start      string

	Nodes            map[string]*NodeDescriptor
	Adjacency        map[string][]*EdgeDescriptor // declaration order per source
	ExpectedIncoming map[string]int
	Parents          map[string][]string
}

type NodeDescriptor struct {
	ID              string
	Kind            string
	ActionType      string
	WorkflowID      string
	WorkflowVersion *int
	WaitForChild    bool
	Parameters      map[string]interface{}
	OnFailure       string
	RoutePolicy     string
	Retry           definition.RetryPolicy
	Timeout         time.Duration
	RerenderOnRetry bool
}

type EdgeDescriptor struct {
	Target       string
	When         string
	Condition    condition.Compiled // nil when unconditional
	ConditionSrc string
	Synthesized  bool
}

// ExecutionOrder returns a topological order of the reachable nodes, the
// sequence a fully-sequential run would take with every condition true. Backs
// the dry-run preview; the conductor itself schedules on join counters.
func (p *Plan) ExecutionOrder() []string {
	indegree := make(map[string]int, len(p.ExpectedIncoming))
	for id, count := range p.ExpectedIncoming {
		indegree[id] = count
	}

	order := make([]string, 0, len(p.Nodes))
	queue := []string{p.Start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, edge := range p.Adjacency[node] {
			indegree[edge.Target]--
			if indegree[edge.Target] == 0 {
				queue = append(queue, edge.Target)
			}
		}
	}
	return order
}

// Document renders the plan to a JSON-storable form for the plan cache and
// for operators inspecting compiled plans. Compiled condition handles are
// rebuilt from source on load, so only sources are stored.
func (p *Plan) Document() models.JSON {
	nodes := make([]interface{}, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		node := map[string]interface{}{
			"id":          n.ID,
			"kind":        n.Kind,
			"routePolicy": n.RoutePolicy,
		}
		if n.ActionType != "" {
			node["actionType"] = n.ActionType
		}
		if n.WorkflowID != "" {
			node["workflowId"] = n.WorkflowID
		}
		if n.OnFailure != "" {
			node["onFailure"] = n.OnFailure
		}
		nodes = append(nodes, node)
	}

	edges := make(map[string]interface{}, len(p.Adjacency))
	for source, list := range p.Adjacency {
		out := make([]interface{}, len(list))
		for i, e := range list {
			edge := map[string]interface{}{
				"target": e.Target,
				"when":   e.When,
			}
			if e.ConditionSrc != "" {
				edge["condition"] = e.ConditionSrc
			}
			if e.Synthesized {
				edge["synthesized"] = true
			}
			out[i] = edge
		}
		edges[source] = out
	}

	incoming := make(map[string]interface{}, len(p.ExpectedIncoming))
	for id, count := range p.ExpectedIncoming {
		incoming[id] = count
	}

	return models.JSON{
		"workflowId":       p.WorkflowID,
		"version":          p.Version,
		"startNode":        p.Start,
		"nodes":            nodes,
		"edges":            edges,
		"expectedIncoming": incoming,
	}
}
