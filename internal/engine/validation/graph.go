package validation

import (
	"fmt"
	"strings"

	"github.com/flowline-ai/flowline/internal/engine/definition"
)

// Issue is a single validation finding with enough context to fix it.
type Issue struct {
	NodeID  string `json:"node_id,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) Error() string {
	if i.NodeID != "" {
		return fmt.Sprintf("[%s] %s: %s", i.NodeID, i.Code, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// Result separates hard errors from warnings. Warnings never block publish.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
}

func (r *Result) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

func (r *Result) ErrorString() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ValidateStatic runs the structural checks that hold for any definition
// regardless of the installed action catalog: start node presence, id
// uniqueness, edge target existence, onFailure target existence, acyclicity
// of the superset graph, and reachability (warning only).
func ValidateStatic(def *definition.Definition) *Result {
	result := &Result{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i, node := range def.Nodes {
		if nodeIDs[node.ID] {
			result.addError(Issue{
				NodeID:  node.ID,
				Path:    fmt.Sprintf("nodes[%d].id", i),
				Code:    "DUPLICATE_NODE_ID",
				Message: fmt.Sprintf("node id %q is declared more than once", node.ID),
			})
			continue
		}
		nodeIDs[node.ID] = true
	}

	if !nodeIDs[def.StartNode] {
		result.addError(Issue{
			Path:    "startNode",
			Code:    "START_NODE_NOT_FOUND",
			Message: fmt.Sprintf("startNode %q is not declared in nodes", def.StartNode),
		})
	}

	for i, node := range def.Nodes {
		for j, edge := range node.Edges {
			if !nodeIDs[edge.TargetNode] {
				result.addError(Issue{
					NodeID:  node.ID,
					Path:    fmt.Sprintf("nodes[%d].edges[%d].targetNode", i, j),
					Code:    "EDGE_TARGET_NOT_FOUND",
					Message: fmt.Sprintf("edge target %q does not exist", edge.TargetNode),
				})
			}
		}
		if node.OnFailure != "" && !nodeIDs[node.OnFailure] {
			result.addError(Issue{
				NodeID:  node.ID,
				Path:    fmt.Sprintf("nodes[%d].onFailure", i),
				Code:    "ON_FAILURE_TARGET_NOT_FOUND",
				Message: fmt.Sprintf("onFailure target %q does not exist", node.OnFailure),
			})
		}
		if node.NodeType == definition.NodeTypeAction && node.ActionType == "" {
			result.addError(Issue{
				NodeID:  node.ID,
				Path:    fmt.Sprintf("nodes[%d].actionType", i),
				Code:    "MISSING_ACTION_TYPE",
				Message: "action node has no actionType",
			})
		}
		if node.NodeType == definition.NodeTypeSubworkflow && node.WorkflowID == "" {
			result.addError(Issue{
				NodeID:  node.ID,
				Path:    fmt.Sprintf("nodes[%d].workflowId", i),
				Code:    "MISSING_WORKFLOW_ID",
				Message: "subworkflow node has no workflowId",
			})
		}
	}

	// Further checks need a well-formed node set.
	if !result.Valid() {
		return result
	}

	adjacency := supersetAdjacency(def)

	if cycleAt := findCycle(def, adjacency); cycleAt != "" {
		result.addError(Issue{
			NodeID:  cycleAt,
			Code:    "CYCLE_DETECTED",
			Message: fmt.Sprintf("workflow contains a cycle through node %q", cycleAt),
		})
		return result
	}

	reachable := Reachable(def.StartNode, adjacency)
	for _, node := range def.Nodes {
		if !reachable[node.ID] {
			result.addWarning(Issue{
				NodeID:  node.ID,
				Code:    "UNREACHABLE_NODE",
				Message: fmt.Sprintf("node %q is not reachable from startNode and will never run", node.ID),
			})
		}
	}

	return result
}

// supersetAdjacency builds the edge map with every edge included and all
// conditions ignored, onFailure targets included.
func supersetAdjacency(def *definition.Definition) map[string][]string {
	adjacency := make(map[string][]string, len(def.Nodes))
	for _, node := range def.Nodes {
		targets := make([]string, 0, len(node.Edges)+1)
		for _, edge := range node.Edges {
			targets = append(targets, edge.TargetNode)
		}
		if node.OnFailure != "" {
			targets = append(targets, node.OnFailure)
		}
		adjacency[node.ID] = targets
	}
	return adjacency
}

// findCycle runs a DFS with a recursion stack; returns a node on the first
// cycle found, or "" when the graph is acyclic.
func findCycle(def *definition.Definition, adjacency map[string][]string) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(def.Nodes))

	var visit func(id string) string
	visit = func(id string) string {
		state[id] = inStack
		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				return next
			case unvisited:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}

	for _, node := range def.Nodes {
		if state[node.ID] == unvisited {
			if hit := visit(node.ID); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Reachable returns the set of nodes reachable from start in the superset
// graph. The planner uses the same set to size join counters.
func Reachable(start string, adjacency map[string][]string) map[string]bool {
	reachable := make(map[string]bool)
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		for _, next := range adjacency[id] {
			if !reachable[next] {
				queue = append(queue, next)
			}
		}
	}
	return reachable
}
