package planner

import (
	"fmt"
	"time"

	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/engine/validation"
)

// Defaults fill in per-node policies the definition leaves unset.
type Defaults struct {
	Retry       definition.RetryPolicy
	NodeTimeout time.Duration
}

// Planner compiles validated definitions into executable plans.
type Planner struct {
	Templates  template.Evaluator
	Conditions condition.Evaluator
	Defaults   Defaults
}

// Compile turns a definition into a Plan. The definition must already have
// passed static validation; Compile re-checks acyclicity because it adds
// synthesized onFailure edges.
func (p *Planner) Compile(def *definition.Definition, version int) (*Plan, error) {
	plan := &Plan{
		WorkflowID:       def.ID,
		Version:          version,
		Start:            def.StartNode,
		Nodes:            make(map[string]*NodeDescriptor, len(def.Nodes)),
		Adjacency:        make(map[string][]*EdgeDescriptor, len(def.Nodes)),
		ExpectedIncoming: make(map[string]int, len(def.Nodes)),
		Parents:          make(map[string][]string, len(def.Nodes)),
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]

		if err := p.Templates.Compile(node.Parameters); err != nil {
			return nil, fmt.Errorf("node %s: template compile failed: %w", node.ID, err)
		}

		desc := &NodeDescriptor{
			ID:              node.ID,
			Kind:            node.NodeType,
			ActionType:      node.ActionType,
			WorkflowID:      node.WorkflowID,
			WorkflowVersion: node.WorkflowVersion,
			WaitForChild:    node.Waits(),
			Parameters:      node.Parameters,
			OnFailure:       node.OnFailure,
			RoutePolicy:     node.RoutePolicy,
			Retry:           p.resolveRetry(node),
			Timeout:         p.resolveTimeout(node),
			RerenderOnRetry: node.Policies.RerenderOnRetry,
		}
		plan.Nodes[node.ID] = desc

		edges := make([]*EdgeDescriptor, 0, len(node.Edges)+1)
		hasExplicitFailureEdge := false

		for j, edge := range node.Edges {
			compiled := condition.Compiled(nil)
			if edge.Condition != "" {
				var err error
				compiled, err = p.Conditions.Compile(edge.Condition)
				if err != nil {
					return nil, fmt.Errorf("node %s edge %d: %w", node.ID, j, err)
				}
			}
			if edge.When == definition.WhenFailure {
				hasExplicitFailureEdge = true
			}
			edges = append(edges, &EdgeDescriptor{
				Target:       edge.TargetNode,
				When:         edge.When,
				Condition:    compiled,
				ConditionSrc: edge.Condition,
			})
		}

		// onFailure is shorthand for a failure edge; an explicit one wins.
		if node.OnFailure != "" && !hasExplicitFailureEdge {
			edges = append(edges, &EdgeDescriptor{
				Target:      node.OnFailure,
				When:        definition.WhenFailure,
				Synthesized: true,
			})
		}

		plan.Adjacency[node.ID] = edges
	}

	adjacency := make(map[string][]string, len(plan.Adjacency))
	for source, edges := range plan.Adjacency {
		targets := make([]string, len(edges))
		for i, e := range edges {
			targets[i] = e.Target
		}
		adjacency[source] = targets
	}

	if err := checkAcyclic(plan, adjacency); err != nil {
		return nil, err
	}

	// Join counters consider only edges whose source can actually run.
	reachable := validation.Reachable(plan.Start, adjacency)
	for source, edges := range plan.Adjacency {
		if !reachable[source] {
			continue
		}
		for _, e := range edges {
			plan.ExpectedIncoming[e.Target]++
			plan.Parents[e.Target] = append(plan.Parents[e.Target], source)
		}
	}

	return plan, nil
}

func (p *Planner) resolveRetry(node *definition.Node) definition.RetryPolicy {
	retry := p.Defaults.Retry
	if node.Policies.Retry != nil {
		retry = *node.Policies.Retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = 1
	}
	return retry
}

func (p *Planner) resolveTimeout(node *definition.Node) time.Duration {
	if t := node.Timeout(); t > 0 {
		return t
	}
	return p.Defaults.NodeTimeout
}

func checkAcyclic(plan *Plan, adjacency map[string][]string) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(plan.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		state[id] = inStack
		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				return fmt.Errorf("plan has a cycle through node %q (including synthesized onFailure edges)", next)
			case unvisited:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for id := range plan.Nodes {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
