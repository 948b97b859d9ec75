package planner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/template"
)

func newTestPlanner() *Planner {
	return &Planner{
		Templates:  template.NewExprEvaluator(200 * time.Millisecond),
		Conditions: condition.NewGojaEvaluator(200 * time.Millisecond),
		Defaults: Defaults{
			Retry:       definition.RetryPolicy{MaxAttempts: 3, BaseDelayMs: 1000, BackoffFactor: 2, Jitter: true},
			NodeTimeout: 30 * time.Second,
		},
	}
}

func mustParse(t *testing.T, doc string) *definition.Definition {
	t.Helper()
	def, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	return def
}

const diamondDoc = `{
	"id": "diamond",
	"displayName": "Diamond",
	"startNode": "a",
	"nodes": [
		{"id": "a", "actionType": "core.noop", "edges": [
			{"targetNode": "b"},
			{"targetNode": "c", "condition": "trigger.go === true"}
		]},
		{"id": "b", "actionType": "core.noop", "edges": [{"targetNode": "d"}]},
		{"id": "c", "actionType": "core.noop", "edges": [{"targetNode": "d"}]},
		{"id": "d", "actionType": "core.noop"}
	]
}`

func TestCompileDiamond(t *testing.T) {
	plan, err := newTestPlanner().Compile(mustParse(t, diamondDoc), 1)
	require.NoError(t, err)

	assert.Equal(t, "diamond", plan.WorkflowID)
	assert.Equal(t, 1, plan.Version)
	assert.Equal(t, "a", plan.Start)

	assert.Equal(t, 1, plan.ExpectedIncoming["b"])
	assert.Equal(t, 1, plan.ExpectedIncoming["c"])
	assert.Equal(t, 2, plan.ExpectedIncoming["d"], "join counts both parents")
	assert.Equal(t, 0, plan.ExpectedIncoming["a"])

	assert.ElementsMatch(t, []string{"b", "c"}, plan.Parents["d"])

	edges := plan.Adjacency["a"]
	require.Len(t, edges, 2)
	assert.Nil(t, edges[0].Condition, "unconditional edge has no compiled condition")
	assert.NotNil(t, edges[1].Condition)
	assert.Equal(t, "trigger.go === true", edges[1].ConditionSrc)
}

func TestCompileSynthesizesOnFailureEdge(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop", "onFailure": "cleanup",
			 "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "core.noop"},
			{"id": "cleanup", "actionType": "core.noop"}
		]
	}`
	plan, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	require.NoError(t, err)

	edges := plan.Adjacency["a"]
	require.Len(t, edges, 2)
	assert.Equal(t, "cleanup", edges[1].Target)
	assert.Equal(t, definition.WhenFailure, edges[1].When)
	assert.True(t, edges[1].Synthesized)

	assert.Equal(t, 1, plan.ExpectedIncoming["cleanup"])
}

func TestCompileExplicitFailureEdgeSuppressesSynthesis(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop", "onFailure": "cleanup",
			 "edges": [{"targetNode": "cleanup", "when": "failure", "condition": "trigger.retryable === false"}]},
			{"id": "cleanup", "actionType": "core.noop"}
		]
	}`
	plan, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	require.NoError(t, err)

	edges := plan.Adjacency["a"]
	require.Len(t, edges, 1, "no synthesized edge added")
	assert.False(t, edges[0].Synthesized)
	assert.NotNil(t, edges[0].Condition)
}

func TestCompileUnreachableSourceExcludedFromJoin(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop", "edges": [{"targetNode": "join"}]},
			{"id": "orphan", "actionType": "core.noop", "edges": [{"targetNode": "join"}]},
			{"id": "join", "actionType": "core.noop"}
		]
	}`
	plan, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.ExpectedIncoming["join"],
		"orphan cannot run, so its edge must not count against the join")
}

func TestCompileRejectsBadCondition(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop",
			 "edges": [{"targetNode": "b", "condition": "trigger.x ==="}]},
			{"id": "b", "actionType": "core.noop"}
		]
	}`
	_, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	assert.Error(t, err)
}

func TestCompileRejectsBadTemplate(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo",
			 "parameters": {"msg": "{{ trigger.x + }}"}}
		]
	}`
	_, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	assert.Error(t, err)
}

func TestCompileDefaultsApplied(t *testing.T) {
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop"},
			{"id": "b", "actionType": "core.noop",
			 "policies": {"timeoutMs": 5000, "retry": {"maxAttempts": 0, "baseDelayMs": 100}}}
		]
	}`
	// b is unreachable from a; the planner still compiles its descriptor.
	plan, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	require.NoError(t, err)

	a := plan.Nodes["a"]
	assert.Equal(t, 3, a.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, a.Timeout)
	assert.True(t, a.WaitForChild)

	b := plan.Nodes["b"]
	assert.Equal(t, 1, b.Retry.MaxAttempts, "maxAttempts below 1 normalized to 1")
	assert.Equal(t, float64(1), b.Retry.BackoffFactor, "unset backoffFactor clamped to 1")
	assert.Equal(t, 5*time.Second, b.Timeout)
}

func TestCompileRejectsSynthesizedCycle(t *testing.T) {
	// a -> b on success, b -> a via onFailure. Static validation catches this
	// too, but the planner must not trust its callers.
	doc := `{
		"id": "wf", "displayName": "W", "startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.noop", "edges": [{"targetNode": "b"}]},
			{"id": "b", "actionType": "core.noop", "onFailure": "a"}
		]
	}`
	_, err := newTestPlanner().Compile(mustParse(t, doc), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestPlanDocumentRoundTrips(t *testing.T) {
	plan, err := newTestPlanner().Compile(mustParse(t, diamondDoc), 4)
	require.NoError(t, err)

	doc := plan.Document()
	assert.Equal(t, "diamond", doc["workflowId"])
	assert.Equal(t, 4, doc["version"])
	assert.Equal(t, "a", doc["startNode"])
}

func TestCacheHitAndInvalidate(t *testing.T) {
	cache := NewCache(newTestPlanner())
	loads := 0
	load := func() (*definition.Definition, error) {
		loads++
		return definition.Parse([]byte(diamondDoc))
	}

	p1, err := cache.Get("diamond", 1, load)
	require.NoError(t, err)
	p2, err := cache.Get("diamond", 1, load)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, loads)

	cache.Invalidate("diamond")
	_, err = cache.Get("diamond", 1, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestCacheNeverCachesDraft(t *testing.T) {
	cache := NewCache(newTestPlanner())
	loads := 0
	load := func() (*definition.Definition, error) {
		loads++
		return definition.Parse([]byte(diamondDoc))
	}

	_, err := cache.Get("diamond", 0, load)
	require.NoError(t, err)
	_, err = cache.Get("diamond", 0, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "draft version recompiled every time")
}

func TestCacheLoaderErrorPropagates(t *testing.T) {
	cache := NewCache(newTestPlanner())
	wantErr := errors.New("definition not found")
	_, err := cache.Get("missing", 1, func() (*definition.Definition, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestExecutionOrderDiamond(t *testing.T) {
	plan, err := newTestPlanner().Compile(mustParse(t, diamondDoc), 1)
	require.NoError(t, err)

	order := plan.ExecutionOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.Equal(t, "d", order[3], "join runs after both branches")
	assert.ElementsMatch(t, []string{"b", "c"}, order[1:3])
}
