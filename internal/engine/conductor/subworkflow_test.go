package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/definition"
)

func childRequest(wait bool) *ChildRequest {
	return &ChildRequest{
		ParentExecutionID: uuid.New(),
		ParentWorkflowID:  "parent-wf",
		NodeID:            "invoke-child",
		Attempt:           1,
		WorkflowID:        "child-wf",
		Trigger:           map[string]interface{}{"from": "parent"},
		CorrelationID:     "corr-1",
		Depth:             0,
		Wait:              wait,
	}
}

func succeedingRunChild(outputs map[string]interface{}) RunChildFunc {
	return func(ctx context.Context, child *models.WorkflowExecution, depth int, ancestors []string) (string, map[string]interface{}, error) {
		return models.ExecutionStatusSucceeded, outputs, nil
	}
}

func TestChildRequestIDDeterministic(t *testing.T) {
	parent := uuid.New()
	a := ChildRequestID(parent, "n1", 2)
	b := ChildRequestID(parent, "n1", 2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ChildRequestID(parent, "n1", 3), "retry attempts spawn distinct children")
	assert.NotEqual(t, a, ChildRequestID(parent, "n2", 2))
}

func TestCoordinatorDepthLimit(t *testing.T) {
	co := &Coordinator{Gateway: newFakeGateway(), MaxDepth: 2}

	req := childRequest(true)
	req.Depth = 2
	_, err := co.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting depth")
}

func TestCoordinatorRecursionGuard(t *testing.T) {
	co := &Coordinator{Gateway: newFakeGateway(), MaxDepth: 5}

	direct := childRequest(true)
	direct.WorkflowID = direct.ParentWorkflowID
	_, err := co.Run(context.Background(), direct)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive")

	indirect := childRequest(true)
	indirect.Ancestors = []string{"root-wf", "child-wf"}
	_, err = co.Run(context.Background(), indirect)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recursive")

	allowed := &Coordinator{
		Gateway:        newFakeGateway(),
		MaxDepth:       5,
		AllowRecursion: true,
		RunChild:       succeedingRunChild(nil),
	}
	res, err := allowed.Run(context.Background(), direct)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, res.Status)
}

func TestCoordinatorWaitMergesChildOutputs(t *testing.T) {
	gw := newFakeGateway()
	co := &Coordinator{
		Gateway:  gw,
		MaxDepth: 5,
		RunChild: succeedingRunChild(map[string]interface{}{"total": 42}),
	}

	req := childRequest(true)
	res, err := co.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, res.Status)
	assert.Equal(t, 42, res.Outputs["total"])

	require.Len(t, gw.hierarchy, 1)
	assert.Equal(t, req.ParentExecutionID, gw.hierarchy[0].ParentExecutionID)
	assert.Equal(t, "invoke-child", gw.hierarchy[0].ParentNodeID)

	child := gw.execution(res.ExecutionID)
	require.NotNil(t, child)
	assert.Equal(t, "corr-1", child.CorrelationID, "child inherits the correlation id")
	require.NotNil(t, child.ParentExecutionID)
	assert.Equal(t, req.ParentExecutionID, *child.ParentExecutionID)
}

func TestCoordinatorIdempotentOnRetry(t *testing.T) {
	gw := newFakeGateway()
	co := &Coordinator{Gateway: gw, MaxDepth: 5, RunChild: succeedingRunChild(nil)}

	req := childRequest(true)
	first, err := co.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := co.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ExecutionID, second.ExecutionID, "same (parent, node, attempt) reattaches")
	assert.Len(t, gw.hierarchy, 1, "hierarchy recorded once")
}

func TestCoordinatorFireAndForget(t *testing.T) {
	gw := newFakeGateway()
	ran := false
	co := &Coordinator{
		Gateway:  gw,
		MaxDepth: 5,
		RunChild: func(ctx context.Context, child *models.WorkflowExecution, depth int, ancestors []string) (string, map[string]interface{}, error) {
			ran = true
			return models.ExecutionStatusSucceeded, nil, nil
		},
	}

	res, err := co.Run(context.Background(), childRequest(false))
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, res.Status)
	assert.False(t, ran, "fire-and-forget never drives the child inline")
}

func TestSubworkflowNodeSuccess(t *testing.T) {
	doc := `{
		"id": "parent-wf", "displayName": "Parent", "startNode": "invoke",
		"nodes": [
			{"id": "invoke", "nodeType": "subworkflow", "workflowId": "child-wf",
			 "parameters": {"from": "parent"},
			 "edges": [{"targetNode": "after"}]},
			{"id": "after", "actionType": "core.echo",
			 "parameters": {"msg": "{{ context.invoke.outputs.total }}"}}
		]
	}`
	gw := newFakeGateway()
	c := testConductor(gw, testRegistry(t))
	c.SetSubworkflows(&Coordinator{
		Gateway:  gw,
		MaxDepth: 5,
		RunChild: succeedingRunChild(map[string]interface{}{"total": 42}),
	})

	status, exec := runPlan(t, c, gw, compilePlan(t, doc), nil)
	assert.Equal(t, models.ExecutionStatusSucceeded, status)

	invoke := gw.attemptsFor(exec.ID, "invoke")
	require.Len(t, invoke, 1)
	assert.Equal(t, models.ActionStatusSucceeded, invoke[0].Status)
	assert.Equal(t, "subworkflow:child-wf", invoke[0].ActionType)

	after := gw.attemptsFor(exec.ID, "after")
	require.Len(t, after, 1)
	assert.EqualValues(t, 42, after[0].Outputs["echo"], "child outputs readable downstream")
}

func TestSubworkflowNodeChildFailureFailsNode(t *testing.T) {
	doc := `{
		"id": "parent-wf", "displayName": "Parent", "startNode": "invoke",
		"nodes": [
			{"id": "invoke", "nodeType": "subworkflow", "workflowId": "child-wf"}
		]
	}`
	gw := newFakeGateway()
	c := testConductor(gw, testRegistry(t))
	c.SetSubworkflows(&Coordinator{
		Gateway:  gw,
		MaxDepth: 5,
		RunChild: func(ctx context.Context, child *models.WorkflowExecution, depth int, ancestors []string) (string, map[string]interface{}, error) {
			return models.ExecutionStatusFailed, nil, nil
		},
	})

	status, exec := runPlan(t, c, gw, compilePlan(t, doc), nil)
	assert.Equal(t, models.ExecutionStatusFailed, status)

	rows := gw.attemptsFor(exec.ID, "invoke")
	require.Len(t, rows, 1)
	assert.Equal(t, models.ActionStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].Error["message"], "finished failed")
}

func TestSubworkflowWithoutCoordinatorFails(t *testing.T) {
	doc := `{
		"id": "parent-wf", "displayName": "Parent", "startNode": "invoke",
		"nodes": [
			{"id": "invoke", "nodeType": "subworkflow", "workflowId": "child-wf"}
		]
	}`
	gw := newFakeGateway()
	c := testConductor(gw, testRegistry(t))

	status, _ := runPlan(t, c, gw, compilePlan(t, doc), nil)
	assert.Equal(t, models.ExecutionStatusFailed, status)
}

func retryPolicy(max, baseMs int, factor float64, jitter bool) definition.RetryPolicy {
	return definition.RetryPolicy{MaxAttempts: max, BaseDelayMs: baseMs, BackoffFactor: factor, Jitter: jitter}
}

func TestBackoffDelayGrowth(t *testing.T) {
	retry := retryPolicy(3, 100, 2, false)
	assert.Equal(t, 100*time.Millisecond, backoffDelay(retry, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(retry, 2))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(retry, 3))

	jittered := retryPolicy(3, 100, 2, true)
	d := backoffDelay(jittered, 2)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.Less(t, d, 200*time.Millisecond)
}
