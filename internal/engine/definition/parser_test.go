package definition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNormalizesDefaults(t *testing.T) {
	raw := []byte(`{
		"id": "order-sync",
		"displayName": "Order Sync",
		"startNode": "n1",
		"nodes": [
			{"id": "n1", "actionType": "core.echo", "edges": [{"targetNode": "n2"}]},
			{"id": "n2", "nodeType": "subworkflow", "workflowId": "child-flow"}
		]
	}`)

	def, err := Parse(raw)
	require.NoError(t, err)

	n1 := def.Nodes[0]
	assert.Equal(t, NodeTypeAction, n1.NodeType)
	assert.Equal(t, RouteParallel, n1.RoutePolicy)
	assert.Equal(t, WhenSuccess, n1.Edges[0].When)
	assert.False(t, n1.Policies.RerenderOnRetry)
	assert.NotNil(t, n1.Parameters)

	n2 := def.Nodes[1]
	assert.True(t, n2.IsSubworkflow())
	assert.True(t, n2.Waits(), "waitForCompletion defaults to true")
	assert.Empty(t, n2.Edges)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		path string
	}{
		{
			name: "bad id slug",
			raw:  `{"id": "Bad_ID", "displayName": "x", "startNode": "n1", "nodes": [{"id": "n1", "actionType": "a"}]}`,
			path: "id",
		},
		{
			name: "missing startNode",
			raw:  `{"id": "wf", "displayName": "x", "nodes": [{"id": "n1", "actionType": "a"}]}`,
			path: "startNode",
		},
		{
			name: "action without actionType",
			raw:  `{"id": "wf", "displayName": "x", "startNode": "n1", "nodes": [{"id": "n1"}]}`,
			path: "nodes[0].actionType",
		},
		{
			name: "subworkflow without workflowId",
			raw:  `{"id": "wf", "displayName": "x", "startNode": "n1", "nodes": [{"id": "n1", "nodeType": "subworkflow"}]}`,
			path: "nodes[0].workflowId",
		},
		{
			name: "bad when",
			raw:  `{"id": "wf", "displayName": "x", "startNode": "n1", "nodes": [{"id": "n1", "actionType": "a", "edges": [{"targetNode": "n1", "when": "maybe"}]}]}`,
			path: "nodes[0].edges[0].when",
		},
		{
			name: "backoff below one",
			raw:  `{"id": "wf", "displayName": "x", "startNode": "n1", "nodes": [{"id": "n1", "actionType": "a", "policies": {"retry": {"maxAttempts": 3, "baseDelayMs": 10, "backoffFactor": 0.5}}}]}`,
			path: "nodes[0].policies.retry.backoffFactor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)

			var errs ParseErrors
			require.ErrorAs(t, err, &errs)

			found := false
			for _, pe := range errs {
				if pe.Path == tt.path {
					found = true
				}
			}
			assert.True(t, found, "expected an error at path %s, got %v", tt.path, errs)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	raw := []byte(`{
		"id": "round-trip",
		"displayName": "Round Trip",
		"startNode": "a",
		"nodes": [
			{"id": "a", "actionType": "core.echo", "parameters": {"msg": "hi"},
			 "onFailure": "b", "routePolicy": "firstMatch",
			 "policies": {"timeoutMs": 1000, "retry": {"maxAttempts": 2, "baseDelayMs": 5, "backoffFactor": 2}},
			 "edges": [{"targetNode": "b", "when": "failure", "condition": "context.a.ok"}]},
			{"id": "b", "actionType": "core.noop"}
		]
	}`)

	def, err := Parse(raw)
	require.NoError(t, err)

	out, err := json.Marshal(def)
	require.NoError(t, err)

	again, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, def, again)
}
