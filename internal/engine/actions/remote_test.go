package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

func testInvocation() *Invocation {
	return &Invocation{
		ExecutionID:   uuid.New(),
		WorkflowID:    "wf",
		NodeID:        "n1",
		CorrelationID: "corr-1",
		Principal: &models.Principal{
			UserID:      "u-1",
			DisplayName: "Pat Example",
			Email:       "pat@example.com",
		},
		Parameters: map[string]interface{}{"channel": "#ops"},
	}
}

func TestRemoteInvokeSuccess(t *testing.T) {
	var gotPath string
	var gotHeaders http.Header
	var gotBody remoteRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(Result{
			Status:  StatusSucceeded,
			Outputs: map[string]interface{}{"messageId": "M1"},
			ResourceLinks: []ResourceLink{
				{System: "slack", Type: "message", ID: "M1"},
			},
		})
	}))
	defer server.Close()

	invoker := NewRemoteInvoker(server.Client(), 100, 10)
	desc := &RemoteDescriptor{ConnectorID: "slack", EndpointURL: server.URL}

	result, err := invoker.Invoke(context.Background(), desc, "slack.post_message", testInvocation())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "M1", result.Outputs["messageId"])
	require.Len(t, result.ResourceLinks, 1)
	assert.Equal(t, "slack", result.ResourceLinks[0].System)

	assert.Equal(t, "/api/v1/actions/execute", gotPath)
	assert.Equal(t, "corr-1", gotHeaders.Get(HeaderCorrelationID))
	assert.Equal(t, "u-1", gotHeaders.Get(HeaderActingUserID))
	assert.Equal(t, "pat@example.com", gotHeaders.Get(HeaderActingUserEmail))
	assert.Equal(t, "Pat Example", gotHeaders.Get(HeaderActingUserName))

	assert.Equal(t, "slack.post_message", gotBody.ActionType)
	assert.Equal(t, "n1", gotBody.ExecutionContext.NodeID)
	assert.Equal(t, "corr-1", gotBody.ExecutionContext.CorrelationID)
}

func TestRemoteInvokeFailureBodyReturnedAsIs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{
			Status:       StatusFailed,
			ErrorMessage: "channel not found",
		})
	}))
	defer server.Close()

	invoker := NewRemoteInvoker(server.Client(), 100, 10)
	desc := &RemoteDescriptor{ConnectorID: "slack", EndpointURL: server.URL}

	result, err := invoker.Invoke(context.Background(), desc, "slack.post_message", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "channel not found", result.ErrorMessage)
}

func TestRemoteInvokeNon2xxIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	invoker := NewRemoteInvoker(server.Client(), 100, 10)
	desc := &RemoteDescriptor{ConnectorID: "slack", EndpointURL: server.URL}

	result, err := invoker.Invoke(context.Background(), desc, "slack.post_message", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, StatusRetriableFailure, result.Status)
	assert.Contains(t, result.ErrorMessage, "502")
}

func TestRemoteInvokeTransportFailureIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	invoker := NewRemoteInvoker(http.DefaultClient, 100, 10)
	desc := &RemoteDescriptor{ConnectorID: "slack", EndpointURL: server.URL}

	result, err := invoker.Invoke(context.Background(), desc, "slack.post_message", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, StatusRetriableFailure, result.Status)
	assert.Contains(t, result.ErrorMessage, "transport failure")
}

func TestRemoteInvokeMalformedBodyIsRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	invoker := NewRemoteInvoker(server.Client(), 100, 10)
	desc := &RemoteDescriptor{ConnectorID: "slack", EndpointURL: server.URL}

	result, err := invoker.Invoke(context.Background(), desc, "slack.post_message", testInvocation())
	require.NoError(t, err)
	assert.Equal(t, StatusRetriableFailure, result.Status)
}
