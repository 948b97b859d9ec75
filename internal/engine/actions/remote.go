package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// Correlation and acting-user pass-through headers.
const (
	HeaderCorrelationID   = "X-Correlation-Id"
	HeaderActingUserID    = "X-Acting-User-Id"
	HeaderActingUserEmail = "X-Acting-User-Email"
	HeaderActingUserName  = "X-Acting-User-Name"
)

const executePath = "/api/v1/actions/execute"

// remoteRequest is the wire body sent to connectors.
type remoteRequest struct {
	ActionType       string                 `json:"actionType"`
	Parameters       map[string]interface{} `json:"parameters"`
	ExecutionContext remoteExecutionContext `json:"executionContext"`
}

type remoteExecutionContext struct {
	ExecutionID   string            `json:"executionId"`
	NodeID        string            `json:"nodeId"`
	CorrelationID string            `json:"correlationId"`
	Principal     *models.Principal `json:"principal,omitempty"`
}

// RemoteInvoker posts invocations to connector endpoints. Transport failures
// and non-2xx responses come back as retriable failures so the conductor's
// backoff applies; a well-formed Result body is returned as-is.
type RemoteInvoker struct {
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRemoteInvoker(client *http.Client, requestsPerSecond float64, burst int) *RemoteInvoker {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 50
	}
	if burst <= 0 {
		burst = 10
	}
	return &RemoteInvoker{
		client:   client,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (ri *RemoteInvoker) limiter(connectorID string) *rate.Limiter {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	l, ok := ri.limiters[connectorID]
	if !ok {
		l = rate.NewLimiter(ri.rps, ri.burst)
		ri.limiters[connectorID] = l
	}
	return l
}

func (ri *RemoteInvoker) Invoke(ctx context.Context, desc *RemoteDescriptor, actionType string, inv *Invocation) (*Result, error) {
	if err := ri.limiter(desc.ConnectorID).Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(remoteRequest{
		ActionType: actionType,
		Parameters: inv.Parameters,
		ExecutionContext: remoteExecutionContext{
			ExecutionID:   inv.ExecutionID.String(),
			NodeID:        inv.NodeID,
			CorrelationID: inv.CorrelationID,
			Principal:     inv.Principal,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal remote request: %w", err)
	}

	url := strings.TrimSuffix(desc.EndpointURL, "/") + executePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCorrelationID, inv.CorrelationID)
	if p := inv.Principal; p != nil {
		req.Header.Set(HeaderActingUserID, p.UserID)
		if p.Email != "" {
			req.Header.Set(HeaderActingUserEmail, p.Email)
		}
		if p.DisplayName != "" {
			req.Header.Set(HeaderActingUserName, p.DisplayName)
		}
	}

	resp, err := ri.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return Retriable("connector %s: transport failure: %v", desc.ConnectorID, err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Retriable("connector %s: failed to read response: %v", desc.ConnectorID, err), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Retriable("connector %s: HTTP %d: %s", desc.ConnectorID, resp.StatusCode, truncate(string(respBody), 512)), nil
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Retriable("connector %s: malformed result body: %v", desc.ConnectorID, err), nil
	}
	if !validStatus(result.Status) {
		return Retriable("connector %s: unknown result status %q", desc.ConnectorID, result.Status), nil
	}
	return &result, nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRetriableFailure, StatusSkipped:
		return true
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
