package conductor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// fakeGateway is an in-memory Gateway with the same conflict semantics as the
// repository implementation.
type fakeGateway struct {
	mu           sync.Mutex
	executions   map[uuid.UUID]*models.WorkflowExecution
	requestOwner map[string]string    // requestId -> workflowId
	byRequest    map[string]uuid.UUID // workflowId|requestId -> executionId
	attempts     []*models.ActionExecution
	links        map[string]uuid.UUID // system|type|id -> owning executionId
	hierarchy    []*models.WorkflowExecutionHierarchy
	events       []*models.ExecutionEvent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		executions:   make(map[uuid.UUID]*models.WorkflowExecution),
		requestOwner: make(map[string]string),
		byRequest:    make(map[string]uuid.UUID),
		links:        make(map[string]uuid.UUID),
	}
}

// newExecution seeds a pending row the way the API layer would.
func (g *fakeGateway) newExecution(workflowID string) *models.WorkflowExecution {
	g.mu.Lock()
	defer g.mu.Unlock()
	exec := &models.WorkflowExecution{
		ID:                uuid.New(),
		WorkflowID:        workflowID,
		WorkflowVersion:   1,
		WorkflowRequestID: uuid.NewString(),
		Status:            models.ExecutionStatusPending,
		CreatedAt:         time.Now(),
	}
	g.executions[exec.ID] = exec
	g.requestOwner[exec.WorkflowRequestID] = workflowID
	g.byRequest[workflowID+"|"+exec.WorkflowRequestID] = exec.ID
	return exec
}

func (g *fakeGateway) StartExecution(ctx context.Context, params *StartParams) (*models.WorkflowExecution, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if owner, ok := g.requestOwner[params.RequestID]; ok && owner != params.WorkflowID {
		return nil, false, models.NewStoreError(models.CodeRequestIDConflictOtherWorkflow,
			fmt.Sprintf("request id %q belongs to workflow %q", params.RequestID, owner))
	}
	if id, ok := g.byRequest[params.WorkflowID+"|"+params.RequestID]; ok {
		return g.executions[id], true, nil
	}

	version := 1
	if params.Version != nil {
		version = *params.Version
	}
	exec := &models.WorkflowExecution{
		ID:                uuid.New(),
		WorkflowID:        params.WorkflowID,
		WorkflowVersion:   version,
		WorkflowRequestID: params.RequestID,
		Status:            models.ExecutionStatusPending,
		TriggerPayload:    params.Trigger,
		ParentExecutionID: params.ParentExecutionID,
		TenantID:          params.TenantID,
		CorrelationID:     params.CorrelationID,
		CreatedAt:         time.Now(),
	}
	g.executions[exec.ID] = exec
	g.requestOwner[params.RequestID] = params.WorkflowID
	g.byRequest[params.WorkflowID+"|"+params.RequestID] = exec.ID
	return exec, false, nil
}

func (g *fakeGateway) GetExecution(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exec, ok := g.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s not found", executionID)
	}
	return exec, nil
}

func (g *fakeGateway) TryAcquireExecution(ctx context.Context, executionID uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	exec, ok := g.executions[executionID]
	if !ok {
		return false, fmt.Errorf("execution %s not found", executionID)
	}
	if exec.Status != models.ExecutionStatusPending {
		return false, nil
	}
	now := time.Now()
	exec.Status = models.ExecutionStatusRunning
	exec.StartedAt = &now
	return true, nil
}

func (g *fakeGateway) CompleteExecution(ctx context.Context, executionID uuid.UUID, status string, snapshot models.JSON, errorMessage *string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	exec, ok := g.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	if exec.Status != models.ExecutionStatusRunning || !models.IsTerminalExecutionStatus(status) {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("cannot move %s from %s to %s", executionID, exec.Status, status))
	}
	now := time.Now()
	exec.Status = status
	exec.ContextSnapshot = snapshot
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &now
	return nil
}

func (g *fakeGateway) RecordAttempt(ctx context.Context, attempt *models.ActionExecution) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.attempts {
		if existing.ExecutionID == attempt.ExecutionID &&
			existing.NodeID == attempt.NodeID &&
			existing.Attempt == attempt.Attempt {
			g.attempts[i] = attempt
			return nil
		}
	}
	g.attempts = append(g.attempts, attempt)
	return nil
}

func (g *fakeGateway) LinkExternalResource(ctx context.Context, executionID uuid.UUID, actionExecutionID *uuid.UUID, system, resourceType, resourceID string, url *string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := system + "|" + resourceType + "|" + resourceID
	if owner, ok := g.links[key]; ok {
		if owner == executionID {
			return LinkExistsSameExecution, nil
		}
		return "", models.NewStoreError(models.CodeResourceLinkConflictOtherExecution,
			fmt.Sprintf("resource %s is owned by execution %s", key, owner))
	}
	g.links[key] = executionID
	return LinkCreated, nil
}

func (g *fakeGateway) RecordHierarchy(ctx context.Context, parentExecutionID, childExecutionID uuid.UUID, parentNodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hierarchy = append(g.hierarchy, &models.WorkflowExecutionHierarchy{
		ParentExecutionID: parentExecutionID,
		ChildExecutionID:  childExecutionID,
		ParentNodeID:      parentNodeID,
		CreatedAt:         time.Now(),
	})
	return nil
}

func (g *fakeGateway) RecordEvent(ctx context.Context, event *models.ExecutionEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, event)
	return nil
}

// attemptsFor returns the attempt rows of one node ordered by attempt.
func (g *fakeGateway) attemptsFor(executionID uuid.UUID, nodeID string) []*models.ActionExecution {
	g.mu.Lock()
	defer g.mu.Unlock()
	var rows []*models.ActionExecution
	for _, a := range g.attempts {
		if a.ExecutionID == executionID && a.NodeID == nodeID {
			rows = append(rows, a)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Attempt < rows[j].Attempt })
	return rows
}

func (g *fakeGateway) execution(executionID uuid.UUID) *models.WorkflowExecution {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executions[executionID]
}
