package conductor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/actions"
	"github.com/flowline-ai/flowline/internal/engine/planner"
)

// ChildRequest asks the coordinator to start (and optionally run) a child
// execution for a sub-workflow node.
type ChildRequest struct {
	ParentExecutionID uuid.UUID
	ParentWorkflowID  string
	NodeID            string
	Attempt           int

	WorkflowID string
	Version    *int
	Trigger    map[string]interface{}
	Principal  *models.Principal
	TenantID   *string
	// Inherited from the parent.
	CorrelationID string

	Depth     int
	Ancestors []string
	Wait      bool
}

type ChildResult struct {
	ExecutionID uuid.UUID
	Status      string
	Outputs     map[string]interface{}
}

// Subworkflows starts child executions and, when asked, drives them to a
// terminal state.
type Subworkflows interface {
	Run(ctx context.Context, req *ChildRequest) (*ChildResult, error)
}

// RunChildFunc executes an already-started child to a terminal status and
// returns that status with the child's output map. The engine service wires
// this back into the conductor, closing the recursion.
type RunChildFunc func(ctx context.Context, child *models.WorkflowExecution, depth int, ancestors []string) (string, map[string]interface{}, error)

// Coordinator is the production Subworkflows implementation.
type Coordinator struct {
	Gateway        Gateway
	RunChild       RunChildFunc
	MaxDepth       int
	AllowRecursion bool
}

func (co *Coordinator) Run(ctx context.Context, req *ChildRequest) (*ChildResult, error) {
	if co.MaxDepth > 0 && req.Depth+1 > co.MaxDepth {
		return nil, fmt.Errorf("sub-workflow nesting depth %d exceeds limit %d", req.Depth+1, co.MaxDepth)
	}
	if !co.AllowRecursion {
		if req.WorkflowID == req.ParentWorkflowID {
			return nil, fmt.Errorf("recursive invocation of workflow %q is not allowed", req.WorkflowID)
		}
		for _, ancestor := range req.Ancestors {
			if ancestor == req.WorkflowID {
				return nil, fmt.Errorf("recursive invocation of workflow %q is not allowed", req.WorkflowID)
			}
		}
	}

	parentID := req.ParentExecutionID
	child, wasExisting, err := co.Gateway.StartExecution(ctx, &StartParams{
		WorkflowID:        req.WorkflowID,
		Version:           req.Version,
		RequestID:         ChildRequestID(req.ParentExecutionID, req.NodeID, req.Attempt),
		Trigger:           models.JSON(req.Trigger),
		ParentExecutionID: &parentID,
		Principal:         req.Principal,
		TenantID:          req.TenantID,
		CorrelationID:     req.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	if !wasExisting {
		if err := co.Gateway.RecordHierarchy(ctx, req.ParentExecutionID, child.ID, req.NodeID); err != nil {
			return nil, fmt.Errorf("failed to record execution hierarchy: %w", err)
		}
	}

	if !req.Wait {
		return &ChildResult{ExecutionID: child.ID, Status: child.Status}, nil
	}

	ancestors := append(append([]string{}, req.Ancestors...), req.ParentWorkflowID)
	status, outputs, err := co.RunChild(ctx, child, req.Depth+1, ancestors)
	if err != nil {
		return nil, err
	}
	return &ChildResult{ExecutionID: child.ID, Status: status, Outputs: outputs}, nil
}

// ChildRequestID derives the child's idempotency key so a retried parent
// attempt reattaches to the same child instead of spawning a duplicate.
func ChildRequestID(parentExecutionID uuid.UUID, nodeID string, attempt int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", parentExecutionID, nodeID, attempt)))
	return "sub-" + hex.EncodeToString(sum[:16])
}

// runSubworkflow maps the coordinator outcome onto the node result contract:
// a waited child that did not succeed fails the node; a fire-and-forget node
// succeeds as soon as the child row exists.
func (e *execution) runSubworkflow(desc *planner.NodeDescriptor, attempt int, rendered map[string]interface{}) *actions.Result {
	if e.c.children == nil {
		return actions.Failed("sub-workflow nodes are not supported by this runner")
	}

	result, err := e.c.children.Run(e.ctx, &ChildRequest{
		ParentExecutionID: e.id,
		ParentWorkflowID:  e.plan.WorkflowID,
		NodeID:            desc.ID,
		Attempt:           attempt,
		WorkflowID:        desc.WorkflowID,
		Version:           desc.WorkflowVersion,
		Trigger:           rendered,
		Principal:         e.principal,
		TenantID:          e.tenantID,
		CorrelationID:     e.correlationID,
		Depth:             e.depth,
		Ancestors:         e.ancestors,
		Wait:              desc.WaitForChild,
	})
	if err != nil {
		if e.ctx.Err() != nil {
			return actions.Skipped("workflow cancelled during sub-workflow")
		}
		return actions.Failed("sub-workflow %s: %v", desc.WorkflowID, err)
	}

	if !desc.WaitForChild {
		return actions.Succeeded(map[string]interface{}{
			"executionId": result.ExecutionID.String(),
			"status":      result.Status,
		})
	}

	outputs := map[string]interface{}{
		"executionId": result.ExecutionID.String(),
		"status":      result.Status,
		"outputs":     result.Outputs,
	}
	if result.Status != models.ExecutionStatusSucceeded {
		return &actions.Result{
			Status:       actions.StatusFailed,
			Outputs:      outputs,
			ErrorMessage: fmt.Sprintf("sub-workflow %s finished %s", desc.WorkflowID, result.Status),
		}
	}
	return actions.Succeeded(outputs)
}
