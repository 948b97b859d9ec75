package conductor

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// Outcomes of LinkExternalResource.
const (
	LinkCreated             = "created"
	LinkExistsSameExecution = "exists_same_execution"
)

// StartParams carries everything needed to create (or find) an execution row.
type StartParams struct {
	WorkflowID        string
	Version           *int // nil pins the workflow's current version
	RequestID         string
	Trigger           models.JSON
	ParentExecutionID *uuid.UUID
	Principal         *models.Principal
	TenantID          *string
	CorrelationID     string
}

// Gateway is the persistence contract the conductor runs against. The
// production implementation lives in the repositories package; tests use an
// in-memory fake.
type Gateway interface {
	// StartExecution creates the execution row, or returns the existing one
	// when (workflowId, requestId) was seen before. Fails with WFENG001 when
	// the requestId belongs to a different workflow.
	StartExecution(ctx context.Context, params *StartParams) (execution *models.WorkflowExecution, wasExisting bool, err error)

	// GetExecution loads one execution row.
	GetExecution(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error)

	// TryAcquireExecution is the Pending to Running compare-and-set. Exactly
	// one caller across replicas observes true.
	TryAcquireExecution(ctx context.Context, executionID uuid.UUID) (bool, error)

	// CompleteExecution moves Running to a terminal status. Illegal
	// transitions fail with WFENG002.
	CompleteExecution(ctx context.Context, executionID uuid.UUID, status string, snapshot models.JSON, errorMessage *string) error

	// RecordAttempt persists one node attempt row. Re-persisting the same
	// (executionId, nodeId, attempt) is tolerated for crash re-entry.
	RecordAttempt(ctx context.Context, attempt *models.ActionExecution) error

	// LinkExternalResource claims a (system, type, resourceId) tuple for this
	// execution. Fails with WFENG003 when another execution owns it.
	LinkExternalResource(ctx context.Context, executionID uuid.UUID, actionExecutionID *uuid.UUID, system, resourceType, resourceID string, url *string) (string, error)

	// RecordHierarchy links a child execution to its parent node.
	RecordHierarchy(ctx context.Context, parentExecutionID, childExecutionID uuid.UUID, parentNodeID string) error

	// RecordEvent appends to the execution's audit trail. Best effort; the
	// conductor logs and continues on failure.
	RecordEvent(ctx context.Context, event *models.ExecutionEvent) error
}
