package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/conductor"
)

// Start precondition failures. These are business errors, not store codes;
// the API maps them to 4xx responses.
var (
	ErrWorkflowNotFound   = fmt.Errorf("workflow not found")
	ErrWorkflowNotActive  = fmt.Errorf("workflow is not active")
	ErrWorkflowDisabled   = fmt.Errorf("workflow is disabled")
	ErrNoPublishedVersion = fmt.Errorf("workflow has no published version")
)

// Gateway is the production persistence gateway: the conductor contract plus
// the start preconditions, backed by the repositories.
type Gateway struct {
	Workflows     *WorkflowRepository
	Definitions   *DefinitionRepository
	Executions    *ExecutionRepository
	Attempts      *AttemptRepository
	ResourceLinks *ResourceLinkRepository
	Hierarchy     *HierarchyRepository
	Events        *EventRepository
	Plans         *PlanRepository

	// AllowDraftExecution lets operators run version 0 in development.
	AllowDraftExecution bool

	// EventSink fans recorded events out to live watchers. Optional.
	EventSink EventPublisher
}

// EventPublisher pushes recorded events to a live feed. The redis client
// implements it.
type EventPublisher interface {
	PublishExecutionEvent(ctx context.Context, executionID string, event interface{}) error
}

func NewGateway(db *gorm.DB, allowDraftExecution bool) *Gateway {
	return &Gateway{
		Workflows:           NewWorkflowRepository(db),
		Definitions:         NewDefinitionRepository(db),
		Executions:          NewExecutionRepository(db),
		Attempts:            NewAttemptRepository(db),
		ResourceLinks:       NewResourceLinkRepository(db),
		Hierarchy:           NewHierarchyRepository(db),
		Events:              NewEventRepository(db),
		Plans:               NewPlanRepository(db),
		AllowDraftExecution: allowDraftExecution,
	}
}

var _ conductor.Gateway = (*Gateway)(nil)

func (g *Gateway) StartExecution(ctx context.Context, params *conductor.StartParams) (*models.WorkflowExecution, bool, error) {
	workflow, err := g.Workflows.FindByID(ctx, params.WorkflowID)
	if err != nil {
		if IsNotFound(err) {
			return nil, false, ErrWorkflowNotFound
		}
		return nil, false, err
	}

	version, err := g.resolveVersion(workflow, params.Version)
	if err != nil {
		return nil, false, err
	}

	execution := &models.WorkflowExecution{
		WorkflowID:        params.WorkflowID,
		WorkflowVersion:   version,
		WorkflowRequestID: params.RequestID,
		TriggerPayload:    params.Trigger,
		ParentExecutionID: params.ParentExecutionID,
		TenantID:          params.TenantID,
		CorrelationID:     params.CorrelationID,
	}
	if params.Principal != nil {
		execution.RequesterID = &params.Principal.UserID
		execution.RequesterEmail = &params.Principal.Email
		execution.RequesterName = &params.Principal.DisplayName
	}

	return g.Executions.Start(ctx, execution)
}

func (g *Gateway) resolveVersion(workflow *models.Workflow, requested *int) (int, error) {
	if requested != nil {
		if *requested == DraftVersion && !g.AllowDraftExecution {
			return 0, ErrWorkflowNotActive
		}
		return *requested, nil
	}

	switch workflow.Status {
	case models.WorkflowStatusActive:
		if !workflow.IsEnabled {
			return 0, ErrWorkflowDisabled
		}
		if workflow.CurrentVersion == nil {
			return 0, ErrNoPublishedVersion
		}
		return *workflow.CurrentVersion, nil

	case models.WorkflowStatusDraft:
		if g.AllowDraftExecution {
			return DraftVersion, nil
		}
		return 0, ErrWorkflowNotActive

	default:
		return 0, ErrWorkflowNotActive
	}
}

func (g *Gateway) GetExecution(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error) {
	return g.Executions.FindByID(ctx, executionID)
}

func (g *Gateway) TryAcquireExecution(ctx context.Context, executionID uuid.UUID) (bool, error) {
	return g.Executions.TryAcquire(ctx, executionID)
}

func (g *Gateway) CompleteExecution(ctx context.Context, executionID uuid.UUID, status string, snapshot models.JSON, errorMessage *string) error {
	return g.Executions.Complete(ctx, executionID, status, snapshot, errorMessage)
}

func (g *Gateway) RecordAttempt(ctx context.Context, attempt *models.ActionExecution) error {
	return g.Attempts.Record(ctx, attempt)
}

func (g *Gateway) LinkExternalResource(ctx context.Context, executionID uuid.UUID, actionExecutionID *uuid.UUID, system, resourceType, resourceID string, url *string) (string, error) {
	return g.ResourceLinks.Link(ctx, executionID, actionExecutionID, system, resourceType, resourceID, url)
}

func (g *Gateway) RecordHierarchy(ctx context.Context, parentExecutionID, childExecutionID uuid.UUID, parentNodeID string) error {
	return g.Hierarchy.Create(ctx, &models.WorkflowExecutionHierarchy{
		ParentExecutionID: parentExecutionID,
		ChildExecutionID:  childExecutionID,
		ParentNodeID:      parentNodeID,
	})
}

func (g *Gateway) RecordEvent(ctx context.Context, event *models.ExecutionEvent) error {
	if err := g.Events.Create(ctx, event); err != nil {
		return err
	}
	if g.EventSink != nil {
		// Best effort; the row is the source of truth, the stream is a feed.
		if err := g.EventSink.PublishExecutionEvent(ctx, event.ExecutionID.String(), event); err != nil {
			log.Warn().Err(err).
				Str("execution_id", event.ExecutionID.String()).
				Msg("Failed to publish execution event")
		}
	}
	return nil
}

// GetPlan returns the cached plan document for a version, or nil.
func (g *Gateway) GetPlan(ctx context.Context, workflowID string, version int) (models.JSON, error) {
	return g.Plans.Get(ctx, workflowID, version)
}

// PutPlan stores the compiled plan document for a version.
func (g *Gateway) PutPlan(ctx context.Context, workflowID string, version int, plan models.JSON) error {
	return g.Plans.Put(ctx, workflowID, version, plan)
}
