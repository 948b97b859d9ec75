package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/domain/repositories"
	"github.com/flowline-ai/flowline/internal/engine/conductor"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/pkg/archive"
	"github.com/flowline-ai/flowline/internal/pkg/logger"
	"github.com/flowline-ai/flowline/internal/pkg/queue"
)

// ExecuteInput is one execution request as it arrives from the API or a
// trigger source.
type ExecuteInput struct {
	WorkflowID    string
	Version       *int
	RequestID     string
	Trigger       models.JSON
	Vars          map[string]interface{}
	Principal     *models.Principal
	Priority      *int
	TenantID      *string
	CorrelationID string
}

// EngineService is the orchestration facade: it owns starting executions,
// dispatching them to workers, and driving a started execution through the
// conductor. It also closes the sub-workflow recursion, so child executions
// run through the same path as roots.
type EngineService struct {
	Gateway    *repositories.Gateway
	Conductor  *conductor.Conductor
	Plans      *planner.Cache
	Queue      *queue.Client    // nil runs executions inline
	Archiver   archive.Archiver // nil keeps snapshots in the database only
	RunTimeout time.Duration
}

// Execute starts (or finds) the execution row and hands it to the worker
// pool. The returned flag reports whether the requestId had been seen before.
func (s *EngineService) Execute(ctx context.Context, in *ExecuteInput) (*models.WorkflowExecution, bool, error) {
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}

	execution, wasExisting, err := s.Gateway.StartExecution(ctx, &conductor.StartParams{
		WorkflowID:    in.WorkflowID,
		Version:       in.Version,
		RequestID:     in.RequestID,
		Trigger:       in.Trigger,
		Principal:     in.Principal,
		TenantID:      in.TenantID,
		CorrelationID: in.CorrelationID,
	})
	if err != nil {
		return nil, false, err
	}
	if wasExisting {
		return execution, true, nil
	}

	if s.Queue != nil {
		// Negative priority demotes the run to the lower-weight queue.
		queueName := queue.QueueExecutions
		if in.Priority != nil && *in.Priority < 0 {
			queueName = queue.QueueDefault
		}
		_, err = s.Queue.EnqueueExecutionRun(ctx, queue.ExecutionRunPayload{
			ExecutionID: execution.ID,
			WorkflowID:  execution.WorkflowID,
			Version:     execution.WorkflowVersion,
		}, queueName, s.runTimeout())
		if err != nil {
			return nil, false, fmt.Errorf("failed to enqueue execution: %w", err)
		}
		return execution, false, nil
	}

	// No queue wired: drive the run on this goroutine (worker and test mode).
	if _, err := s.Run(ctx, execution.ID); err != nil && !errors.Is(err, conductor.ErrAlreadyRunning) {
		return execution, false, err
	}
	reloaded, err := s.Gateway.GetExecution(ctx, execution.ID)
	if err != nil {
		return execution, false, nil
	}
	return reloaded, false, nil
}

// Run drives one persisted execution to a terminal status. Safe to call for
// duplicate queue deliveries; the try-acquire CAS sorts out ownership.
func (s *EngineService) Run(ctx context.Context, executionID uuid.UUID) (string, error) {
	row, err := s.Gateway.GetExecution(ctx, executionID)
	if err != nil {
		return "", err
	}

	plan, err := s.loadPlan(ctx, row.WorkflowID, row.WorkflowVersion)
	if err != nil {
		return "", err
	}

	status, err := s.Conductor.Execute(ctx, &conductor.ExecuteRequest{
		ExecutionID:   row.ID,
		Plan:          plan,
		Trigger:       row.TriggerPayload,
		Principal:     rowPrincipal(row),
		TenantID:      row.TenantID,
		CorrelationID: row.CorrelationID,
	})
	if err == nil && models.IsTerminalExecutionStatus(status) {
		s.archiveSnapshot(ctx, executionID)
	}
	return status, err
}

// archiveSnapshot offloads the persisted context snapshot to long-term
// storage and points the row at it. Best effort; the database copy stands
// until the archive write succeeds.
func (s *EngineService) archiveSnapshot(ctx context.Context, executionID uuid.UUID) {
	if s.Archiver == nil {
		return
	}
	row, err := s.Gateway.GetExecution(ctx, executionID)
	if err != nil || len(row.ContextSnapshot) == 0 || row.SnapshotRef != nil {
		return
	}
	l := logger.WithExecutionID(executionID.String())
	ref, err := s.Archiver.Store(ctx, executionID, row.ContextSnapshot)
	if err != nil {
		l.Warn().Err(err).Msg("snapshot archive failed")
		return
	}
	if err := s.Gateway.Executions.SetSnapshotRef(ctx, executionID, ref); err != nil {
		l.Warn().Err(err).Msg("failed to record snapshot ref")
	}
}

// RunChild is the RunChildFunc the sub-workflow coordinator calls: it drives
// an already-started child inline and returns its status with the context
// snapshot as the output map.
func (s *EngineService) RunChild(ctx context.Context, child *models.WorkflowExecution, depth int, ancestors []string) (string, map[string]interface{}, error) {
	plan, err := s.loadPlan(ctx, child.WorkflowID, child.WorkflowVersion)
	if err != nil {
		return "", nil, err
	}

	status, err := s.Conductor.Execute(ctx, &conductor.ExecuteRequest{
		ExecutionID:   child.ID,
		Plan:          plan,
		Trigger:       child.TriggerPayload,
		Principal:     rowPrincipal(child),
		TenantID:      child.TenantID,
		CorrelationID: child.CorrelationID,
		Depth:         depth,
		Ancestors:     ancestors,
	})
	if errors.Is(err, conductor.ErrAlreadyRunning) {
		// A crashed parent retry found the child mid-run elsewhere; wait for
		// its terminal row instead of racing it.
		status, err = s.awaitTerminal(ctx, child.ID)
	}
	if err != nil {
		return "", nil, err
	}

	finished, err := s.Gateway.GetExecution(ctx, child.ID)
	if err != nil {
		return status, nil, nil
	}
	return status, map[string]interface{}(finished.ContextSnapshot), nil
}

func (s *EngineService) awaitTerminal(ctx context.Context, executionID uuid.UUID) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			row, err := s.Gateway.GetExecution(ctx, executionID)
			if err != nil {
				return "", err
			}
			if models.IsTerminalExecutionStatus(row.Status) {
				return row.Status, nil
			}
		}
	}
}

// loadPlan resolves the compiled plan for a version, going definition store
// to planner on a cache miss.
func (s *EngineService) loadPlan(ctx context.Context, workflowID string, version int) (*planner.Plan, error) {
	return s.Plans.Get(workflowID, version, func() (*definition.Definition, error) {
		row, err := s.Gateway.Definitions.FindVersion(ctx, workflowID, version)
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil, fmt.Errorf("workflow %s has no definition version %d", workflowID, version)
			}
			return nil, err
		}
		return definition.ParseMap(row.DefinitionJSON)
	})
}

// InvalidatePlans drops the local plan cache for a workflow. Wired to the
// cross-replica invalidation channel.
func (s *EngineService) InvalidatePlans(workflowID string) {
	s.Plans.Invalidate(workflowID)
	l := logger.WithWorkflowID(workflowID)
	l.Debug().Msg("plan cache invalidated")
}

func (s *EngineService) runTimeout() time.Duration {
	if s.RunTimeout > 0 {
		return s.RunTimeout
	}
	return time.Hour
}

func rowPrincipal(row *models.WorkflowExecution) *models.Principal {
	if row.RequesterID == nil {
		return nil
	}
	p := &models.Principal{UserID: *row.RequesterID}
	if row.RequesterEmail != nil {
		p.Email = *row.RequesterEmail
	}
	if row.RequesterName != nil {
		p.DisplayName = *row.RequesterName
	}
	return p
}
