package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

type ExecutionRepository struct {
	*BaseRepository[models.WorkflowExecution]
}

func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{
		BaseRepository: NewBaseRepository[models.WorkflowExecution](db),
	}
}

func (r *ExecutionRepository) FindByID(ctx context.Context, executionID uuid.UUID) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution
	err := r.DB().WithContext(ctx).First(&execution, "id = ?", executionID).Error
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *ExecutionRepository) FindByWorkflowID(ctx context.Context, workflowID string, opts *ListOptions) ([]models.WorkflowExecution, int64, error) {
	var executions []models.WorkflowExecution
	var total int64

	query := r.DB().WithContext(ctx).Where("workflow_id = ?", workflowID)
	query.Model(&models.WorkflowExecution{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&executions).Error
	return executions, total, err
}

// Start creates the execution row, idempotent on (workflowId, requestId).
// A requestId already claimed by a different workflow fails with WFENG001.
func (r *ExecutionRepository) Start(ctx context.Context, execution *models.WorkflowExecution) (*models.WorkflowExecution, bool, error) {
	var existing models.WorkflowExecution
	err := r.DB().WithContext(ctx).
		Where("workflow_request_id = ?", execution.WorkflowRequestID).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.WorkflowID != execution.WorkflowID {
			return nil, false, models.NewStoreError(models.CodeRequestIDConflictOtherWorkflow,
				fmt.Sprintf("request id %q already belongs to workflow %q", execution.WorkflowRequestID, existing.WorkflowID))
		}
		return &existing, true, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, err
	}

	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	execution.Status = models.ExecutionStatusPending

	// Two concurrent starts with the same requestId race past the lookup;
	// the unique index decides, and the loser re-reads the winner's row.
	err = r.DB().WithContext(ctx).Create(execution).Error
	if err != nil {
		var winner models.WorkflowExecution
		findErr := r.DB().WithContext(ctx).
			Where("workflow_id = ? AND workflow_request_id = ?", execution.WorkflowID, execution.WorkflowRequestID).
			First(&winner).Error
		if findErr == nil {
			return &winner, true, nil
		}
		return nil, false, err
	}
	return execution, false, nil
}

// TryAcquire is the Pending to Running compare-and-set.
func (r *ExecutionRepository) TryAcquire(ctx context.Context, executionID uuid.UUID) (bool, error) {
	now := time.Now()
	result := r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status = ?", executionID, models.ExecutionStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ExecutionStatusRunning,
			"started_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Complete moves a running execution to a terminal status. Any other
// transition fails with WFENG002.
func (r *ExecutionRepository) Complete(ctx context.Context, executionID uuid.UUID, status string, snapshot models.JSON, errorMessage *string) error {
	if !models.IsTerminalExecutionStatus(status) {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("%q is not a terminal status", status))
	}
	now := time.Now()
	result := r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ? AND status = ?", executionID, models.ExecutionStatusRunning).
		Updates(map[string]interface{}{
			"status":           status,
			"context_snapshot": snapshot,
			"error_message":    errorMessage,
			"completed_at":     now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("execution %s is not running", executionID))
	}
	return nil
}

// SetSnapshotRef points a pruned row at its archived full snapshot.
func (r *ExecutionRepository) SetSnapshotRef(ctx context.Context, executionID uuid.UUID, ref string) error {
	return r.DB().WithContext(ctx).Model(&models.WorkflowExecution{}).
		Where("id = ?", executionID).
		Update("snapshot_ref", ref).Error
}

func (r *ExecutionRepository) FindStale(ctx context.Context, threshold time.Duration) ([]models.WorkflowExecution, error) {
	var executions []models.WorkflowExecution
	cutoff := time.Now().Add(-threshold)
	err := r.DB().WithContext(ctx).
		Where("status = ? AND started_at < ?", models.ExecutionStatusRunning, cutoff).
		Find(&executions).Error
	return executions, err
}

// AttemptRepository stores per-node attempt rows.
type AttemptRepository struct {
	*BaseRepository[models.ActionExecution]
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{
		BaseRepository: NewBaseRepository[models.ActionExecution](db),
	}
}

// Record upserts on (execution_id, node_id, attempt) so crash re-entry can
// rewrite an attempt it never finished recording.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.ActionExecution) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "execution_id"}, {Name: "node_id"}, {Name: "attempt"},
		},
		UpdateAll: true,
	}).Create(attempt).Error
}

func (r *AttemptRepository) FindByExecution(ctx context.Context, executionID uuid.UUID) ([]models.ActionExecution, error) {
	var attempts []models.ActionExecution
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC, attempt ASC").
		Find(&attempts).Error
	return attempts, err
}

// FindTerminal returns the authoritative (maximum attempt) row per node.
func (r *AttemptRepository) FindTerminal(ctx context.Context, executionID uuid.UUID, nodeID string) (*models.ActionExecution, error) {
	var attempt models.ActionExecution
	err := r.DB().WithContext(ctx).
		Where("execution_id = ? AND node_id = ?", executionID, nodeID).
		Order("attempt DESC").
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// EventRepository appends to the execution audit trail.
type EventRepository struct {
	*BaseRepository[models.ExecutionEvent]
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository[models.ExecutionEvent](db),
	}
}

func (r *EventRepository) FindByExecution(ctx context.Context, executionID uuid.UUID, opts *ListOptions) ([]models.ExecutionEvent, error) {
	var events []models.ExecutionEvent
	query := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC")
	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// HierarchyRepository records parent/child execution links.
type HierarchyRepository struct {
	*BaseRepository[models.WorkflowExecutionHierarchy]
}

func NewHierarchyRepository(db *gorm.DB) *HierarchyRepository {
	return &HierarchyRepository{
		BaseRepository: NewBaseRepository[models.WorkflowExecutionHierarchy](db),
	}
}

func (r *HierarchyRepository) FindChildren(ctx context.Context, parentExecutionID uuid.UUID) ([]models.WorkflowExecutionHierarchy, error) {
	var rows []models.WorkflowExecutionHierarchy
	err := r.DB().WithContext(ctx).
		Where("parent_execution_id = ?", parentExecutionID).
		Find(&rows).Error
	return rows, err
}
