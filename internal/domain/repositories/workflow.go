package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

type WorkflowRepository struct {
	*BaseRepository[models.Workflow]
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{
		BaseRepository: NewBaseRepository[models.Workflow](db),
	}
}

func (r *WorkflowRepository) FindByID(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.DB().WithContext(ctx).First(&workflow, "id = ?", workflowID).Error
	if err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (r *WorkflowRepository) FindByStatus(ctx context.Context, status string, opts *ListOptions) ([]models.Workflow, int64, error) {
	var workflows []models.Workflow
	var total int64

	query := r.DB().WithContext(ctx).Where("status = ?", status)
	query.Model(&models.Workflow{}).Count(&total)

	if opts != nil {
		query = query.Offset(opts.Offset).Limit(opts.Limit).Order("created_at DESC")
	}

	err := query.Find(&workflows).Error
	return workflows, total, err
}

// Activate points the workflow at a published version and enables it.
func (r *WorkflowRepository) Activate(ctx context.Context, workflowID string, version int) error {
	now := time.Now()
	return r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ?", workflowID).
		Updates(map[string]interface{}{
			"status":          models.WorkflowStatusActive,
			"current_version": version,
			"is_enabled":      true,
			"activated_at":    now,
		}).Error
}

// Archive disables the workflow; in-flight executions are unaffected.
func (r *WorkflowRepository) Archive(ctx context.Context, workflowID string) error {
	now := time.Now()
	result := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusActive).
		Updates(map[string]interface{}{
			"status":      models.WorkflowStatusArchived,
			"is_enabled":  false,
			"archived_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("workflow %s is not active", workflowID))
	}
	return nil
}

// Reactivate moves an archived workflow back to active.
func (r *WorkflowRepository) Reactivate(ctx context.Context, workflowID string) error {
	now := time.Now()
	result := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusArchived).
		Updates(map[string]interface{}{
			"status":       models.WorkflowStatusActive,
			"is_enabled":   true,
			"activated_at": now,
			"archived_at":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("workflow %s is not archived", workflowID))
	}
	return nil
}

// SetEnabled toggles whether new executions may start. Only active workflows
// can be toggled; archive already forces the flag off.
func (r *WorkflowRepository) SetEnabled(ctx context.Context, workflowID string, enabled bool) error {
	result := r.DB().WithContext(ctx).Model(&models.Workflow{}).
		Where("id = ? AND status = ?", workflowID, models.WorkflowStatusActive).
		Update("is_enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			fmt.Sprintf("workflow %s is not active", workflowID))
	}
	return nil
}

// DeleteDraft removes a draft workflow and all dependent rows. Published
// workflows are never deleted, only archived.
func (r *WorkflowRepository) DeleteDraft(ctx context.Context, workflowID string) error {
	return r.Transaction(func(tx *gorm.DB) error {
		var workflow models.Workflow
		if err := tx.WithContext(ctx).First(&workflow, "id = ?", workflowID).Error; err != nil {
			return err
		}
		if workflow.Status != models.WorkflowStatusDraft {
			return models.NewStoreError(models.CodeIllegalStateTransition,
				fmt.Sprintf("workflow %s is %s; only drafts can be deleted", workflowID, workflow.Status))
		}
		if err := tx.WithContext(ctx).Where("workflow_id = ?", workflowID).Delete(&models.WorkflowPlan{}).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Where("workflow_id = ?", workflowID).Delete(&models.WorkflowDefinition{}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Delete(&models.Workflow{}, "id = ?", workflowID).Error
	})
}

// IsNotFound reports whether err is the record-missing error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
