package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// PlanRepository persists compiled plan documents so a fresh process can warm
// its cache without recompiling every published version.
type PlanRepository struct {
	*BaseRepository[models.WorkflowPlan]
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{
		BaseRepository: NewBaseRepository[models.WorkflowPlan](db),
	}
}

func (r *PlanRepository) Get(ctx context.Context, workflowID string, version int) (models.JSON, error) {
	var plan models.WorkflowPlan
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND version = ?", workflowID, version).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plan.PlanJSON, nil
}

func (r *PlanRepository) Put(ctx context.Context, workflowID string, version int, plan models.JSON) error {
	row := &models.WorkflowPlan{
		WorkflowID: workflowID,
		Version:    version,
		PlanJSON:   plan,
	}
	return r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "workflow_id"}, {Name: "version"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (r *PlanRepository) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	return r.DB().WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Delete(&models.WorkflowPlan{}).Error
}
