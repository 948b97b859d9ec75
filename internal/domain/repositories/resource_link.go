package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// Link outcomes.
const (
	LinkCreated             = "created"
	LinkExistsSameExecution = "exists_same_execution"
)

type ResourceLinkRepository struct {
	*BaseRepository[models.WorkflowResourceLink]
}

func NewResourceLinkRepository(db *gorm.DB) *ResourceLinkRepository {
	return &ResourceLinkRepository{
		BaseRepository: NewBaseRepository[models.WorkflowResourceLink](db),
	}
}

// Link claims the (system, type, resourceId) tuple for an execution. The
// tuple is globally unique; a claim by another execution fails with WFENG003.
func (r *ResourceLinkRepository) Link(ctx context.Context, executionID uuid.UUID, actionExecutionID *uuid.UUID, system, resourceType, resourceID string, url *string) (string, error) {
	row := &models.WorkflowResourceLink{
		ID:                uuid.New(),
		ExecutionID:       executionID,
		ActionExecutionID: actionExecutionID,
		SystemName:        system,
		ResourceType:      resourceType,
		ResourceID:        resourceID,
		ExternalURL:       url,
	}

	// Insert-first keeps the claim atomic under concurrency; DoNothing turns
	// a duplicate into zero rows affected instead of an error.
	result := r.DB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "system_name"}, {Name: "resource_type"}, {Name: "resource_id"},
		},
		DoNothing: true,
	}).Create(row)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 1 {
		return LinkCreated, nil
	}

	var existing models.WorkflowResourceLink
	err := r.DB().WithContext(ctx).
		Where("system_name = ? AND resource_type = ? AND resource_id = ?", system, resourceType, resourceID).
		First(&existing).Error
	if err != nil {
		return "", err
	}
	if existing.ExecutionID == executionID {
		return LinkExistsSameExecution, nil
	}
	return "", models.NewStoreError(models.CodeResourceLinkConflictOtherExecution,
		fmt.Sprintf("resource %s/%s/%s is owned by execution %s", system, resourceType, resourceID, existing.ExecutionID))
}

// Find returns the link row for a tuple, or nil when unclaimed. Connectors
// use this to detect work a previous attempt already did.
func (r *ResourceLinkRepository) Find(ctx context.Context, system, resourceType, resourceID string) (*models.WorkflowResourceLink, error) {
	var link models.WorkflowResourceLink
	err := r.DB().WithContext(ctx).
		Where("system_name = ? AND resource_type = ? AND resource_id = ?", system, resourceType, resourceID).
		First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *ResourceLinkRepository) FindByExecution(ctx context.Context, executionID uuid.UUID) ([]models.WorkflowResourceLink, error) {
	var links []models.WorkflowResourceLink
	err := r.DB().WithContext(ctx).
		Where("execution_id = ?", executionID).
		Find(&links).Error
	return links, err
}
