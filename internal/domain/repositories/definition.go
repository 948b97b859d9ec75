package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// DraftVersion is the mutable working copy; published versions start at 1.
const DraftVersion = 0

type DefinitionRepository struct {
	*BaseRepository[models.WorkflowDefinition]
}

func NewDefinitionRepository(db *gorm.DB) *DefinitionRepository {
	return &DefinitionRepository{
		BaseRepository: NewBaseRepository[models.WorkflowDefinition](db),
	}
}

func (r *DefinitionRepository) FindVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND version = ?", workflowID, version).
		First(&def).Error
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *DefinitionRepository) FindDraft(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return r.FindVersion(ctx, workflowID, DraftVersion)
}

// LatestVersion returns the highest published version, or 0 when nothing has
// been published yet.
func (r *DefinitionRepository) LatestVersion(ctx context.Context, workflowID string) (int, error) {
	var version int
	err := r.DB().WithContext(ctx).Model(&models.WorkflowDefinition{}).
		Where("workflow_id = ? AND version > ?", workflowID, DraftVersion).
		Select("COALESCE(MAX(version), 0)").
		Scan(&version).Error
	return version, err
}

// FindPublishedByChecksum locates an already-published version with identical
// content, making publish idempotent.
func (r *DefinitionRepository) FindPublishedByChecksum(ctx context.Context, workflowID, checksum string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND version > ? AND checksum = ?", workflowID, DraftVersion, checksum).
		Order("version ASC").
		First(&def).Error
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// SaveDraft upserts the version-0 row.
func (r *DefinitionRepository) SaveDraft(ctx context.Context, workflowID string, definition models.JSON, checksum string, updatedBy *string) error {
	draft := &models.WorkflowDefinition{
		WorkflowID:     workflowID,
		Version:        DraftVersion,
		DefinitionJSON: definition,
		Checksum:       checksum,
		CreatedBy:      updatedBy,
	}
	return r.DB().WithContext(ctx).Save(draft).Error
}

func (r *DefinitionRepository) ListVersions(ctx context.Context, workflowID string) ([]models.WorkflowDefinition, error) {
	var defs []models.WorkflowDefinition
	err := r.DB().WithContext(ctx).
		Where("workflow_id = ? AND version > ?", workflowID, DraftVersion).
		Order("version DESC").
		Find(&defs).Error
	return defs, err
}
