package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/validation"
	"github.com/flowline-ai/flowline/internal/pkg/logger"
)

// DraftVersion is the mutable working copy of a definition.
const DraftVersion = 0

// WorkflowStore is the slice of the workflow repository the manager uses.
type WorkflowStore interface {
	FindByID(ctx context.Context, workflowID string) (*models.Workflow, error)
	Create(ctx context.Context, workflow *models.Workflow) error
	Update(ctx context.Context, workflow *models.Workflow) error
	Activate(ctx context.Context, workflowID string, version int) error
	Archive(ctx context.Context, workflowID string) error
	Reactivate(ctx context.Context, workflowID string) error
	SetEnabled(ctx context.Context, workflowID string, enabled bool) error
	DeleteDraft(ctx context.Context, workflowID string) error
}

// DefinitionStore is the slice of the definition repository the manager uses.
type DefinitionStore interface {
	FindDraft(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
	FindVersion(ctx context.Context, workflowID string, version int) (*models.WorkflowDefinition, error)
	LatestVersion(ctx context.Context, workflowID string) (int, error)
	FindPublishedByChecksum(ctx context.Context, workflowID, checksum string) (*models.WorkflowDefinition, error)
	SaveDraft(ctx context.Context, workflowID string, def models.JSON, checksum string, updatedBy *string) error
	Create(ctx context.Context, def *models.WorkflowDefinition) error
	ListVersions(ctx context.Context, workflowID string) ([]models.WorkflowDefinition, error)
}

// PlanStore persists compiled plan documents.
type PlanStore interface {
	Put(ctx context.Context, workflowID string, version int, plan models.JSON) error
	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// ErrNoDraft is returned when a workflow has no version-0 definition to
// publish or preview.
var ErrNoDraft = errors.New("workflow has no draft definition")

// ValidationError carries the publish validator's findings when publishing
// is refused.
type ValidationError struct {
	Result *validation.PublishResult
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: definition failed validation with %d error(s)",
		models.CodeValidationError, len(e.Result.Errors))
}

// PublishOutcome reports what publish did.
type PublishOutcome struct {
	Version     int                       `json:"version"`
	WasExisting bool                      `json:"was_existing"`
	Activated   bool                      `json:"activated"`
	Warnings    []validation.Issue        `json:"warnings,omitempty"`
	Validation  *validation.PublishResult `json:"-"`
}

// Manager owns the workflow state machine: draft edits at version 0, publish
// minting immutable versions, archive/reactivate, and draft deletion.
type Manager struct {
	Workflows   WorkflowStore
	Definitions DefinitionStore
	Plans       PlanStore
	Validator   *validation.PublishValidator
	Planner     *planner.Planner
	Cache       *planner.Cache

	// Broadcast tells other replicas to drop their cached plans for the
	// workflow. Optional; a single-process deployment leaves it nil.
	Broadcast func(ctx context.Context, workflowID string)
}

func (m *Manager) invalidate(ctx context.Context, workflowID string) {
	if m.Cache != nil {
		m.Cache.Invalidate(workflowID)
	}
	if m.Broadcast != nil {
		m.Broadcast(ctx, workflowID)
	}
}

// SaveDraft upserts the version-0 definition. The document must be
// structurally valid (schema and normalization), but publish-level checks
// like catalog availability are deferred to Publish. Creates the workflow
// metadata row on first save.
func (m *Manager) SaveDraft(ctx context.Context, workflowID string, document map[string]interface{}, updatedBy *string) (string, error) {
	def, err := definition.ParseMap(document)
	if err != nil {
		return "", err
	}
	if def.ID != workflowID {
		return "", fmt.Errorf("definition id %q does not match workflow %q", def.ID, workflowID)
	}

	checksum, err := definition.Checksum(document)
	if err != nil {
		return "", err
	}

	workflow, err := m.Workflows.FindByID(ctx, workflowID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		workflow = &models.Workflow{
			ID:          workflowID,
			DisplayName: def.DisplayName,
			Status:      models.WorkflowStatusDraft,
		}
		if def.Description != "" {
			workflow.Description = &def.Description
		}
		if err := m.Workflows.Create(ctx, workflow); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		if workflow.DisplayName != def.DisplayName {
			workflow.DisplayName = def.DisplayName
			if err := m.Workflows.Update(ctx, workflow); err != nil {
				return "", err
			}
		}
	}

	if err := m.Definitions.SaveDraft(ctx, workflowID, models.JSON(document), checksum, updatedBy); err != nil {
		return "", err
	}

	l := logger.WithWorkflowID(workflowID)
	l.Info().
		Str("checksum", checksum).
		Msg("draft saved")
	return checksum, nil
}

// DraftPreview is the dry-run result: the validator's findings plus, for a
// valid draft, the order a sequential run would execute the nodes in.
type DraftPreview struct {
	Validation     *validation.PublishResult `json:"validation"`
	ExecutionOrder []string                  `json:"executionOrder,omitempty"`
}

// ValidateDraft runs the publish validator against the current draft without
// publishing. Backs the dry-run preview endpoint; no side effects.
func (m *Manager) ValidateDraft(ctx context.Context, workflowID string) (*DraftPreview, error) {
	draft, err := m.Definitions.FindDraft(ctx, workflowID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, err
	}
	def, err := definition.ParseMap(draft.DefinitionJSON)
	if err != nil {
		return nil, err
	}

	preview := &DraftPreview{Validation: m.Validator.Validate(def)}
	if preview.Validation.IsValid && m.Planner != nil {
		if plan, err := m.Planner.Compile(def, DraftVersion); err == nil {
			preview.ExecutionOrder = plan.ExecutionOrder()
		}
	}
	return preview, nil
}

// Publish turns the draft into an immutable version. Identical content (by
// checksum) returns the already-published version instead of minting a new
// one. With autoActivate the workflow starts serving the new version
// immediately; otherwise it stays staged until Activate is called.
func (m *Manager) Publish(ctx context.Context, workflowID string, autoActivate bool, publishedBy *string) (*PublishOutcome, error) {
	draft, err := m.Definitions.FindDraft(ctx, workflowID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoDraft
	}
	if err != nil {
		return nil, err
	}

	def, err := definition.ParseMap(draft.DefinitionJSON)
	if err != nil {
		return nil, err
	}

	result := m.Validator.Validate(def)
	if !result.IsValid {
		return nil, &ValidationError{Result: result}
	}

	checksum := draft.Checksum
	if checksum == "" {
		if checksum, err = definition.Checksum(draft.DefinitionJSON); err != nil {
			return nil, err
		}
	}

	outcome := &PublishOutcome{Warnings: result.Warnings, Validation: result}

	existing, err := m.Definitions.FindPublishedByChecksum(ctx, workflowID, checksum)
	switch {
	case err == nil:
		outcome.Version = existing.Version
		outcome.WasExisting = true
	case errors.Is(err, gorm.ErrRecordNotFound):
		latest, err := m.Definitions.LatestVersion(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		outcome.Version = latest + 1
		if err := m.Definitions.Create(ctx, &models.WorkflowDefinition{
			WorkflowID:     workflowID,
			Version:        outcome.Version,
			DefinitionJSON: draft.DefinitionJSON,
			Checksum:       checksum,
			CreatedBy:      publishedBy,
		}); err != nil {
			return nil, err
		}
		if err := m.storePlan(ctx, workflowID, outcome.Version, def); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	m.invalidate(ctx, workflowID)

	if autoActivate {
		if err := m.Workflows.Activate(ctx, workflowID, outcome.Version); err != nil {
			return nil, err
		}
		outcome.Activated = true
	}

	l := logger.WithWorkflowID(workflowID)
	l.Info().
		Int("version", outcome.Version).
		Bool("was_existing", outcome.WasExisting).
		Bool("activated", outcome.Activated).
		Msg("workflow published")
	return outcome, nil
}

func (m *Manager) storePlan(ctx context.Context, workflowID string, version int, def *definition.Definition) error {
	if m.Planner == nil || m.Plans == nil {
		return nil
	}
	plan, err := m.Planner.Compile(def, version)
	if err != nil {
		// The validator passed, so a compile failure is a planner bug; the
		// version row stands and the plan is rebuilt on demand.
		l := logger.WithWorkflowID(workflowID)
		l.Error().Err(err).
			Int("version", version).
			Msg("plan compilation failed after publish")
		return nil
	}
	return m.Plans.Put(ctx, workflowID, version, plan.Document())
}

// Activate points the workflow at an already-published version.
func (m *Manager) Activate(ctx context.Context, workflowID string, version int) error {
	if _, err := m.Definitions.FindVersion(ctx, workflowID, version); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewStoreError(models.CodeIllegalStateTransition,
				fmt.Sprintf("workflow %s has no published version %d", workflowID, version))
		}
		return err
	}
	if version == DraftVersion {
		return models.NewStoreError(models.CodeIllegalStateTransition,
			"the draft cannot be activated; publish it first")
	}
	return m.Workflows.Activate(ctx, workflowID, version)
}

// Archive stops new starts; in-flight executions run to completion.
func (m *Manager) Archive(ctx context.Context, workflowID string) error {
	return m.Workflows.Archive(ctx, workflowID)
}

// Reactivate restores an archived workflow to active.
func (m *Manager) Reactivate(ctx context.Context, workflowID string) error {
	return m.Workflows.Reactivate(ctx, workflowID)
}

// SetEnabled toggles new starts without changing lifecycle status.
func (m *Manager) SetEnabled(ctx context.Context, workflowID string, enabled bool) error {
	return m.Workflows.SetEnabled(ctx, workflowID, enabled)
}

// Delete removes a draft workflow entirely. Published workflows can only be
// archived.
func (m *Manager) Delete(ctx context.Context, workflowID string) error {
	if err := m.Workflows.DeleteDraft(ctx, workflowID); err != nil {
		return err
	}
	m.invalidate(ctx, workflowID)
	return nil
}

// ListVersions returns the published version history, newest first.
func (m *Manager) ListVersions(ctx context.Context, workflowID string) ([]models.WorkflowDefinition, error) {
	return m.Definitions.ListVersions(ctx, workflowID)
}
