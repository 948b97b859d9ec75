package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/engine/condition"
	"github.com/flowline-ai/flowline/internal/engine/definition"
	"github.com/flowline-ai/flowline/internal/engine/planner"
	"github.com/flowline-ai/flowline/internal/engine/template"
	"github.com/flowline-ai/flowline/internal/engine/validation"
)

type fakeStore struct {
	workflows   map[string]*models.Workflow
	definitions map[string]map[int]*models.WorkflowDefinition
	plans       map[string]map[int]models.JSON
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows:   make(map[string]*models.Workflow),
		definitions: make(map[string]map[int]*models.WorkflowDefinition),
		plans:       make(map[string]map[int]models.JSON),
	}
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*models.Workflow, error) {
	wf, ok := s.workflows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *wf
	return &copied, nil
}

func (s *fakeStore) Create(_ context.Context, wf *models.Workflow) error {
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *fakeStore) Update(_ context.Context, wf *models.Workflow) error {
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *fakeStore) Activate(_ context.Context, id string, version int) error {
	wf := s.workflows[id]
	wf.Status = models.WorkflowStatusActive
	wf.CurrentVersion = &version
	wf.IsEnabled = true
	return nil
}

func (s *fakeStore) Archive(_ context.Context, id string) error {
	wf := s.workflows[id]
	if wf.Status != models.WorkflowStatusActive {
		return models.NewStoreError(models.CodeIllegalStateTransition, "not active")
	}
	wf.Status = models.WorkflowStatusArchived
	wf.IsEnabled = false
	return nil
}

func (s *fakeStore) Reactivate(_ context.Context, id string) error {
	wf := s.workflows[id]
	if wf.Status != models.WorkflowStatusArchived {
		return models.NewStoreError(models.CodeIllegalStateTransition, "not archived")
	}
	wf.Status = models.WorkflowStatusActive
	wf.IsEnabled = true
	return nil
}

func (s *fakeStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	wf := s.workflows[id]
	if wf.Status != models.WorkflowStatusActive {
		return models.NewStoreError(models.CodeIllegalStateTransition, "not active")
	}
	wf.IsEnabled = enabled
	return nil
}

func (s *fakeStore) DeleteDraft(_ context.Context, id string) error {
	wf, ok := s.workflows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if wf.Status != models.WorkflowStatusDraft {
		return models.NewStoreError(models.CodeIllegalStateTransition, "not a draft")
	}
	delete(s.workflows, id)
	delete(s.definitions, id)
	delete(s.plans, id)
	return nil
}

func (s *fakeStore) FindDraft(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.FindVersion(ctx, id, DraftVersion)
}

func (s *fakeStore) FindVersion(_ context.Context, id string, version int) (*models.WorkflowDefinition, error) {
	def, ok := s.definitions[id][version]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return def, nil
}

func (s *fakeStore) LatestVersion(_ context.Context, id string) (int, error) {
	latest := 0
	for v := range s.definitions[id] {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}

func (s *fakeStore) FindPublishedByChecksum(_ context.Context, id, checksum string) (*models.WorkflowDefinition, error) {
	for v, def := range s.definitions[id] {
		if v > DraftVersion && def.Checksum == checksum {
			return def, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeStore) SaveDraft(_ context.Context, id string, doc models.JSON, checksum string, updatedBy *string) error {
	if s.definitions[id] == nil {
		s.definitions[id] = make(map[int]*models.WorkflowDefinition)
	}
	s.definitions[id][DraftVersion] = &models.WorkflowDefinition{
		WorkflowID:     id,
		Version:        DraftVersion,
		DefinitionJSON: doc,
		Checksum:       checksum,
		CreatedBy:      updatedBy,
	}
	return nil
}

func (s *fakeStore) CreateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	if s.definitions[def.WorkflowID] == nil {
		s.definitions[def.WorkflowID] = make(map[int]*models.WorkflowDefinition)
	}
	s.definitions[def.WorkflowID][def.Version] = def
	return nil
}

func (s *fakeStore) ListVersions(_ context.Context, id string) ([]models.WorkflowDefinition, error) {
	var out []models.WorkflowDefinition
	for v := DraftVersion + 1; ; v++ {
		def, ok := s.definitions[id][v]
		if !ok {
			break
		}
		out = append(out, *def)
	}
	return out, nil
}

func (s *fakeStore) Put(_ context.Context, id string, version int, plan models.JSON) error {
	if s.plans[id] == nil {
		s.plans[id] = make(map[int]models.JSON)
	}
	s.plans[id][version] = plan
	return nil
}

func (s *fakeStore) DeleteByWorkflow(_ context.Context, id string) error {
	delete(s.plans, id)
	return nil
}

// definitionStore adapts fakeStore to the DefinitionStore interface, whose
// Create collides with WorkflowStore's.
type definitionStore struct{ *fakeStore }

func (d definitionStore) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	return d.CreateDefinition(ctx, def)
}

type openCatalog struct{}

func (openCatalog) IsAvailable(string) bool { return true }

func newTestManager(store *fakeStore) *Manager {
	templates := template.NewExprEvaluator(200 * time.Millisecond)
	conditions := condition.NewGojaEvaluator(200 * time.Millisecond)
	p := &planner.Planner{
		Templates:  templates,
		Conditions: conditions,
		Defaults: planner.Defaults{
			Retry:       definition.RetryPolicy{MaxAttempts: 3, BaseDelayMs: 1000, BackoffFactor: 2, Jitter: true},
			NodeTimeout: 30 * time.Second,
		},
	}
	return &Manager{
		Workflows:   store,
		Definitions: definitionStore{store},
		Plans:       store,
		Validator:   validation.NewPublishValidator(openCatalog{}, templates, conditions),
		Planner:     p,
		Cache:       planner.NewCache(p),
	}
}

func doc(extraNode string) map[string]interface{} {
	nodes := []interface{}{
		map[string]interface{}{
			"id":         "fetch",
			"actionType": "core.httpRequest",
			"edges":      []interface{}{map[string]interface{}{"targetNode": "store"}},
		},
		map[string]interface{}{
			"id":         "store",
			"actionType": "core.echo",
		},
	}
	if extraNode != "" {
		nodes = append(nodes, map[string]interface{}{
			"id":         extraNode,
			"actionType": "core.echo",
		})
	}
	return map[string]interface{}{
		"id":          "orders-sync",
		"displayName": "Orders Sync",
		"startNode":   "fetch",
		"nodes":       nodes,
	}
}

func TestSaveDraftCreatesWorkflowRow(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	checksum, err := m.SaveDraft(context.Background(), "orders-sync", doc(""), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, checksum)

	wf, err := store.FindByID(context.Background(), "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, wf.Status)
	assert.Equal(t, "Orders Sync", wf.DisplayName)

	draft, err := store.FindDraft(context.Background(), "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, checksum, draft.Checksum)
}

func TestSaveDraftRejectsIDMismatch(t *testing.T) {
	m := newTestManager(newFakeStore())

	d := doc("")
	d["id"] = "other-workflow"
	_, err := m.SaveDraft(context.Background(), "orders-sync", d, nil)
	assert.Error(t, err)
}

func TestPublishIsIdempotentOnChecksum(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)

	first, err := m.Publish(ctx, "orders-sync", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.False(t, first.WasExisting)
	assert.True(t, first.Activated)

	// Same content published again mints no new version.
	second, err := m.Publish(ctx, "orders-sync", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Version)
	assert.True(t, second.WasExisting)

	// A real edit moves to version 2.
	_, err = m.SaveDraft(ctx, "orders-sync", doc("notify"), nil)
	require.NoError(t, err)
	third, err := m.Publish(ctx, "orders-sync", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Version)
	assert.False(t, third.WasExisting)

	wf, err := store.FindByID(ctx, "orders-sync")
	require.NoError(t, err)
	require.NotNil(t, wf.CurrentVersion)
	assert.Equal(t, 2, *wf.CurrentVersion)
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)
	assert.True(t, wf.IsEnabled)
}

func TestPublishWithoutAutoActivateStages(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)

	outcome, err := m.Publish(ctx, "orders-sync", false, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Activated)

	wf, err := store.FindByID(ctx, "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusDraft, wf.Status)
	assert.Nil(t, wf.CurrentVersion)

	require.NoError(t, m.Activate(ctx, "orders-sync", outcome.Version))
	wf, err = store.FindByID(ctx, "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)
}

func TestPublishRefusesInvalidDraft(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	bad := doc("")
	bad["startNode"] = "ghost"
	_, err := m.SaveDraft(ctx, "orders-sync", bad, nil)
	require.NoError(t, err, "drafts may be structurally valid but unpublishable")

	_, err = m.Publish(ctx, "orders-sync", true, nil)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Result.Errors)

	latest, err := store.LatestVersion(ctx, "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, 0, latest, "refused publish mints no version")
}

func TestPublishWithoutDraft(t *testing.T) {
	m := newTestManager(newFakeStore())

	_, err := m.Publish(context.Background(), "orders-sync", true, nil)
	assert.ErrorIs(t, err, ErrNoDraft)
}

func TestPublishStoresCompiledPlan(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)
	outcome, err := m.Publish(ctx, "orders-sync", false, nil)
	require.NoError(t, err)

	plan := store.plans["orders-sync"][outcome.Version]
	require.NotNil(t, plan)
	assert.Equal(t, "fetch", plan["startNode"])
}

func TestArchiveAndReactivate(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)
	_, err = m.Publish(ctx, "orders-sync", true, nil)
	require.NoError(t, err)

	require.NoError(t, m.Archive(ctx, "orders-sync"))
	wf, _ := store.FindByID(ctx, "orders-sync")
	assert.Equal(t, models.WorkflowStatusArchived, wf.Status)
	assert.False(t, wf.IsEnabled)

	// Archiving twice is an illegal transition.
	err = m.Archive(ctx, "orders-sync")
	assert.True(t, models.IsStoreCode(err, models.CodeIllegalStateTransition))

	require.NoError(t, m.Reactivate(ctx, "orders-sync"))
	wf, _ = store.FindByID(ctx, "orders-sync")
	assert.Equal(t, models.WorkflowStatusActive, wf.Status)
	assert.True(t, wf.IsEnabled)
}

func TestDeleteOnlyDrafts(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)
	_, err = m.Publish(ctx, "orders-sync", true, nil)
	require.NoError(t, err)

	err = m.Delete(ctx, "orders-sync")
	assert.True(t, models.IsStoreCode(err, models.CodeIllegalStateTransition))

	_, err = m.SaveDraft(ctx, "scratch-pad", map[string]interface{}{
		"id": "scratch-pad", "displayName": "Scratch", "startNode": "a",
		"nodes": []interface{}{map[string]interface{}{"id": "a", "actionType": "core.echo"}},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "scratch-pad"))

	_, err = store.FindByID(ctx, "scratch-pad")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestActivateRejectsUnknownVersion(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	_, err := m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)

	err = m.Activate(ctx, "orders-sync", 7)
	assert.True(t, models.IsStoreCode(err, models.CodeIllegalStateTransition))

	err = m.Activate(ctx, "orders-sync", DraftVersion)
	assert.True(t, models.IsStoreCode(err, models.CodeIllegalStateTransition))
}

func TestValidateDraftPreview(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)
	ctx := context.Background()

	bad := doc("")
	bad["startNode"] = "ghost"
	_, err := m.SaveDraft(ctx, "orders-sync", bad, nil)
	require.NoError(t, err)

	preview, err := m.ValidateDraft(ctx, "orders-sync")
	require.NoError(t, err)
	assert.False(t, preview.Validation.IsValid)
	assert.Empty(t, preview.ExecutionOrder)

	latest, err := store.LatestVersion(ctx, "orders-sync")
	require.NoError(t, err)
	assert.Equal(t, 0, latest, "preview never publishes")

	_, err = m.SaveDraft(ctx, "orders-sync", doc(""), nil)
	require.NoError(t, err)

	preview, err = m.ValidateDraft(ctx, "orders-sync")
	require.NoError(t, err)
	assert.True(t, preview.Validation.IsValid)
	assert.Equal(t, []string{"fetch", "store"}, preview.ExecutionOrder)
}
