package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flowline-ai/flowline/internal/domain/models"
)

// ErrNotFound is returned when an action type has no registration.
var ErrNotFound = fmt.Errorf("action type not registered")

// Invocation carries everything a handler needs for one attempt.
type Invocation struct {
	ExecutionID   uuid.UUID
	WorkflowID    string
	NodeID        string
	CorrelationID string
	Principal     *models.Principal
	Parameters    map[string]interface{}
}

// LocalFunc is an in-process action handler.
type LocalFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// RemoteDescriptor points an action type at a connector endpoint.
type RemoteDescriptor struct {
	ConnectorID string
	EndpointURL string
}

// Registration is the tagged handler: exactly one of Local or Remote is set.
type Registration struct {
	ActionType      string
	Enabled         bool
	Local           LocalFunc
	Remote          *RemoteDescriptor
	ParameterSchema map[string]interface{}
	OutputSchema    map[string]interface{}
}

// Registry is the single lookup surface for the planner, the publish
// validator, and the conductor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Registration
	invoker  *RemoteInvoker
}

func NewRegistry(invoker *RemoteInvoker) *Registry {
	return &Registry{
		handlers: make(map[string]*Registration),
		invoker:  invoker,
	}
}

func (r *Registry) Register(reg *Registration) error {
	if reg.ActionType == "" {
		return fmt.Errorf("registration has no action type")
	}
	if (reg.Local == nil) == (reg.Remote == nil) {
		return fmt.Errorf("action %q must have exactly one of a local handler or a remote descriptor", reg.ActionType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[reg.ActionType] = reg
	return nil
}

func (r *Registry) Resolve(actionType string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, actionType)
	}
	return reg, nil
}

func (r *Registry) IsAvailable(actionType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[actionType]
	return ok && reg.Enabled
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// CatalogEntry is the externally visible description of one registration.
type CatalogEntry struct {
	ActionType      string                 `json:"actionType"`
	Enabled         bool                   `json:"enabled"`
	Kind            string                 `json:"kind"` // local or remote
	ConnectorID     string                 `json:"connectorId,omitempty"`
	ParameterSchema map[string]interface{} `json:"parameterSchema,omitempty"`
	OutputSchema    map[string]interface{} `json:"outputSchema,omitempty"`
}

func (r *Registry) Catalog() []CatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]CatalogEntry, 0, len(r.handlers))
	for _, reg := range r.handlers {
		entry := CatalogEntry{
			ActionType:      reg.ActionType,
			Enabled:         reg.Enabled,
			Kind:            "local",
			ParameterSchema: reg.ParameterSchema,
			OutputSchema:    reg.OutputSchema,
		}
		if reg.Remote != nil {
			entry.Kind = "remote"
			entry.ConnectorID = reg.Remote.ConnectorID
		}
		entries = append(entries, entry)
	}
	return entries
}

// Invoke dispatches to the local handler or the remote connector. A local
// handler returning a Go error is mapped to a retriable failure; handlers
// signal permanent failures through the Result status.
func (r *Registry) Invoke(ctx context.Context, actionType string, inv *Invocation) (*Result, error) {
	reg, err := r.Resolve(actionType)
	if err != nil {
		return nil, err
	}
	if !reg.Enabled {
		return nil, fmt.Errorf("action %q is disabled", actionType)
	}

	if reg.Local != nil {
		result, err := reg.Local(ctx, inv)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return Retriable("action %s: %v", actionType, err), nil
		}
		return result, nil
	}

	if r.invoker == nil {
		return nil, fmt.Errorf("action %q is remote but no invoker is configured", actionType)
	}
	return r.invoker.Invoke(ctx, reg.Remote, actionType, inv)
}
