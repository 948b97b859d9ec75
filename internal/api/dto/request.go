package dto

import "github.com/flowline-ai/flowline/internal/domain/models"

// ExecuteRequest starts (or re-finds) a workflow execution. requestId is the
// idempotency key; the engine generates one when absent.
type ExecuteRequest struct {
	RequestID string            `json:"requestId,omitempty" validate:"omitempty,max=200"`
	Principal *models.Principal `json:"principal,omitempty"`
	Trigger   models.JSON       `json:"trigger,omitempty"`
	Version   *int              `json:"version,omitempty" validate:"omitempty,min=0"`
	Priority  *int              `json:"priority,omitempty"`
	TenantID  *string           `json:"tenantId,omitempty" validate:"omitempty,max=100"`
}

// ExecuteResponse is shared by the 202 (new) and 200 (existing) cases.
type ExecuteResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	StatusURL   string `json:"statusUrl"`
}

// SaveDraftRequest carries the raw definition document; schema checks happen
// in the definition parser, so the body here is free-form JSON.
type SaveDraftRequest struct {
	Definition map[string]interface{} `json:"definition" validate:"required"`
}

type PublishRequest struct {
	AutoActivate bool `json:"autoActivate"`
}

type ActivateRequest struct {
	Version int `json:"version" validate:"required,min=1"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}
