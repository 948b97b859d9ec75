package models

import (
	"time"
)

// Workflow is the mutable metadata record. The executable content lives in
// immutable WorkflowDefinition versions.
type Workflow struct {
	ID             string      `gorm:"size:100;primaryKey" json:"id"`
	DisplayName    string      `gorm:"size:255;not null" json:"display_name"`
	Description    *string     `gorm:"type:text" json:"description,omitempty"`
	Status         string      `gorm:"size:20;not null;default:draft;index" json:"status"`
	CurrentVersion *int        `json:"current_version,omitempty"`
	IsEnabled      bool        `gorm:"not null;default:false" json:"is_enabled"`
	Tags           StringArray `gorm:"type:text[]" json:"tags"`
	ActivatedAt    *time.Time  `json:"activated_at,omitempty"`
	ArchivedAt     *time.Time  `json:"archived_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`

	Versions   []WorkflowDefinition `gorm:"foreignKey:WorkflowID" json:"-"`
	Executions []WorkflowExecution  `gorm:"foreignKey:WorkflowID" json:"-"`
}

func (Workflow) TableName() string {
	return "workflows"
}

// WorkflowDefinition is one immutable published version of a workflow.
// Version 0 is the mutable draft copy. Publish looks up (workflow_id,
// checksum) among published versions to make re-publishing identical content
// idempotent; the draft row shares the checksum of whatever it last held, so
// the pair is indexed but not unique.
type WorkflowDefinition struct {
	WorkflowID     string    `gorm:"size:100;primaryKey;index:idx_workflow_checksum" json:"workflow_id"`
	Version        int       `gorm:"primaryKey" json:"version"`
	DefinitionJSON JSON      `gorm:"type:jsonb;not null" json:"definition_json"`
	Checksum       string    `gorm:"size:64;not null;index:idx_workflow_checksum" json:"checksum"`
	CreatedBy      *string   `gorm:"size:100" json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	Workflow Workflow `gorm:"foreignKey:WorkflowID" json:"-"`
}

func (WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}

// WorkflowPlan caches the compiled plan per definition version. It can always
// be regenerated from the definition.
type WorkflowPlan struct {
	WorkflowID string    `gorm:"size:100;primaryKey" json:"workflow_id"`
	Version    int       `gorm:"primaryKey" json:"version"`
	PlanJSON   JSON      `gorm:"type:jsonb;not null" json:"plan_json"`
	CreatedAt  time.Time `json:"created_at"`
}

func (WorkflowPlan) TableName() string {
	return "workflow_plans"
}
