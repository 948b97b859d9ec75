package models

import (
	"time"

	"github.com/google/uuid"
)

type WorkflowExecution struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID        string     `gorm:"size:100;not null;index;uniqueIndex:idx_workflow_request" json:"workflow_id"`
	WorkflowVersion   int        `gorm:"not null" json:"workflow_version"`
	WorkflowRequestID string     `gorm:"size:200;not null;uniqueIndex:idx_workflow_request;index" json:"workflow_request_id"`
	Status            string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	TriggerPayload    JSON       `gorm:"type:jsonb" json:"trigger_payload,omitempty"`
	ContextSnapshot   JSON       `gorm:"type:jsonb" json:"context_snapshot,omitempty"`
	SnapshotRef       *string    `gorm:"size:512" json:"snapshot_ref,omitempty"`
	CorrelationID     string     `gorm:"size:100;index" json:"correlation_id"`
	TenantID          *string    `gorm:"size:100;index" json:"tenant_id,omitempty"`
	ParentExecutionID *uuid.UUID `gorm:"type:uuid;index" json:"parent_execution_id,omitempty"`
	RequesterID       *string    `gorm:"size:100" json:"requester_id,omitempty"`
	RequesterEmail    *string    `gorm:"size:255" json:"requester_email,omitempty"`
	RequesterName     *string    `gorm:"size:255" json:"requester_name,omitempty"`
	ErrorMessage      *string    `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	Workflow         Workflow           `gorm:"foreignKey:WorkflowID" json:"-"`
	ParentExecution  *WorkflowExecution `gorm:"foreignKey:ParentExecutionID" json:"-"`
	ActionExecutions []ActionExecution  `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

// ActionExecution is one attempt of one node. A node that retries leaves one
// row per attempt; the row with the maximum attempt is authoritative.
type ActionExecution struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_execution_node_attempt" json:"execution_id"`
	NodeID      string     `gorm:"size:100;not null;uniqueIndex:idx_execution_node_attempt" json:"node_id"`
	ActionType  string     `gorm:"size:100;not null" json:"action_type"`
	Status      string     `gorm:"size:30;not null" json:"status"`
	Attempt     int        `gorm:"not null;default:1;uniqueIndex:idx_execution_node_attempt" json:"attempt"`
	RetryCount  int        `gorm:"not null;default:0" json:"retry_count"`
	Parameters  JSON       `gorm:"type:jsonb" json:"parameters,omitempty"`
	Outputs     JSON       `gorm:"type:jsonb" json:"outputs,omitempty"`
	Error       JSON       `gorm:"type:jsonb" json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	Execution WorkflowExecution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (ActionExecution) TableName() string {
	return "action_executions"
}

// WorkflowResourceLink records an external resource created by an action.
// The (system_name, resource_type, resource_id) tuple is globally unique so
// re-runs can detect work already done by another execution.
type WorkflowResourceLink struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ExecutionID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"execution_id"`
	ActionExecutionID *uuid.UUID `gorm:"type:uuid" json:"action_execution_id,omitempty"`
	SystemName        string     `gorm:"size:100;not null;uniqueIndex:idx_resource_tuple" json:"system_name"`
	ResourceType      string     `gorm:"size:100;not null;uniqueIndex:idx_resource_tuple" json:"resource_type"`
	ResourceID        string     `gorm:"size:255;not null;uniqueIndex:idx_resource_tuple" json:"resource_id"`
	ExternalURL       *string    `gorm:"size:1024" json:"external_url,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`

	Execution WorkflowExecution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (WorkflowResourceLink) TableName() string {
	return "workflow_resource_links"
}

type WorkflowExecutionHierarchy struct {
	ParentExecutionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"parent_execution_id"`
	ChildExecutionID  uuid.UUID `gorm:"type:uuid;primaryKey;index" json:"child_execution_id"`
	ParentNodeID      string    `gorm:"size:100;not null" json:"parent_node_id"`
	CreatedAt         time.Time `json:"created_at"`

	ParentExecution WorkflowExecution `gorm:"foreignKey:ParentExecutionID;constraint:OnDelete:CASCADE" json:"-"`
	ChildExecution  WorkflowExecution `gorm:"foreignKey:ChildExecutionID" json:"-"`
}

func (WorkflowExecutionHierarchy) TableName() string {
	return "workflow_execution_hierarchy"
}

// ExecutionEvent is the append-only audit trail of one execution.
type ExecutionEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionID uuid.UUID `gorm:"type:uuid;not null;index" json:"execution_id"`
	Level       string    `gorm:"size:10;not null" json:"level"`
	Category    string    `gorm:"size:50;not null" json:"category"`
	Payload     JSON      `gorm:"type:jsonb" json:"payload,omitempty"`
	Timestamp   time.Time `gorm:"not null;index" json:"timestamp"`

	Execution WorkflowExecution `gorm:"foreignKey:ExecutionID" json:"-"`
}

func (ExecutionEvent) TableName() string {
	return "execution_events"
}
