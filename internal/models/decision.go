package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StepStatus is the state of a single approval step
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
	// StepSkipped is reserved; no chain rule produces it yet.
	StepSkipped StepStatus = "SKIPPED"
)

// ApprovalStep is one position in a workflow's chain
type ApprovalStep struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_step_workflow_order" json:"workflowId"`
	Order             int        `gorm:"column:step_order;not null;uniqueIndex:idx_step_workflow_order" json:"order"`
	Role              Role       `gorm:"type:varchar(50);not null" json:"role"`
	Status            StepStatus `gorm:"type:varchar(20);not null;default:'PENDING'" json:"status"`
	ApprovedBy        *uuid.UUID `gorm:"type:uuid" json:"approvedBy,omitempty"`
	DecidedAt         *time.Time `json:"decidedAt,omitempty"`
	Remark            *string    `gorm:"type:text" json:"remark,omitempty"`
	RequiredThreshold *float64   `gorm:"type:decimal(15,2)" json:"requiredThreshold,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for ApprovalStep
func (ApprovalStep) TableName() string {
	return "approval_steps"
}

// ApprovalAuditLog represents an audit trail entry
type ApprovalAuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	WorkflowID uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	EventType  string         `gorm:"type:varchar(50);not null;index" json:"eventType"`
	ActorID    *uuid.UUID     `gorm:"type:uuid" json:"actorId,omitempty"`
	ActorRole  string         `gorm:"type:varchar(50)" json:"actorRole,omitempty"`
	StepOrder  int            `gorm:"default:0" json:"stepOrder"`
	Metadata   datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for ApprovalAuditLog
func (ApprovalAuditLog) TableName() string {
	return "approval_audit_log"
}

// AuditEventType constants
const (
	AuditEventCreated   = "created"
	AuditEventApproved  = "approved"
	AuditEventRejected  = "rejected"
	AuditEventCompleted = "completed"
)
