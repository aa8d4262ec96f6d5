package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// WorkflowStatus is the lifecycle state of an approval workflow
type WorkflowStatus string

const (
	WorkflowPending  WorkflowStatus = "PENDING"
	WorkflowApproved WorkflowStatus = "APPROVED"
	WorkflowRejected WorkflowStatus = "REJECTED"
)

// IsTerminal returns true once the workflow can no longer change
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowApproved || s == WorkflowRejected
}

// ApprovalWorkflow is one approval run for a business entity. The chain is
// captured at creation and never changes afterwards.
type ApprovalWorkflow struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	EntityType          EntityType     `gorm:"type:varchar(50);not null;index:idx_workflow_entity" json:"entityType"`
	EntityID            string         `gorm:"type:varchar(255);not null;index:idx_workflow_entity" json:"entityId"`
	RequestedBy         uuid.UUID      `gorm:"type:uuid;not null;index" json:"requestedBy"`
	OrgUnitID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"orgUnitId"`
	Amount              *float64       `gorm:"type:decimal(15,2)" json:"amount,omitempty"`
	Status              WorkflowStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CurrentApproverRole *Role          `gorm:"type:varchar(50);index" json:"currentApproverRole,omitempty"`
	ChainRoles          pq.StringArray `gorm:"type:text[]" json:"chainRoles"`
	Metadata            datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	Version             int            `gorm:"not null;default:1" json:"version"` // Optimistic locking
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`

	Steps []ApprovalStep `gorm:"foreignKey:WorkflowID" json:"steps,omitempty"`
}

// TableName returns the table name for ApprovalWorkflow
func (ApprovalWorkflow) TableName() string {
	return "approval_workflows"
}

// IsTerminal returns true if the workflow reached APPROVED or REJECTED
func (w *ApprovalWorkflow) IsTerminal() bool {
	return w.Status.IsTerminal()
}

// ActiveStep returns the lowest-order pending step, or nil when none is left
func (w *ApprovalWorkflow) ActiveStep() *ApprovalStep {
	var active *ApprovalStep
	for i := range w.Steps {
		step := &w.Steps[i]
		if step.Status != StepPending {
			continue
		}
		if active == nil || step.Order < active.Order {
			active = step
		}
	}
	return active
}

// StepDecidedBy returns the decided step acted on by userID, or nil
func (w *ApprovalWorkflow) StepDecidedBy(userID uuid.UUID) *ApprovalStep {
	for i := range w.Steps {
		step := &w.Steps[i]
		if step.Status != StepPending && step.ApprovedBy != nil && *step.ApprovedBy == userID {
			return step
		}
	}
	return nil
}

// NextPendingStep returns the pending step with the smallest order strictly
// greater than order
func (w *ApprovalWorkflow) NextPendingStep(order int) *ApprovalStep {
	var next *ApprovalStep
	for i := range w.Steps {
		step := &w.Steps[i]
		if step.Status != StepPending || step.Order <= order {
			continue
		}
		if next == nil || step.Order < next.Order {
			next = step
		}
	}
	return next
}

// Chain returns the chain snapshot as roles
func (w *ApprovalWorkflow) Chain() []Role {
	roles := make([]Role, len(w.ChainRoles))
	for i, r := range w.ChainRoles {
		roles[i] = Role(r)
	}
	return roles
}
