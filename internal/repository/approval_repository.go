package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"approval-workflow-service/internal/models"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("version conflict - record was modified by another request")
	ErrStepAlreadyDecided = errors.New("approval step has already been decided")
)

// ApprovalRepositoryInterface is the store the approval state machine runs on.
// Implementations must run WithTransaction callbacks atomically.
type ApprovalRepositoryInterface interface {
	CreateWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error
	GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	UpdateWorkflowState(ctx context.Context, workflow *models.ApprovalWorkflow) error
	DecideStep(ctx context.Context, step *models.ApprovalStep) error
	ListPendingWorkflows(ctx context.Context, role models.Role, orgUnitIDs []uuid.UUID) ([]models.ApprovalWorkflow, error)
	ListWorkflowsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error)
	CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error
	GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalAuditLog, error)
	WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error
}

// ApprovalRepository handles database operations for approvals
type ApprovalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

var _ ApprovalRepositoryInterface = (*ApprovalRepository)(nil)

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_order ASC")
}

// WithTransaction runs fn inside a database transaction
func (r *ApprovalRepository) WithTransaction(ctx context.Context, fn func(txRepo ApprovalRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ApprovalRepository{db: tx})
	})
}

// --- Workflow Methods ---

// CreateWorkflow inserts a workflow together with its steps
func (r *ApprovalRepository) CreateWorkflow(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	return r.db.WithContext(ctx).Create(workflow).Error
}

// GetWorkflowByID retrieves a workflow with its ordered steps
func (r *ApprovalRepository) GetWorkflowByID(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	var workflow models.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("id = ?", id).
		First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &workflow, nil
}

// GetWorkflowForUpdate retrieves a workflow and holds a row lock on it until
// the surrounding transaction ends
func (r *ApprovalRepository) GetWorkflowForUpdate(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	var workflow models.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Steps are loaded separately so the lock clause stays on the workflow row.
	if err := r.db.WithContext(ctx).
		Where("workflow_id = ?", id).
		Order("step_order ASC").
		Find(&workflow.Steps).Error; err != nil {
		return nil, err
	}
	return &workflow, nil
}

// UpdateWorkflowState persists status, current approver and completion with
// optimistic locking. Only a PENDING workflow at the expected version is updated.
func (r *ApprovalRepository) UpdateWorkflowState(ctx context.Context, workflow *models.ApprovalWorkflow) error {
	oldVersion := workflow.Version
	now := time.Now()

	var currentRole interface{}
	if workflow.CurrentApproverRole != nil {
		currentRole = string(*workflow.CurrentApproverRole)
	}
	var completedAt interface{}
	if workflow.CompletedAt != nil {
		completedAt = *workflow.CompletedAt
	}

	result := r.db.WithContext(ctx).Model(&models.ApprovalWorkflow{}).
		Where("id = ? AND version = ? AND status = ?", workflow.ID, oldVersion, models.WorkflowPending).
		Updates(map[string]interface{}{
			"status":                workflow.Status,
			"current_approver_role": currentRole,
			"completed_at":          completedAt,
			"version":               oldVersion + 1,
			"updated_at":            now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	workflow.Version = oldVersion + 1
	workflow.UpdatedAt = now
	return nil
}

// DecideStep records the decision on a step that is still PENDING
func (r *ApprovalRepository) DecideStep(ctx context.Context, step *models.ApprovalStep) error {
	result := r.db.WithContext(ctx).Model(&models.ApprovalStep{}).
		Where("id = ? AND status = ?", step.ID, models.StepPending).
		Updates(map[string]interface{}{
			"status":      step.Status,
			"approved_by": step.ApprovedBy,
			"decided_at":  step.DecidedAt,
			"remark":      step.Remark,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStepAlreadyDecided
	}
	return nil
}

// ListPendingWorkflows retrieves pending workflows waiting on role inside the
// given org units, most recent first
func (r *ApprovalRepository) ListPendingWorkflows(ctx context.Context, role models.Role, orgUnitIDs []uuid.UUID) ([]models.ApprovalWorkflow, error) {
	var workflows []models.ApprovalWorkflow
	if len(orgUnitIDs) == 0 {
		return workflows, nil
	}

	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("status = ? AND current_approver_role = ?", models.WorkflowPending, role).
		Where("org_unit_id IN ?", orgUnitIDs).
		Order("created_at DESC").
		Find(&workflows).Error
	return workflows, err
}

// ListWorkflowsByEntity retrieves every workflow ever run for an entity, most
// recent first
func (r *ApprovalRepository) ListWorkflowsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error) {
	var workflows []models.ApprovalWorkflow
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Find(&workflows).Error
	return workflows, err
}

// --- Audit Methods ---

// CreateAuditLog creates an audit log entry
func (r *ApprovalRepository) CreateAuditLog(ctx context.Context, log *models.ApprovalAuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// GetWorkflowHistory retrieves the audit trail of a workflow
func (r *ApprovalRepository) GetWorkflowHistory(ctx context.Context, workflowID uuid.UUID) ([]models.ApprovalAuditLog, error) {
	var logs []models.ApprovalAuditLog
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
