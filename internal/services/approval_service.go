package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
	"approval-workflow-service/internal/repository"
)

const sideEffectTimeout = 10 * time.Second

// ApprovalServiceDeps are the collaborators of the approval state machine.
// EntityStatus and Notifier may be nil, in which case the side effect is skipped.
type ApprovalServiceDeps struct {
	Repo         repository.ApprovalRepositoryInterface
	Users        UserDirectory
	Chains       *ChainBuilder
	Guard        *AuthorizationGuard
	Scopes       ScopeResolver
	EntityStatus EntityStatusPort
	Notifier     NotificationPort
	Logger       *logrus.Logger
}

// ApprovalService owns the lifecycle of approval workflows
type ApprovalService struct {
	repo         repository.ApprovalRepositoryInterface
	users        UserDirectory
	chains       *ChainBuilder
	guard        *AuthorizationGuard
	scopes       ScopeResolver
	entityStatus EntityStatusPort
	notifier     NotificationPort
	logger       *logrus.Entry

	// sideEffects tracks in-flight entity status callbacks and notifications
	sideEffects sync.WaitGroup
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(deps ApprovalServiceDeps) *ApprovalService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	return &ApprovalService{
		repo:         deps.Repo,
		users:        deps.Users,
		chains:       deps.Chains,
		guard:        deps.Guard,
		scopes:       deps.Scopes,
		entityStatus: deps.EntityStatus,
		notifier:     deps.Notifier,
		logger:       logger.WithField("component", "approval-service"),
	}
}

// CreateApprovalInput represents input for starting an approval workflow
type CreateApprovalInput struct {
	EntityType  models.EntityType      `json:"entityType"`
	EntityID    string                 `json:"entityId"`
	RequestedBy uuid.UUID              `json:"requestedBy"`
	OrgUnitID   uuid.UUID              `json:"orgUnitId"`
	Amount      *float64               `json:"amount,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// CreateApprovalResult reports whether a workflow was started. Required is
// false when the category needs no approval; nothing is persisted then.
type CreateApprovalResult struct {
	Required      bool                     `json:"required"`
	WorkflowID    *uuid.UUID               `json:"workflowId,omitempty"`
	FirstApprover *models.Role             `json:"firstApprover,omitempty"`
	Workflow      *models.ApprovalWorkflow `json:"workflow,omitempty"`
}

// DecideInput represents an approver's decision. StepOrder, when set, must
// match the active step or the decision is treated as already processed.
type DecideInput struct {
	WorkflowID uuid.UUID       `json:"workflowId"`
	ActorID    uuid.UUID       `json:"actorId"`
	Decision   models.Decision `json:"decision"`
	Remark     string          `json:"remark,omitempty"`
	StepOrder  int             `json:"stepOrder,omitempty"`
}

// DecideResult is the workflow state after a decision
type DecideResult struct {
	Status       models.WorkflowStatus    `json:"status"`
	NextApprover *models.Role             `json:"nextApprover,omitempty"`
	Workflow     *models.ApprovalWorkflow `json:"workflow"`
}

// CreateApproval builds the chain for an entity and persists the workflow
// with its first step active
func (s *ApprovalService) CreateApproval(ctx context.Context, input CreateApprovalInput) (*CreateApprovalResult, error) {
	if strings.TrimSpace(input.EntityID) == "" {
		return nil, invalidState("entity id is required")
	}
	if input.RequestedBy == uuid.Nil {
		return nil, invalidState("requester is required")
	}

	chain, err := s.chains.Build(input.EntityType, input.Amount, input.OrgUnitID)
	if err != nil {
		s.logConfigurationError(err, logrus.Fields{
			"entity_type": input.EntityType,
			"org_unit_id": input.OrgUnitID,
		})
		return nil, err
	}

	if len(chain) == 0 {
		return &CreateApprovalResult{Required: false}, nil
	}

	var metadata datatypes.JSON
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}

	firstRole := chain[0].Role
	workflow := &models.ApprovalWorkflow{
		ID:                  uuid.New(),
		EntityType:          input.EntityType,
		EntityID:            input.EntityID,
		RequestedBy:         input.RequestedBy,
		OrgUnitID:           input.OrgUnitID,
		Amount:              input.Amount,
		Status:              models.WorkflowPending,
		CurrentApproverRole: &firstRole,
		Metadata:            metadata,
		Version:             1,
	}
	for i, link := range chain {
		workflow.ChainRoles = append(workflow.ChainRoles, string(link.Role))
		workflow.Steps = append(workflow.Steps, models.ApprovalStep{
			ID:                uuid.New(),
			WorkflowID:        workflow.ID,
			Order:             i + 1,
			Role:              link.Role,
			Status:            models.StepPending,
			RequiredThreshold: link.Threshold,
		})
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repository.ApprovalRepositoryInterface) error {
		return txRepo.CreateWorkflow(ctx, workflow)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"workflow_id":    workflow.ID,
		"entity_type":    workflow.EntityType,
		"entity_id":      workflow.EntityID,
		"first_approver": firstRole,
		"chain_length":   len(chain),
	}).Info("Approval workflow created")

	s.createAuditLog(ctx, workflow, models.AuditEventCreated, &input.RequestedBy, "", 0, map[string]interface{}{
		"chain": workflow.ChainRoles,
	})

	s.dispatch(func() {
		s.notify(ctx, workflow, models.NotificationApprovalNeeded, &firstRole, nil)
	})

	return &CreateApprovalResult{
		Required:      true,
		WorkflowID:    &workflow.ID,
		FirstApprover: &firstRole,
		Workflow:      workflow,
	}, nil
}

// Decide applies an APPROVE or REJECT on the active step. Checks and mutation
// run in one transaction with the workflow row locked, so a concurrent second
// decision observes the first and fails as already processed.
func (s *ApprovalService) Decide(ctx context.Context, input DecideInput) (*DecideResult, error) {
	if !input.Decision.IsValid() {
		return nil, invalidState("unknown decision %q", input.Decision)
	}

	var (
		workflow *models.ApprovalWorkflow
		actor    *models.User
		decided  models.ApprovalStep
	)

	err := s.repo.WithTransaction(ctx, func(txRepo repository.ApprovalRepositoryInterface) error {
		wf, err := txRepo.GetWorkflowForUpdate(ctx, input.WorkflowID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound("workflow %s not found", input.WorkflowID)
			}
			return err
		}

		if wf.Status != models.WorkflowPending {
			return invalidState("workflow already processed (%s)", wf.Status).withWorkflow(wf.ID)
		}

		user, err := s.users.GetUserByID(ctx, input.ActorID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound("user %s not found", input.ActorID).withWorkflow(wf.ID)
			}
			return err
		}

		active := wf.ActiveStep()
		if active == nil {
			return invalidState("workflow has no active step").withWorkflow(wf.ID)
		}
		if input.StepOrder != 0 && input.StepOrder != active.Order {
			return invalidState("step %d already processed", input.StepOrder).withWorkflow(wf.ID)
		}
		if active.Role != user.Role {
			if prior := wf.StepDecidedBy(user.ID); prior != nil {
				return invalidState("step %d already processed", prior.Order).withWorkflow(wf.ID)
			}
			return unauthorized("step %d requires %s", active.Order, active.Role).
				withWorkflow(wf.ID).
				withRole(active.Role)
		}

		if err := s.guard.CanAct(ctx, user, wf, input.Decision); err != nil {
			return err
		}

		now := time.Now().UTC()
		active.ApprovedBy = &input.ActorID
		active.DecidedAt = &now
		if remark := strings.TrimSpace(input.Remark); remark != "" {
			active.Remark = &remark
		}

		if input.Decision == models.DecisionReject {
			active.Status = models.StepRejected
			wf.Status = models.WorkflowRejected
			wf.CurrentApproverRole = nil
			wf.CompletedAt = &now
		} else {
			active.Status = models.StepApproved
			if next := wf.NextPendingStep(active.Order); next != nil {
				role := next.Role
				wf.CurrentApproverRole = &role
			} else {
				wf.Status = models.WorkflowApproved
				wf.CurrentApproverRole = nil
				wf.CompletedAt = &now
			}
		}

		if err := txRepo.DecideStep(ctx, active); err != nil {
			if errors.Is(err, repository.ErrStepAlreadyDecided) {
				return invalidState("step %d already processed", active.Order).withWorkflow(wf.ID)
			}
			return fmt.Errorf("failed to record decision: %w", err)
		}

		if err := txRepo.UpdateWorkflowState(ctx, wf); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return invalidState("workflow already processed").withWorkflow(wf.ID)
			}
			return fmt.Errorf("failed to update workflow: %w", err)
		}

		workflow = wf
		actor = user
		decided = *active
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"workflow_id": workflow.ID,
		"actor_id":    actor.ID,
		"decision":    input.Decision,
		"step_order":  decided.Order,
		"status":      workflow.Status,
	}).Info("Approval decision recorded")

	s.afterDecision(ctx, workflow, actor, decided)

	return &DecideResult{
		Status:       workflow.Status,
		NextApprover: workflow.CurrentApproverRole,
		Workflow:     workflow,
	}, nil
}

// afterDecision runs the side effects of a committed decision. Audit entries
// are written before returning; the entity callback and the notification run
// in the background. Failures are logged and never undo the transition.
func (s *ApprovalService) afterDecision(ctx context.Context, workflow *models.ApprovalWorkflow, actor *models.User, step models.ApprovalStep) {
	metadata := map[string]interface{}{}
	if step.Remark != nil {
		metadata["remark"] = *step.Remark
	}

	switch {
	case step.Status == models.StepRejected:
		s.createAuditLog(ctx, workflow, models.AuditEventRejected, &actor.ID, actor.Role, step.Order, metadata)
		s.dispatch(func() {
			s.updateEntityStatus(ctx, workflow, actor.ID, false)
			s.notify(ctx, workflow, models.NotificationApprovalRejected, nil, &workflow.RequestedBy)
		})

	case workflow.Status == models.WorkflowApproved:
		s.createAuditLog(ctx, workflow, models.AuditEventApproved, &actor.ID, actor.Role, step.Order, metadata)
		s.createAuditLog(ctx, workflow, models.AuditEventCompleted, &actor.ID, actor.Role, step.Order, nil)
		s.dispatch(func() {
			s.updateEntityStatus(ctx, workflow, actor.ID, true)
			s.notify(ctx, workflow, models.NotificationApprovalApproved, nil, &workflow.RequestedBy)
		})

	default:
		next := workflow.CurrentApproverRole
		s.createAuditLog(ctx, workflow, models.AuditEventApproved, &actor.ID, actor.Role, step.Order, metadata)
		s.dispatch(func() {
			s.notify(ctx, workflow, models.NotificationApprovalNeeded, next, nil)
		})
	}
}

// dispatch runs fn on a tracked goroutine
func (s *ApprovalService) dispatch(fn func()) {
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		fn()
	}()
}

// Drain waits for in-flight side effects to finish or for ctx to end
func (s *ApprovalService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sideEffects.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetWorkflow retrieves a workflow with its steps
func (s *ApprovalService) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error) {
	workflow, err := s.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("workflow %s not found", id)
		}
		return nil, err
	}
	return workflow, nil
}

// GetAuditTrail retrieves the audit entries of a workflow, oldest first
func (s *ApprovalService) GetAuditTrail(ctx context.Context, id uuid.UUID) ([]models.ApprovalAuditLog, error) {
	if _, err := s.GetWorkflow(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetWorkflowHistory(ctx, id)
}

// PendingFor lists the pending workflows waiting on role within scope, most
// recent first. An empty scope sees nothing.
func (s *ApprovalService) PendingFor(ctx context.Context, role models.Role, scope rbac.Scope) ([]models.ApprovalWorkflow, error) {
	if scope.IsEmpty() {
		return []models.ApprovalWorkflow{}, nil
	}
	return s.repo.ListPendingWorkflows(ctx, role, scope.IDs())
}

// PendingForUser resolves the user's role and scope and lists their queue
func (s *ApprovalService) PendingForUser(ctx context.Context, userID uuid.UUID) ([]models.ApprovalWorkflow, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("user %s not found", userID)
		}
		return nil, err
	}

	scope, err := s.scopes.ScopeOf(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.PendingFor(ctx, user.Role, scope)
}

// HistoryFor lists every workflow run for an entity, most recent first
func (s *ApprovalService) HistoryFor(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error) {
	if !entityType.IsValid() {
		return nil, invalidState("unknown entity type %q", entityType)
	}
	return s.repo.ListWorkflowsByEntity(ctx, entityType, entityID)
}

// --- Helper Methods ---

func (s *ApprovalService) logConfigurationError(err error, fields logrus.Fields) {
	if errors.Is(err, ErrConfiguration) {
		s.logger.WithError(err).WithFields(fields).Error("Approval chain could not be built")
	}
}

func (s *ApprovalService) createAuditLog(ctx context.Context, workflow *models.ApprovalWorkflow, eventType string, actorID *uuid.UUID, actorRole models.Role, stepOrder int, metadata map[string]interface{}) {
	var metadataJSON datatypes.JSON
	if len(metadata) > 0 {
		raw, _ := json.Marshal(metadata)
		metadataJSON = datatypes.JSON(raw)
	}

	entry := &models.ApprovalAuditLog{
		ID:         uuid.New(),
		WorkflowID: workflow.ID,
		EventType:  eventType,
		ActorID:    actorID,
		ActorRole:  string(actorRole),
		StepOrder:  stepOrder,
		Metadata:   metadataJSON,
	}

	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"workflow_id": workflow.ID,
			"event_type":  eventType,
		}).Warn("Failed to write audit log")
	}
}

func (s *ApprovalService) updateEntityStatus(ctx context.Context, workflow *models.ApprovalWorkflow, approverID uuid.UUID, approved bool) {
	if s.entityStatus == nil {
		return
	}

	// The transition is committed; the caller going away must not cancel the callback.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	var err error
	if approved {
		err = s.entityStatus.OnApproved(callCtx, workflow.EntityType, workflow.EntityID, approverID)
	} else {
		err = s.entityStatus.OnRejected(callCtx, workflow.EntityType, workflow.EntityID, approverID)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"workflow_id": workflow.ID,
			"entity_type": workflow.EntityType,
			"entity_id":   workflow.EntityID,
			"approved":    approved,
		}).Error("Failed to update entity status")
	}
}

func (s *ApprovalService) notify(ctx context.Context, workflow *models.ApprovalWorkflow, kind models.NotificationKind, role *models.Role, userID *uuid.UUID) {
	if s.notifier == nil {
		return
	}

	notification := models.Notification{
		Kind:            kind,
		RecipientRole:   role,
		RecipientUserID: userID,
		WorkflowID:      workflow.ID,
		EntityType:      workflow.EntityType,
		EntityID:        workflow.EntityID,
		OrgUnitID:       workflow.OrgUnitID,
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if err := s.notifier.Notify(callCtx, notification); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"workflow_id": workflow.ID,
			"kind":        kind,
		}).Warn("Failed to send notification")
	}
}
