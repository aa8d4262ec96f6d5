package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"approval-workflow-service/internal/middleware"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/services"
)

// ApprovalEngine is the part of ApprovalService the HTTP layer depends on
type ApprovalEngine interface {
	CreateApproval(ctx context.Context, input services.CreateApprovalInput) (*services.CreateApprovalResult, error)
	Decide(ctx context.Context, input services.DecideInput) (*services.DecideResult, error)
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.ApprovalWorkflow, error)
	GetAuditTrail(ctx context.Context, id uuid.UUID) ([]models.ApprovalAuditLog, error)
	PendingForUser(ctx context.Context, userID uuid.UUID) ([]models.ApprovalWorkflow, error)
	HistoryFor(ctx context.Context, entityType models.EntityType, entityID string) ([]models.ApprovalWorkflow, error)
}

// ApprovalHandler handles HTTP requests for approvals
type ApprovalHandler struct {
	service ApprovalEngine
	logger  *logrus.Logger
}

// NewApprovalHandler creates a new ApprovalHandler
func NewApprovalHandler(service ApprovalEngine, logger *logrus.Logger) *ApprovalHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalHandler{
		service: service,
		logger:  logger,
	}
}

// CreateApprovalRequest is the body of POST /approvals
type CreateApprovalRequest struct {
	EntityType models.EntityType      `json:"entityType" binding:"required"`
	EntityID   string                 `json:"entityId" binding:"required"`
	OrgUnitID  uuid.UUID              `json:"orgUnitId" binding:"required"`
	Amount     *float64               `json:"amount,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DecisionRequest is the body of the approve and reject endpoints
type DecisionRequest struct {
	Remark    string `json:"remark"`
	StepOrder int    `json:"stepOrder"`
}

// CreateApproval starts an approval workflow for an entity
// @Summary Create approval workflow
// @Tags Approvals
// @Accept json
// @Produce json
// @Param request body CreateApprovalRequest true "Create Approval"
// @Success 201 {object} services.CreateApprovalResult
// @Failure 404 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/approvals [post]
func (h *ApprovalHandler) CreateApproval(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.service.CreateApproval(c.Request.Context(), services.CreateApprovalInput{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		RequestedBy: userID,
		OrgUnitID:   req.OrgUnitID,
		Amount:      req.Amount,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result,
	})
}

// Approve approves the active step of a workflow
// @Summary Approve workflow step
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param request body DecisionRequest false "Decision"
// @Success 200 {object} services.DecideResult
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/approvals/{id}/approve [post]
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, models.DecisionApprove)
}

// Reject rejects a workflow at its active step
// @Summary Reject workflow
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param request body DecisionRequest false "Decision"
// @Success 200 {object} services.DecideResult
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/approvals/{id}/reject [post]
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, models.DecisionReject)
}

func (h *ApprovalHandler) decide(c *gin.Context, decision models.Decision) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	workflowID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req DecisionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.Decide(c.Request.Context(), services.DecideInput{
		WorkflowID: workflowID,
		ActorID:    userID,
		Decision:   decision,
		Remark:     req.Remark,
		StepOrder:  req.StepOrder,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetWorkflow retrieves a workflow with its steps
// @Summary Get approval workflow
// @Tags Approvals
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} models.ApprovalWorkflow
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/approvals/{id} [get]
func (h *ApprovalHandler) GetWorkflow(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	workflow, err := h.service.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    workflow,
	})
}

// GetAuditTrail lists the audit entries of a workflow
// @Summary Get workflow audit trail
// @Tags Approvals
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {array} models.ApprovalAuditLog
// @Failure 404 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/approvals/{id}/audit [get]
func (h *ApprovalHandler) GetAuditTrail(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	entries, err := h.service.GetAuditTrail(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    entries,
		"total":   len(entries),
	})
}

// ListPending lists the workflows waiting on the caller
// @Summary List my pending approvals
// @Tags Approvals
// @Produce json
// @Success 200 {array} models.ApprovalWorkflow
// @Security BearerAuth
// @Router /api/v1/approvals/pending [get]
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	workflows, err := h.service.PendingForUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    workflows,
		"total":   len(workflows),
	})
}

// ListEntityHistory lists every workflow run for an entity
// @Summary List approval history of an entity
// @Tags Approvals
// @Produce json
// @Param entityType path string true "Entity type (expense, task, safeTransaction, payrollRun)"
// @Param entityId path string true "Entity ID"
// @Success 200 {array} models.ApprovalWorkflow
// @Failure 409 {object} map[string]interface{}
// @Security BearerAuth
// @Router /api/v1/entities/{entityType}/{entityId}/approvals [get]
func (h *ApprovalHandler) ListEntityHistory(c *gin.Context) {
	entityType := models.EntityType(c.Param("entityType"))
	entityID := c.Param("entityId")

	workflows, err := h.service.HistoryFor(c.Request.Context(), entityType, entityID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    workflows,
		"total":   len(workflows),
	})
}

// writeError renders an engine error. Configuration errors are logged and
// hidden from the caller.
func (h *ApprovalHandler) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)

	body := gin.H{
		"code":    code,
		"message": err.Error(),
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Approval request failed")
		body["message"] = "An internal error occurred"
	}

	if appErr, ok := services.AsApprovalError(err); ok && status != http.StatusInternalServerError {
		body["message"] = appErr.Message
		if appErr.WorkflowID != nil {
			body["workflowId"] = appErr.WorkflowID
		}
		if appErr.RequiredRole != nil {
			body["requiredRole"] = appErr.RequiredRole
		}
		if appErr.RequiredThreshold != nil {
			body["requiredThreshold"] = appErr.RequiredThreshold
		}
	}

	c.JSON(status, gin.H{
		"success": false,
		"error":   body,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, services.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden, "UNAUTHORIZED"
	case errors.Is(err, services.ErrThresholdExceeded):
		return http.StatusForbidden, "THRESHOLD_EXCEEDED"
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.GetString(middleware.ContextUserID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_USER",
				"message": "invalid user_id",
			},
		})
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "BAD_REQUEST",
			"message": message,
		},
	})
}
