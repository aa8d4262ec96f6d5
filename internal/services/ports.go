package services

import (
	"context"

	"github.com/google/uuid"

	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
)

// EntityStatusPort updates the approvable business object once its workflow
// reaches a terminal state
type EntityStatusPort interface {
	OnApproved(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error
	OnRejected(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error
}

// NotificationPort delivers "notify X" instructions. Delivery is best effort.
type NotificationPort interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// UserDirectory looks up the acting user
type UserDirectory interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ScopeResolver returns the org units a user may act within
type ScopeResolver interface {
	ScopeOf(ctx context.Context, user *models.User) (rbac.Scope, error)
}

// HierarchyProvider returns the current org hierarchy snapshot
type HierarchyProvider interface {
	Current() *rbac.OrgHierarchy
}
