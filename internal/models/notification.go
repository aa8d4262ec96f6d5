package models

import "github.com/google/uuid"

// NotificationKind tells recipients what happened to a workflow
type NotificationKind string

const (
	NotificationApprovalNeeded   NotificationKind = "approval_needed"
	NotificationApprovalApproved NotificationKind = "approval_approved"
	NotificationApprovalRejected NotificationKind = "approval_rejected"
)

// Notification is a "notify X" instruction emitted on workflow transitions.
// Exactly one of RecipientRole or RecipientUserID is set.
type Notification struct {
	Kind            NotificationKind `json:"kind"`
	RecipientRole   *Role            `json:"recipientRole,omitempty"`
	RecipientUserID *uuid.UUID       `json:"recipientUserId,omitempty"`
	WorkflowID      uuid.UUID        `json:"workflowId"`
	EntityType      EntityType       `json:"entityType"`
	EntityID        string           `json:"entityId"`
	OrgUnitID       uuid.UUID        `json:"orgUnitId"`
}
