package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"approval-workflow-service/internal/models"
)

// EntityStatusHandler updates the approval status of one kind of business object
type EntityStatusHandler interface {
	MarkApproved(ctx context.Context, entityID string, approverID uuid.UUID) error
	MarkRejected(ctx context.Context, entityID string, approverID uuid.UUID) error
}

// EntityStatusHandlers holds one handler per entity type. Adding an entity
// type means adding a field here and an arm in handlerFor.
type EntityStatusHandlers struct {
	Expense         EntityStatusHandler
	Task            EntityStatusHandler
	SafeTransaction EntityStatusHandler
	PayrollRun      EntityStatusHandler
}

// EntityStatusDispatcher routes terminal workflow outcomes to the service
// owning the entity
type EntityStatusDispatcher struct {
	handlers EntityStatusHandlers
}

// NewEntityStatusDispatcher creates a dispatcher. Every entity type must have
// a handler.
func NewEntityStatusDispatcher(handlers EntityStatusHandlers) (*EntityStatusDispatcher, error) {
	d := &EntityStatusDispatcher{handlers: handlers}
	for _, entityType := range models.AllEntityTypes() {
		h, err := d.handlerFor(entityType)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("missing status handler for entity type %s", entityType)
		}
	}
	return d, nil
}

func (d *EntityStatusDispatcher) handlerFor(entityType models.EntityType) (EntityStatusHandler, error) {
	switch entityType {
	case models.EntityExpense:
		return d.handlers.Expense, nil
	case models.EntityTask:
		return d.handlers.Task, nil
	case models.EntitySafeTransaction:
		return d.handlers.SafeTransaction, nil
	case models.EntityPayrollRun:
		return d.handlers.PayrollRun, nil
	default:
		return nil, fmt.Errorf("no status handler for entity type %q", entityType)
	}
}

// OnApproved marks the entity approved
func (d *EntityStatusDispatcher) OnApproved(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error {
	h, err := d.handlerFor(entityType)
	if err != nil {
		return err
	}
	if h == nil {
		return errors.New("status handler not configured")
	}
	return h.MarkApproved(ctx, entityID, approverID)
}

// OnRejected marks the entity rejected
func (d *EntityStatusDispatcher) OnRejected(ctx context.Context, entityType models.EntityType, entityID string, approverID uuid.UUID) error {
	h, err := d.handlerFor(entityType)
	if err != nil {
		return err
	}
	if h == nil {
		return errors.New("status handler not configured")
	}
	return h.MarkRejected(ctx, entityID, approverID)
}
