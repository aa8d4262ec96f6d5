package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"approval-workflow-service/internal/models"
)

// OrgRepository reads org units, users and the threshold table. These tables
// are owned by other services.
type OrgRepository struct {
	db *gorm.DB
}

// NewOrgRepository creates a new OrgRepository
func NewOrgRepository(db *gorm.DB) *OrgRepository {
	return &OrgRepository{db: db}
}

// ListOrgUnits retrieves every org unit
func (r *OrgRepository) ListOrgUnits(ctx context.Context) ([]models.OrgUnit, error) {
	var units []models.OrgUnit
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&units).Error
	return units, err
}

// GetUserByID retrieves a user with their additional org assignments
func (r *OrgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Preload("Assignments").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListThresholds retrieves the approval ceiling table
func (r *OrgRepository) ListThresholds(ctx context.Context) ([]models.RoleThreshold, error) {
	var rows []models.RoleThreshold
	err := r.db.WithContext(ctx).Order("entity_type ASC, role ASC").Find(&rows).Error
	return rows, err
}
