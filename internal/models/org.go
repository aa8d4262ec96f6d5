package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgUnitType is a level of the organizational hierarchy
type OrgUnitType string

const (
	OrgUnitPMO     OrgUnitType = "PMO"
	OrgUnitArea    OrgUnitType = "AREA"
	OrgUnitProject OrgUnitType = "PROJECT"
	OrgUnitZone    OrgUnitType = "ZONE"
)

// OrgUnit is a node of the organizational tree. It is owned by the org
// management service; this service only reads it.
type OrgUnit struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string      `gorm:"type:varchar(255);not null" json:"name"`
	Type      OrgUnitType `gorm:"type:varchar(20);not null;index" json:"type"`
	ParentID  *uuid.UUID  `gorm:"type:uuid;index" json:"parentId,omitempty"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for OrgUnit
func (OrgUnit) TableName() string {
	return "org_units"
}

// User is the view of a staff member the approval engine consumes
type User struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name             string              `gorm:"type:varchar(255)" json:"name,omitempty"`
	Role             Role                `gorm:"type:varchar(50);not null;index" json:"role"`
	PrimaryOrgUnitID uuid.UUID           `gorm:"type:uuid;not null;index" json:"primaryOrgUnitId"`
	Assignments      []UserOrgAssignment `gorm:"foreignKey:UserID" json:"assignments,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// UserOrgAssignment grants a user scope over an additional org subtree
type UserOrgAssignment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_org_assignment" json:"userId"`
	OrgUnitID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_org_assignment" json:"orgUnitId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for UserOrgAssignment
func (UserOrgAssignment) TableName() string {
	return "user_org_assignments"
}
