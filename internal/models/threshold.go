package models

import "time"

// RoleThreshold is one row of the approval ceiling table: the largest amount
// a role may approve for an entity category. Unbounded rows ignore Ceiling.
type RoleThreshold struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Role       Role       `gorm:"type:varchar(50);not null;uniqueIndex:idx_role_entity" json:"role"`
	EntityType EntityType `gorm:"type:varchar(50);not null;uniqueIndex:idx_role_entity" json:"entityType"`
	Ceiling    *float64   `gorm:"type:decimal(15,2)" json:"ceiling,omitempty"`
	Unbounded  bool       `gorm:"default:false" json:"unbounded"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for RoleThreshold
func (RoleThreshold) TableName() string {
	return "approval_thresholds"
}
