package seeders

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"approval-workflow-service/internal/models"
)

// SeedThresholds inserts the default ceiling table. Rows that already exist
// are left alone so operator edits survive restarts.
func SeedThresholds(db *gorm.DB, rows []models.RoleThreshold, logger *logrus.Logger) error {
	seeded := 0
	for i := range rows {
		row := rows[i]
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "role"}, {Name: "entity_type"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			logger.WithError(result.Error).WithFields(logrus.Fields{
				"role":        row.Role,
				"entity_type": row.EntityType,
			}).Error("Failed to seed threshold")
			return result.Error
		}
		seeded += int(result.RowsAffected)
	}

	logger.WithField("inserted", seeded).Info("Approval thresholds seeded")
	return nil
}
