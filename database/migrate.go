package database

import (
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for every entity. Order follows the
// foreign keys: restaurant -> table -> {session, request} -> feedback.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Restaurant{},
		&models.Table{},
		&models.TableSession{},
		&models.Request{},
		&models.Feedback{},
	)
	if err != nil {
		return err
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	return nil
}
