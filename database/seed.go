package database

import (
	"fmt"

	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	SeedUsername = "demo"
	SeedPassword = "demo1234"
	seedTables   = 4
)

// Seed creates a demo owner with one restaurant and a few tables. It does
// nothing once any user exists.
func Seed(db *gorm.DB, publicBaseURL string) error {
	var users int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return err
	}
	if users > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		owner := models.User{Username: SeedUsername, Email: "demo@example.com", Password: string(hashed), Role: models.RoleOwner}
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		restaurant := models.Restaurant{Name: "Demo Bistro", OwnerID: owner.ID}
		if err := tx.Create(&restaurant).Error; err != nil {
			return err
		}

		for i := 0; i < seedTables; i++ {
			table := models.Table{
				RestaurantID: restaurant.ID,
				Name:         fmt.Sprintf("Table %d", i+1),
				Position:     models.Position{X: float64(40 + i*120), Y: 40, Width: 80, Height: 80, Shape: models.ShapeSquare},
			}
			if err := tx.Create(&table).Error; err != nil {
				return err
			}
			qr, err := utils.GenerateTableQRDataURI(utils.TableURL(publicBaseURL, restaurant.ID, table.ID))
			if err != nil {
				return err
			}
			if err := tx.Model(&table).Update("qr_code", qr).Error; err != nil {
				return err
			}
		}

		utils.InfoLogger.Printf("Seeded demo restaurant %d with %d tables (login %s/%s)", restaurant.ID, seedTables, SeedUsername, SeedPassword)
		return nil
	})
}
