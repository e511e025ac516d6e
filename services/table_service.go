package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

type TableService struct {
	DB            *gorm.DB
	Hub           hub.Broadcaster
	PublicBaseURL string
}

func NewTableService(db *gorm.DB, b hub.Broadcaster, publicBaseURL string) *TableService {
	return &TableService{DB: db, Hub: b, PublicBaseURL: publicBaseURL}
}

func (s *TableService) List(ctx context.Context, restaurantID uint) ([]models.Table, error) {
	tables := []models.Table{}
	err := s.DB.WithContext(ctx).Where("restaurant_id = ?", restaurantID).Order("id").Find(&tables).Error
	return tables, err
}

func (s *TableService) Get(ctx context.Context, restaurantID, tableID uint) (models.Table, error) {
	var table models.Table
	err := s.DB.WithContext(ctx).Where("id = ? AND restaurant_id = ?", tableID, restaurantID).First(&table).Error
	if err != nil {
		return table, notFoundOr(err, "table", tableID)
	}
	return table, nil
}

type TableInput struct {
	Name     *string
	Position *models.Position
}

func validatePosition(p *models.Position) error {
	if p == nil {
		return nil
	}
	if p.Shape == "" {
		p.Shape = models.ShapeSquare
	}
	if p.Shape != models.ShapeSquare && p.Shape != models.ShapeRound {
		return utils.Validation("shape must be square or round")
	}
	if p.Width < 0 || p.Height < 0 {
		return utils.Validation("width and height must not be negative")
	}
	return nil
}

// Create adds a table and stores the QR code that points customers at it.
func (s *TableService) Create(ctx context.Context, restaurantID uint, in TableInput) (models.Table, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return models.Table{}, utils.Validation("table name is required")
	}
	if err := validatePosition(in.Position); err != nil {
		return models.Table{}, err
	}

	table := models.Table{
		RestaurantID: restaurantID,
		Name:         strings.TrimSpace(*in.Name),
		Position:     models.Position{Width: 80, Height: 80, Shape: models.ShapeSquare},
	}
	if in.Position != nil {
		table.Position = *in.Position
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&table).Error; err != nil {
			return err
		}
		qr, err := utils.GenerateTableQRDataURI(utils.TableURL(s.PublicBaseURL, restaurantID, table.ID))
		if err != nil {
			return fmt.Errorf("render qr code: %w", err)
		}
		table.QRCode = qr
		return tx.Model(&table).Update("qr_code", qr).Error
	})
	if err != nil {
		return models.Table{}, err
	}

	s.Hub.Broadcast(hub.TableEvent(hub.EventUpdateTable, table))
	utils.InfoLogger.Printf("New table created: %s (restaurant=%d)", table.Name, restaurantID)
	return table, nil
}

func (s *TableService) Update(ctx context.Context, restaurantID, tableID uint, in TableInput) (models.Table, error) {
	table, err := s.Get(ctx, restaurantID, tableID)
	if err != nil {
		return table, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return models.Table{}, utils.Validation("table name cannot be empty")
		}
		table.Name = name
	}
	if in.Position != nil {
		if err := validatePosition(in.Position); err != nil {
			return models.Table{}, err
		}
		table.Position = *in.Position
	}
	if err := s.DB.WithContext(ctx).Save(&table).Error; err != nil {
		return models.Table{}, err
	}

	s.Hub.Broadcast(hub.TableEvent(hub.EventUpdateTable, table))
	return table, nil
}

// Delete removes a table with its sessions, requests and their feedback.
// The cascade is done explicitly so it holds on SQLite without foreign keys.
func (s *TableService) Delete(ctx context.Context, restaurantID, tableID uint) error {
	table, err := s.Get(ctx, restaurantID, tableID)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id IN (?)",
			tx.Model(&models.Request{}).Select("id").Where("table_id = ?", tableID),
		).Delete(&models.Feedback{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&models.Request{}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_id = ?", tableID).Delete(&models.TableSession{}).Error; err != nil {
			return err
		}
		return tx.Delete(&table).Error
	})
	if err != nil {
		return err
	}

	s.Hub.Broadcast(hub.TableEvent(hub.EventDeleteTable, table))
	utils.InfoLogger.Printf("Table %d deleted", table.ID)
	return nil
}

// QRPNG renders the table's QR code as a PNG.
func (s *TableService) QRPNG(ctx context.Context, restaurantID, tableID uint) ([]byte, error) {
	if _, err := s.Get(ctx, restaurantID, tableID); err != nil {
		return nil, err
	}
	return utils.GenerateTableQR(utils.TableURL(s.PublicBaseURL, restaurantID, tableID))
}
