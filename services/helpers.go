package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

// Clock returns the current time. Services hold one so tests can move time.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// notFoundOr turns gorm's missing-row error into a NotFound AppError and
// wraps anything else.
func notFoundOr(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NotFound("%s %v not found", what, id)
	}
	return fmt.Errorf("load %s %v: %w", what, id, err)
}

func tableLockKey(tableID uint) string {
	return fmt.Sprintf("table:%d", tableID)
}

func loadTable(ctx context.Context, db *gorm.DB, tableID uint) (models.Table, error) {
	var table models.Table
	if err := db.WithContext(ctx).First(&table, tableID).Error; err != nil {
		return table, notFoundOr(err, "table", tableID)
	}
	return table, nil
}
