package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-service/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestMigrateCreatesAllTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))

	for _, m := range []interface{}{
		&models.User{}, &models.Restaurant{}, &models.Table{},
		&models.TableSession{}, &models.Request{}, &models.Feedback{},
	} {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, db.Migrator().HasColumn(&models.Table{}, "pos_x"))
	// running twice must be harmless
	require.NoError(t, Migrate(db))
}

func TestSeedRunsOnce(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))

	require.NoError(t, Seed(db, "http://localhost:8080"))
	require.NoError(t, Seed(db, "http://localhost:8080"))

	var users, tables int64
	require.NoError(t, db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, db.Model(&models.Table{}).Count(&tables).Error)
	assert.Equal(t, int64(1), users)
	assert.Equal(t, int64(seedTables), tables)

	var table models.Table
	require.NoError(t, db.First(&table).Error)
	assert.Contains(t, table.QRCode, "data:image/png;base64,")
}
