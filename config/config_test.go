package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SESSION_TTL_SECONDS", "")
	t.Setenv("REDIS_ADDR", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Second, cfg.Server.WSPingInterval)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_TTL_SECONDS", "120")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PUBLIC_BASE_URL", "https://menu.example/")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Session.TTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://menu.example", cfg.Server.PublicBaseURL)
}

func TestLoadLogAndSeedFlags(t *testing.T) {
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("DB_SEED", "true")

	cfg := Load()
	assert.True(t, cfg.Log.JSON)
	assert.True(t, cfg.Database.Seed)

	t.Setenv("DB_SEED", "not-a-bool")
	assert.False(t, Load().Database.Seed)
}

func TestInitDBRejectsUnknownDriver(t *testing.T) {
	_, err := InitDB(DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}

func TestInitDBSQLite(t *testing.T) {
	db, err := InitDB(DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Exec("SELECT 1").Error)
}
