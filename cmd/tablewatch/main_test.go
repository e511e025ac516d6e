package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-service/database"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/router"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// lockedBuffer collects command output written from agent goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTableCommandNeedsSession(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"table", "--restaurant", "1", "--table", "2"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SessionID")
}

func TestBoardCommandNeedsRestaurant(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"board"})

	require.Error(t, cmd.Execute())
}

func TestTableCommandPrintsRequestsUntilSessionEnds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	h := hub.New(hub.Options{PingInterval: time.Minute})
	locker := lock.NewMemoryLocker()
	users := services.NewUserService(db)
	tables := services.NewTableService(db, h, "http://localhost")
	sessions := services.NewSessionService(db, h, locker, time.Hour)
	requests := services.NewRequestService(db, h, locker)

	_, restaurant, err := users.Register(ctx, services.RegisterInput{Username: "owner", Password: "secret123"})
	require.NoError(t, err)
	name := "T1"
	table, err := tables.Create(ctx, restaurant.ID, services.TableInput{Name: &name})
	require.NoError(t, err)
	session, err := sessions.CreateSession(ctx, table.ID)
	require.NoError(t, err)
	_, err = requests.CreateRequest(ctx, session, services.CreateRequestInput{Type: models.RequestWater})
	require.NoError(t, err)

	srv := httptest.NewServer(router.SetupRouter(router.Dependencies{
		Users:       users,
		Restaurants: services.NewRestaurantService(db),
		Tables:      tables,
		Sessions:    sessions,
		Requests:    requests,
		Hub:         h,
		Issuer:      utils.NewTokenIssuer("secret", time.Hour),
		Blacklist:   utils.NewTokenBlacklist(),
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
		sqlDB.Close()
	})

	cmd := newRootCmd()
	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"table",
		"--server", srv.URL,
		"--restaurant", fmt.Sprint(restaurant.ID),
		"--table", fmt.Sprint(table.ID),
		"--session", session.SessionID,
	})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		s := out.String()
		return h.Count() == 1 && strings.Contains(s, "1 request(s)") && strings.Contains(s, "water")
	}, 2*time.Second, 10*time.Millisecond)

	_, err = sessions.EndSession(ctx, table.ID, session.SessionID, hub.ReasonAdminEnded)
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tablewatch did not exit after the session ended")
	}
	assert.Contains(t, out.String(), "session ended (admin_ended)")
}
