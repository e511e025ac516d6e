package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-service/database"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recorder) Broadcast(ev hub.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 0
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) last() hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db         *gorm.DB
	events     *recorder
	clock      *fakeClock
	sessions   *SessionService
	requests   *RequestService
	tables     *TableService
	owner      models.User
	restaurant models.Restaurant
	table      models.Table
}

const testTTL = time.Hour

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:     db,
		events: &recorder{},
		clock:  &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	locker := lock.NewMemoryLocker()
	f.sessions = NewSessionService(db, f.events, locker, testTTL)
	f.sessions.Now = f.clock.Now
	f.requests = NewRequestService(db, f.events, locker)
	f.requests.Now = f.clock.Now
	f.tables = NewTableService(db, f.events, "http://localhost:8080")

	var err error
	f.owner, f.restaurant, err = NewUserService(db).Register(context.Background(), RegisterInput{
		Username: "owner", Password: "secret123", RestaurantName: "Bistro",
	})
	require.NoError(t, err)

	name := "T1"
	f.table, err = f.tables.Create(context.Background(), f.restaurant.ID, TableInput{Name: &name})
	require.NoError(t, err)
	f.events.reset()
	return f
}
