package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/table-service/database"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/middlewares"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/router"
	"github.com/yeremiapane/table-service/services"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	utils.InitLogger("warn", false)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type envelope struct {
	Status             bool            `json:"status"`
	Message            string          `json:"message"`
	Data               json.RawMessage `json:"data"`
	ShouldClearSession bool            `json:"shouldClearSession"`
}

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	hub   *hub.Hub
	token string
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	h := hub.New(hub.Options{PingInterval: time.Minute})
	locker := lock.NewMemoryLocker()
	engine := router.SetupRouter(router.Dependencies{
		Users:       services.NewUserService(db),
		Restaurants: services.NewRestaurantService(db),
		Tables:      services.NewTableService(db, h, "http://localhost:8080"),
		Sessions:    services.NewSessionService(db, h, locker, time.Hour),
		Requests:    services.NewRequestService(db, h, locker),
		Hub:         h,
		Issuer:      utils.NewTokenIssuer("integration-secret", time.Hour),
		Blacklist:   utils.NewTokenBlacklist(),
		Limiter:     middlewares.NewRateLimiter(1000, 1000),
	})

	ts := &testServer{t: t, srv: httptest.NewServer(engine), hub: h}
	t.Cleanup(func() {
		h.Close()
		ts.srv.Close()
		sqlDB.Close()
	})
	return ts
}

func (ts *testServer) do(method, path string, body interface{}, out interface{}) (int, envelope) {
	ts.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(ts.t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env
}

// anonymous runs fn without the staff token, the way a customer browser would.
func (ts *testServer) anonymous(fn func()) {
	token := ts.token
	ts.token = ""
	defer func() { ts.token = token }()
	fn()
}

func (ts *testServer) dialWS(query string) *websocket.Conn {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { conn.Close() })

	var status hub.Event
	require.NoError(ts.t, conn.ReadJSON(&status))
	require.Equal(ts.t, hub.EventConnectionStatus, status.Type)
	return conn
}

func nextEvent(t *testing.T, conn *websocket.Conn) hub.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev hub.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// TestEndToEndIntegration walks the main flow:
// register and log in, lay out a table, open a session from the QR page,
// file and serve a request, leave feedback, then end the session while a
// dashboard socket watches.
func TestEndToEndIntegration(t *testing.T) {
	ts := setupServer(t)
	restaurant := registerAndLogin(t, ts)
	table := createTableTest(t, ts, restaurant.ID)

	dashboard := ts.dialWS(fmt.Sprintf("clientType=admin&restaurantId=%d", restaurant.ID))

	var session models.TableSession
	ts.anonymous(func() {
		var verify services.VerifyResult
		code, _ := ts.do(http.MethodGet, fmt.Sprintf("/api/restaurants/%d/tables/%d/verify", restaurant.ID, table.ID), nil, &verify)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, verify.RequiresNewSession)

		code, _ = ts.do(http.MethodPost, fmt.Sprintf("/api/restaurants/%d/tables/%d/sessions", restaurant.ID, table.ID), nil, &session)
		require.Equal(t, http.StatusOK, code)
		require.NotEmpty(t, session.SessionID)
	})
	assert.Equal(t, hub.EventNewSession, nextEvent(t, dashboard).Type)

	served := serveRequestTest(t, ts, dashboard, table, session)
	feedbackTest(t, ts, served.ID)
	assert.Equal(t, hub.EventNewFeedback, nextEvent(t, dashboard).Type)

	// a pending request that the end of the session must clear
	var pending models.Request
	ts.anonymous(func() {
		code, _ := ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": session.SessionID, "type": models.RequestCheck,
		}, &pending)
		require.Equal(t, http.StatusOK, code)
	})
	assert.Equal(t, hub.EventNewRequest, nextEvent(t, dashboard).Type)

	var ended struct {
		UpdatedRequestsCount int `json:"updatedRequestsCount"`
	}
	code, _ := ts.do(http.MethodPost, fmt.Sprintf("/api/restaurants/%d/tables/%d/sessions/end", restaurant.ID, table.ID), gin.H{}, &ended)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, ended.UpdatedRequestsCount)

	ev := nextEvent(t, dashboard)
	assert.Equal(t, hub.EventEndSession, ev.Type)
	assert.Equal(t, hub.ReasonAdminEnded, ev.Reason)
	ev = nextEvent(t, dashboard)
	assert.Equal(t, hub.EventUpdateRequest, ev.Type)
	require.NotNil(t, ev.Request)
	assert.Equal(t, pending.ID, ev.Request.ID)
	assert.Equal(t, models.StatusCleared, ev.Request.Status)

	ts.anonymous(func() {
		code, env := ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": session.SessionID, "type": models.RequestWaiter,
		}, nil)
		assert.Equal(t, http.StatusForbidden, code)
		assert.True(t, env.ShouldClearSession)
	})
}

func registerAndLogin(t *testing.T, ts *testServer) models.Restaurant {
	var registered struct {
		User       models.User       `json:"user"`
		Restaurant models.Restaurant `json:"restaurant"`
	}
	code, env := ts.do(http.MethodPost, "/api/register", gin.H{
		"username": "owner", "password": "secret123", "restaurantName": "Bistro",
	}, &registered)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, "Bistro", registered.Restaurant.Name)

	code, _ = ts.do(http.MethodPost, "/api/register", gin.H{"username": "owner", "password": "secret123"}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.do(http.MethodPost, "/api/login", gin.H{"username": "owner", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var login struct {
		Token string `json:"token"`
	}
	code, _ = ts.do(http.MethodPost, "/api/login", gin.H{"username": "owner", "password": "secret123"}, &login)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, login.Token)
	ts.token = login.Token

	var me models.User
	code, _ = ts.do(http.MethodGet, "/api/user", nil, &me)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "owner", me.Username)

	return registered.Restaurant
}

func createTableTest(t *testing.T, ts *testServer, restaurantID uint) models.Table {
	var table models.Table
	code, env := ts.do(http.MethodPost, fmt.Sprintf("/api/restaurants/%d/tables", restaurantID), gin.H{
		"name": "Window 1", "position": gin.H{"x": 10, "y": 20, "width": 80, "height": 80, "shape": "round"},
	}, &table)
	require.Equal(t, http.StatusCreated, code, env.Message)
	assert.Equal(t, models.ShapeRound, table.Position.Shape)
	assert.True(t, strings.HasPrefix(table.QRCode, "data:image/png;base64,"))

	var tables []models.Table
	code, _ = ts.do(http.MethodGet, fmt.Sprintf("/api/restaurants/%d/tables", restaurantID), nil, &tables)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, tables, 1)

	code, _ = ts.do(http.MethodGet, fmt.Sprintf("/api/restaurants/%d/tables", restaurantID+1), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	return table
}

func serveRequestTest(t *testing.T, ts *testServer, dashboard *websocket.Conn, table models.Table, session models.TableSession) models.Request {
	var req models.Request
	ts.anonymous(func() {
		code, env := ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": session.SessionID, "type": models.RequestWater, "notes": "2 waters",
		}, &req)
		require.Equal(t, http.StatusOK, code, env.Message)
		assert.Equal(t, models.StatusPending, req.Status)

		code, _ = ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": session.SessionID, "type": models.RequestWater,
		}, nil)
		assert.Equal(t, http.StatusConflict, code)

		// customers may only cancel
		code, _ = ts.do(http.MethodPatch, fmt.Sprintf("/api/requests/%d", req.ID), gin.H{
			"tableId": table.ID, "sessionId": session.SessionID, "status": models.StatusCompleted,
		}, nil)
		assert.Equal(t, http.StatusForbidden, code)

		var mine []models.Request
		code, _ = ts.do(http.MethodGet, fmt.Sprintf("/api/requests?tableId=%d&sessionId=%s", table.ID, session.SessionID), nil, &mine)
		require.Equal(t, http.StatusOK, code)
		assert.Len(t, mine, 1)
	})
	ev := nextEvent(t, dashboard)
	assert.Equal(t, hub.EventNewRequest, ev.Type)
	assert.Equal(t, table.ID, ev.TableID)

	var board []models.Request
	code, _ := ts.do(http.MethodGet, fmt.Sprintf("/api/restaurants/%d/requests", table.RestaurantID), nil, &board)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, board, 1)

	for _, status := range []string{models.StatusInProgress, models.StatusCompleted} {
		code, env := ts.do(http.MethodPatch, fmt.Sprintf("/api/requests/%d", req.ID), gin.H{"status": status}, &req)
		require.Equal(t, http.StatusOK, code, env.Message)
		assert.Equal(t, status, req.Status)
		assert.Equal(t, hub.EventUpdateRequest, nextEvent(t, dashboard).Type)
	}
	assert.NotNil(t, req.CompletedAt)

	code, _ = ts.do(http.MethodPatch, fmt.Sprintf("/api/requests/%d", req.ID), gin.H{"status": models.StatusInProgress}, nil)
	assert.Equal(t, http.StatusConflict, code)
	return req
}

func feedbackTest(t *testing.T, ts *testServer, requestID uint) {
	ts.anonymous(func() {
		code, env := ts.do(http.MethodPost, "/api/feedback", gin.H{"requestId": requestID, "rating": 5, "comment": "great"}, nil)
		require.Equal(t, http.StatusOK, code, env.Message)

		code, _ = ts.do(http.MethodPost, "/api/feedback", gin.H{"requestId": requestID, "rating": 3}, nil)
		assert.Equal(t, http.StatusConflict, code)
	})
}

// TestSecondScanReplacesSession covers a second browser taking over a table.
func TestSecondScanReplacesSession(t *testing.T) {
	ts := setupServer(t)
	restaurant := registerAndLogin(t, ts)
	table := createTableTest(t, ts, restaurant.ID)
	sessionsPath := fmt.Sprintf("/api/restaurants/%d/tables/%d/sessions", restaurant.ID, table.ID)

	ts.anonymous(func() {
		var s1, s2, joined models.TableSession
		code, _ := ts.do(http.MethodPost, sessionsPath, nil, &s1)
		require.Equal(t, http.StatusOK, code)

		code, _ = ts.do(http.MethodPost, sessionsPath, gin.H{"joinExisting": true}, &joined)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, s1.SessionID, joined.SessionID)

		code, _ = ts.do(http.MethodPost, sessionsPath, nil, &s2)
		require.Equal(t, http.StatusOK, code)
		assert.NotEqual(t, s1.SessionID, s2.SessionID)

		code, env := ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": s1.SessionID, "type": models.RequestWaiter,
		}, nil)
		assert.Equal(t, http.StatusForbidden, code)
		assert.True(t, env.ShouldClearSession)

		var r2 models.Request
		code, _ = ts.do(http.MethodPost, "/api/requests", gin.H{
			"tableId": table.ID, "sessionId": s2.SessionID, "type": models.RequestWaiter,
		}, &r2)
		require.Equal(t, http.StatusOK, code)

		// the customer cancels, then the request is frozen
		code, _ = ts.do(http.MethodPatch, fmt.Sprintf("/api/requests/%d", r2.ID), gin.H{
			"tableId": table.ID, "sessionId": s2.SessionID, "status": models.StatusCleared,
		}, &r2)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.StatusCleared, r2.Status)

		var ended struct {
			UpdatedRequestsCount int `json:"updatedRequestsCount"`
		}
		code, _ = ts.do(http.MethodPost, sessionsPath+"/end", gin.H{"sessionId": s2.SessionID}, &ended)
		require.Equal(t, http.StatusOK, code)
		assert.Zero(t, ended.UpdatedRequestsCount)
	})

	code, _ := ts.do(http.MethodPatch, "/api/requests/1", gin.H{"status": models.StatusInProgress}, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := setupServer(t)
	registerAndLogin(t, ts)

	code, _ := ts.do(http.MethodPost, "/api/logout", nil, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.do(http.MethodGet, "/api/restaurants", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestWebsocketRejectsUnknownClientType(t *testing.T) {
	ts := setupServer(t)
	resp, err := http.Get(ts.srv.URL + "/ws?clientType=kitchen")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
