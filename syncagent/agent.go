// Package syncagent keeps a client's view of a table (or a whole restaurant
// dashboard) in step with the server. It listens on the hub socket, treats
// every relevant event as a cue to refetch over HTTP, and stops for good once
// its table session ends.
package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateEnded        State = "ended"
)

var (
	// ErrSessionEnded is returned by Run once the table session is over.
	ErrSessionEnded = errors.New("table session ended")
	// ErrGaveUp is returned by Run after the last reconnect attempt failed.
	ErrGaveUp = errors.New("gave up reconnecting")
)

type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL      string
	ClientType   string
	RestaurantID uint
	TableID      uint
	SessionID    string
	// Token authenticates admin agents against the dashboard endpoints.
	Token string

	PingInterval         time.Duration
	RevalidateInterval   time.Duration
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	OnStateChange func(State)
	OnRequests    func([]models.Request)
	OnEvent       func(hub.Event)
	// OnEnded receives the reason the session ended.
	OnEnded func(reason string)
}

func (c *Config) setDefaults() {
	if c.ClientType == "" {
		c.ClientType = hub.ClientCustomer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.RevalidateInterval <= 0 {
		c.RevalidateInterval = 10 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Agent is one client's live link to the server.
type Agent struct {
	cfg Config

	mu        sync.RWMutex
	state     State
	sessionID string
	requests  []models.Request
	stale     bool
	endReason string

	// fetchMu serializes refetches so an older response never lands last.
	fetchMu sync.Mutex
	ended   chan struct{}
	endOnce sync.Once
}

func New(cfg Config) (*Agent, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("syncagent: BaseURL is required")
	}
	switch cfg.ClientType {
	case hub.ClientCustomer:
		if cfg.RestaurantID == 0 || cfg.TableID == 0 || cfg.SessionID == "" {
			return nil, errors.New("syncagent: customer agents need RestaurantID, TableID and SessionID")
		}
	case hub.ClientAdmin:
		if cfg.RestaurantID == 0 {
			return nil, errors.New("syncagent: admin agents need RestaurantID")
		}
	default:
		return nil, fmt.Errorf("syncagent: unknown client type %q", cfg.ClientType)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Agent{
		cfg:       cfg,
		state:     StateIdle,
		sessionID: cfg.SessionID,
		ended:     make(chan struct{}),
	}, nil
}

func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// SessionID is empty once the session has ended.
func (a *Agent) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

// Requests returns the last fetched requests.
func (a *Agent) Requests() []models.Request {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Request, len(a.requests))
	copy(out, a.requests)
	return out
}

// Stale reports whether an event invalidated the cache and the refetch has
// not landed yet.
func (a *Agent) Stale() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stale
}

func (a *Agent) EndReason() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.endReason
}

func (a *Agent) log() *logrus.Entry {
	return utils.InfoLogger.WithFields(logrus.Fields{
		"client_type":   a.cfg.ClientType,
		"restaurant_id": a.cfg.RestaurantID,
		"table_id":      a.cfg.TableID,
	})
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == s || a.state == StateEnded {
		a.mu.Unlock()
		return
	}
	a.state = s
	a.mu.Unlock()

	a.log().WithField("state", s).Debug("sync agent state changed")
	if a.cfg.OnStateChange != nil {
		a.cfg.OnStateChange(s)
	}
}

// end drops all session state. There is no way back.
func (a *Agent) end(reason string) {
	a.endOnce.Do(func() {
		a.mu.Lock()
		a.state = StateEnded
		a.sessionID = ""
		a.requests = nil
		a.stale = false
		a.endReason = reason
		a.mu.Unlock()
		close(a.ended)

		a.log().WithField("reason", reason).Info("table session ended")
		if a.cfg.OnStateChange != nil {
			a.cfg.OnStateChange(StateEnded)
		}
		if a.cfg.OnEnded != nil {
			a.cfg.OnEnded(reason)
		}
	})
}

func (a *Agent) isEnded() bool {
	select {
	case <-a.ended:
		return true
	default:
		return false
	}
}

func (a *Agent) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.ReconnectBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = a.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.MaxReconnectAttempts)), ctx)
}

// Run connects and keeps the agent in sync until ctx is cancelled, the
// session ends, or reconnecting is abandoned.
func (a *Agent) Run(ctx context.Context) error {
	if a.isEnded() {
		return ErrSessionEnded
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.ended:
			cancel()
		case <-ctx.Done():
		}
	}()

	if a.cfg.ClientType == hub.ClientCustomer {
		go a.revalidateLoop(ctx)
	}

	bo := a.newBackOff(ctx)
	a.setState(StateConnecting)
	for {
		err := a.connectAndServe(ctx, bo)
		if a.isEnded() {
			return ErrSessionEnded
		}
		if ctx.Err() != nil {
			a.setState(StateDisconnected)
			return ctx.Err()
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			a.setState(StateDisconnected)
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		a.log().WithError(err).WithField("retry_in", wait.String()).Warn("hub connection lost")
		a.setState(StateReconnecting)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func (a *Agent) wsURL() (string, error) {
	u, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"

	q := url.Values{}
	q.Set("clientType", a.cfg.ClientType)
	if sid := a.SessionID(); sid != "" {
		q.Set("sessionId", sid)
	}
	if a.cfg.RestaurantID != 0 {
		q.Set("restaurantId", strconv.FormatUint(uint64(a.cfg.RestaurantID), 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connectAndServe holds one socket until it drops.
func (a *Agent) connectAndServe(ctx context.Context, bo backoff.BackOff) error {
	target, err := a.wsURL()
	if err != nil {
		return err
	}
	conn, _, err := a.cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	defer conn.Close()

	bo.Reset()
	a.setState(StateConnected)
	a.log().Info("connected to hub")

	// Anything may have changed while we were away.
	a.refresh(ctx)

	g, gctx := errgroup.WithContext(ctx)
	var writeMu sync.Mutex
	g.Go(func() error {
		<-gctx.Done()
		writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		writeMu.Unlock()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.PingInterval)
		defer ticker.Stop()
		ping, _ := json.Marshal(map[string]string{"type": hub.EventPing})
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				err := conn.WriteMessage(websocket.TextMessage, ping)
				writeMu.Unlock()
				if err != nil {
					return fmt.Errorf("send ping: %w", err)
				}
			}
		}
	})
	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			var ev hub.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				a.log().Debugf("ignoring malformed hub message: %v", err)
				continue
			}
			a.handleEvent(gctx, ev)
			if a.isEnded() {
				return ErrSessionEnded
			}
		}
	})
	return g.Wait()
}

func (a *Agent) relevant(ev hub.Event) bool {
	if ev.RestaurantID != 0 && a.cfg.RestaurantID != 0 && ev.RestaurantID != a.cfg.RestaurantID {
		return false
	}
	if a.cfg.ClientType == hub.ClientCustomer && ev.TableID != 0 && ev.TableID != a.cfg.TableID {
		return false
	}
	return true
}

func (a *Agent) handleEvent(ctx context.Context, ev hub.Event) {
	if ev.Type == hub.EventConnectionStatus || !a.relevant(ev) {
		return
	}
	if a.cfg.OnEvent != nil {
		a.cfg.OnEvent(ev)
	}

	if a.cfg.ClientType == hub.ClientCustomer {
		switch ev.Type {
		case hub.EventEndSession:
			if ev.TableID == a.cfg.TableID && (ev.SessionID == "" || ev.SessionID == a.SessionID()) {
				reason := ev.Reason
				if reason == "" {
					reason = hub.ReasonAdminEnded
				}
				a.end(reason)
				return
			}
		case hub.EventDeleteTable:
			if ev.TableID == a.cfg.TableID {
				a.end("table_deleted")
				return
			}
		}
	}

	switch ev.Type {
	case hub.EventNewRequest, hub.EventUpdateRequest, hub.EventEndSession, hub.EventNewSession:
		a.invalidate()
		a.refresh(ctx)
	}
}

func (a *Agent) invalidate() {
	a.mu.Lock()
	a.stale = true
	a.mu.Unlock()
}

// refresh refetches the request list. Failures leave the cache stale; the
// next event or reconnect tries again.
func (a *Agent) refresh(ctx context.Context) {
	a.fetchMu.Lock()
	defer a.fetchMu.Unlock()
	if a.isEnded() {
		return
	}

	requests, err := a.fetchRequests(ctx)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.ShouldClearSession {
			a.end(hub.ReasonExpired)
			return
		}
		a.log().WithError(err).Warn("refetching requests failed")
		return
	}

	a.mu.Lock()
	if a.state == StateEnded {
		a.mu.Unlock()
		return
	}
	a.requests = requests
	a.stale = false
	a.mu.Unlock()

	if a.cfg.OnRequests != nil {
		a.cfg.OnRequests(requests)
	}
}

// Refresh forces a refetch outside of any event.
func (a *Agent) Refresh(ctx context.Context) {
	a.invalidate()
	a.refresh(ctx)
}

func (a *Agent) revalidateLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RevalidateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.revalidate(ctx)
		}
	}
}

// revalidate asks the server whether our session is still the table's
// active one. Network failures are ignored; only a definite answer ends the
// session.
func (a *Agent) revalidate(ctx context.Context) {
	sid := a.SessionID()
	if sid == "" {
		return
	}
	res, err := a.verify(ctx)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			a.end("table_deleted")
			return
		}
		a.log().WithError(err).Debug("session revalidation failed")
		return
	}
	if res.ActiveSession == nil || res.ActiveSession.SessionID != sid {
		a.end(hub.ReasonExpired)
	}
}
