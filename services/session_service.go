package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

// SessionService decides whether a browser may act on a table right now.
type SessionService struct {
	DB     *gorm.DB
	Hub    hub.Broadcaster
	Locker lock.Locker
	TTL    time.Duration
	Now    Clock
}

func NewSessionService(db *gorm.DB, b hub.Broadcaster, l lock.Locker, ttl time.Duration) *SessionService {
	return &SessionService{DB: db, Hub: b, Locker: l, TTL: ttl, Now: systemClock}
}

type ActiveSession struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
	// ExpiresIn is the remaining lifetime in whole seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type VerifyResult struct {
	Valid              bool           `json:"valid"`
	Table              models.Table   `json:"table"`
	ActiveSession      *ActiveSession `json:"activeSession,omitempty"`
	RequiresNewSession bool           `json:"requiresNewSession,omitempty"`
}

func (s *SessionService) describe(session models.TableSession, now time.Time) *ActiveSession {
	remaining := session.ExpiresAt(s.TTL).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &ActiveSession{
		ID:        session.ID,
		SessionID: session.SessionID,
		StartedAt: session.StartedAt,
		ExpiresIn: int64(remaining / time.Second),
	}
}

// VerifyTable reports the table and its usable session, closing the open
// session on the way if its window has elapsed.
func (s *SessionService) VerifyTable(ctx context.Context, restaurantID, tableID uint) (VerifyResult, error) {
	var table models.Table
	err := s.DB.WithContext(ctx).Where("id = ? AND restaurant_id = ?", tableID, restaurantID).First(&table).Error
	if err != nil {
		return VerifyResult{}, notFoundOr(err, "table", tableID)
	}

	result := VerifyResult{Valid: true, Table: table}
	session, err := s.latestOpen(ctx, s.DB, tableID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		result.RequiresNewSession = true
		return result, nil
	}
	if err != nil {
		return VerifyResult{}, err
	}

	now := s.Now()
	if session.Expired(now, s.TTL) {
		if err := s.expire(ctx, session, table.RestaurantID); err != nil {
			return VerifyResult{}, err
		}
		result.RequiresNewSession = true
		return result, nil
	}

	result.ActiveSession = s.describe(session, now)
	return result, nil
}

// CreateSession closes whatever session is open on the table and opens a
// fresh one. The close and the insert happen under the table lock inside one
// transaction, so concurrent callers serialize and exactly one row stays open.
func (s *SessionService) CreateSession(ctx context.Context, tableID uint) (models.TableSession, error) {
	return s.openSession(ctx, tableID, false)
}

// JoinOrCreateSession returns the table's usable session if there is one and
// otherwise behaves like CreateSession. Two tabs scanning the same QR code at
// once both end up holding the same token.
func (s *SessionService) JoinOrCreateSession(ctx context.Context, tableID uint) (models.TableSession, error) {
	return s.openSession(ctx, tableID, true)
}

func (s *SessionService) openSession(ctx context.Context, tableID uint, join bool) (models.TableSession, error) {
	table, err := loadTable(ctx, s.DB, tableID)
	if err != nil {
		return models.TableSession{}, err
	}

	unlock, err := s.Locker.Lock(ctx, tableLockKey(tableID))
	if err != nil {
		return models.TableSession{}, fmt.Errorf("lock table %d: %w", tableID, err)
	}
	defer unlock()

	var (
		created  models.TableSession
		replaced []models.TableSession
		joined   bool
	)
	now := s.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open []models.TableSession
		if err := tx.Where("table_id = ? AND ended_at IS NULL", tableID).
			Order("started_at DESC").Find(&open).Error; err != nil {
			return err
		}

		if join && len(open) > 0 && !open[0].Expired(now, s.TTL) {
			created = open[0]
			joined = true
			return nil
		}

		if len(open) > 0 {
			if err := tx.Model(&models.TableSession{}).
				Where("table_id = ? AND ended_at IS NULL", tableID).
				Update("ended_at", now).Error; err != nil {
				return err
			}
			for _, prev := range open {
				prev.EndedAt = &now
				replaced = append(replaced, prev)
			}
		}

		token, err := utils.GenerateSessionToken()
		if err != nil {
			return fmt.Errorf("generate session token: %w", err)
		}
		created = models.TableSession{TableID: tableID, SessionID: token, StartedAt: now}
		return tx.Create(&created).Error
	})
	if err != nil {
		return models.TableSession{}, err
	}

	log := utils.InfoLogger.WithFields(logrus.Fields{"table_id": tableID, "session_id": created.SessionID})
	if joined {
		log.Info("joined existing table session")
		return created, nil
	}

	for _, prev := range replaced {
		reason := hub.ReasonReplaced
		if prev.Expired(now, s.TTL) {
			reason = hub.ReasonExpired
		}
		s.Hub.Broadcast(hub.SessionEvent(hub.EventEndSession, table.RestaurantID, prev, reason))
	}
	s.Hub.Broadcast(hub.SessionEvent(hub.EventNewSession, table.RestaurantID, created, ""))
	log.WithField("replaced", len(replaced)).Info("table session started")
	return created, nil
}

// EndSession closes the named session and clears its pending and in-progress
// requests. Ending a session that is already closed changes nothing.
func (s *SessionService) EndSession(ctx context.Context, tableID uint, sessionID, reason string) (int, error) {
	table, err := loadTable(ctx, s.DB, tableID)
	if err != nil {
		return 0, err
	}
	if reason == "" {
		reason = hub.ReasonAdminEnded
	}

	unlock, err := s.Locker.Lock(ctx, tableLockKey(tableID))
	if err != nil {
		return 0, fmt.Errorf("lock table %d: %w", tableID, err)
	}
	defer unlock()

	var (
		session models.TableSession
		cleared []models.Request
		ended   bool
	)
	now := s.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("table_id = ? AND session_id = ?", tableID, sessionID).First(&session).Error; err != nil {
			return notFoundOr(err, "session", sessionID)
		}
		if !session.Active() {
			return nil
		}
		var err error
		ended, cleared, err = closeSession(tx, &session, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !ended {
		return 0, nil
	}

	s.Hub.Broadcast(hub.SessionEvent(hub.EventEndSession, table.RestaurantID, session, reason))
	for _, req := range cleared {
		s.Hub.Broadcast(hub.RequestEvent(hub.EventUpdateRequest, table.RestaurantID, req))
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id":   tableID,
		"session_id": sessionID,
		"reason":     reason,
		"cleared":    len(cleared),
	}).Info("table session ended")
	return len(cleared), nil
}

// ActiveSessionFor returns the table's open, unexpired session.
func (s *SessionService) ActiveSessionFor(ctx context.Context, tableID uint) (models.TableSession, error) {
	session, err := s.latestOpen(ctx, s.DB, tableID)
	if err != nil {
		return models.TableSession{}, notFoundOr(err, "active session for table", tableID)
	}
	if session.Expired(s.Now(), s.TTL) {
		table, err := loadTable(ctx, s.DB, tableID)
		if err != nil {
			return models.TableSession{}, err
		}
		if err := s.expire(ctx, session, table.RestaurantID); err != nil {
			return models.TableSession{}, err
		}
		return models.TableSession{}, utils.NotFound("active session for table %d not found", tableID)
	}
	return session, nil
}

// ValidateSessionForRequest gates every customer mutation. It fails with
// SessionInvalid when the token is not the table's open session or when the
// session has outlived its window, closing it in the latter case.
func (s *SessionService) ValidateSessionForRequest(ctx context.Context, tableID uint, sessionID string) (models.TableSession, error) {
	if sessionID == "" {
		return models.TableSession{}, utils.SessionInvalid("session token is required")
	}

	var session models.TableSession
	err := s.DB.WithContext(ctx).
		Where("table_id = ? AND session_id = ? AND ended_at IS NULL", tableID, sessionID).
		Order("started_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.TableSession{}, utils.SessionInvalid("session is no longer active")
	}
	if err != nil {
		return models.TableSession{}, fmt.Errorf("load session: %w", err)
	}

	if session.Expired(s.Now(), s.TTL) {
		table, err := loadTable(ctx, s.DB, tableID)
		if err != nil {
			return models.TableSession{}, err
		}
		if err := s.expire(ctx, session, table.RestaurantID); err != nil {
			return models.TableSession{}, err
		}
		return models.TableSession{}, utils.SessionInvalid("session has expired")
	}
	return session, nil
}

// SweepExpired closes every open session whose window has elapsed and
// returns how many it closed.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	var open []models.TableSession
	if err := s.DB.WithContext(ctx).Preload("Table").Where("ended_at IS NULL").Find(&open).Error; err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}

	now := s.Now()
	closed := 0
	for _, session := range open {
		if !session.Expired(now, s.TTL) {
			continue
		}
		if err := s.expire(ctx, session, session.Table.RestaurantID); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (s *SessionService) latestOpen(ctx context.Context, db *gorm.DB, tableID uint) (models.TableSession, error) {
	var session models.TableSession
	err := db.WithContext(ctx).
		Where("table_id = ? AND ended_at IS NULL", tableID).
		Order("started_at DESC").
		First(&session).Error
	return session, err
}

// expire closes an elapsed session and clears its active requests. Only the
// caller that actually flips ended_at announces it.
func (s *SessionService) expire(ctx context.Context, session models.TableSession, restaurantID uint) error {
	unlock, err := s.Locker.Lock(ctx, tableLockKey(session.TableID))
	if err != nil {
		return fmt.Errorf("lock table %d: %w", session.TableID, err)
	}
	defer unlock()

	var (
		cleared []models.Request
		ended   bool
	)
	now := s.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ended, cleared, err = closeSession(tx, &session, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("expire session %d: %w", session.ID, err)
	}
	if !ended {
		return nil
	}

	s.Hub.Broadcast(hub.SessionEvent(hub.EventEndSession, restaurantID, session, hub.ReasonExpired))
	for _, req := range cleared {
		s.Hub.Broadcast(hub.RequestEvent(hub.EventUpdateRequest, restaurantID, req))
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"table_id":   session.TableID,
		"session_id": session.SessionID,
		"cleared":    len(cleared),
	}).Info("table session expired")
	return nil
}

// closeSession ends session if it is still open and moves its pending and
// in-progress requests to cleared. ended is false when another caller got
// there first.
func closeSession(tx *gorm.DB, session *models.TableSession, now time.Time) (bool, []models.Request, error) {
	res := tx.Model(&models.TableSession{}).
		Where("id = ? AND ended_at IS NULL", session.ID).
		Update("ended_at", now)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}
	session.EndedAt = &now

	var cleared []models.Request
	if err := tx.Where("table_id = ? AND session_id = ? AND status IN ?", session.TableID, session.SessionID, models.ActiveStatuses).
		Find(&cleared).Error; err != nil {
		return true, nil, err
	}
	if len(cleared) == 0 {
		return true, nil, nil
	}
	ids := make([]uint, len(cleared))
	for i := range cleared {
		ids[i] = cleared[i].ID
		cleared[i].Status = models.StatusCleared
		cleared[i].CompletedAt = &now
	}
	err := tx.Model(&models.Request{}).Where("id IN ?", ids).
		Updates(map[string]interface{}{"status": models.StatusCleared, "completed_at": now}).Error
	return true, cleared, err
}
