package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/lock"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/utils"
	"gorm.io/gorm"
)

const maxNotesLength = 500

// RequestService owns the request lifecycle and feedback.
type RequestService struct {
	DB     *gorm.DB
	Hub    hub.Broadcaster
	Locker lock.Locker
	Now    Clock
}

func NewRequestService(db *gorm.DB, b hub.Broadcaster, l lock.Locker) *RequestService {
	return &RequestService{DB: db, Hub: b, Locker: l, Now: systemClock}
}

type CreateRequestInput struct {
	Type  string
	Notes *string
}

// CreateRequest files a new pending request under an already validated
// session. The session is re-read under the table lock so a request can
// never land on a session that ended in the meantime.
func (s *RequestService) CreateRequest(ctx context.Context, session models.TableSession, in CreateRequestInput) (models.Request, error) {
	if !models.ValidRequestType(in.Type) {
		return models.Request{}, utils.Validation("unknown request type %q", in.Type)
	}
	notes := normalizeText(in.Notes)
	if notes != nil && len(*notes) > maxNotesLength {
		return models.Request{}, utils.Validation("notes must be at most %d characters", maxNotesLength)
	}

	table, err := loadTable(ctx, s.DB, session.TableID)
	if err != nil {
		return models.Request{}, err
	}

	unlock, err := s.Locker.Lock(ctx, tableLockKey(session.TableID))
	if err != nil {
		return models.Request{}, fmt.Errorf("lock table %d: %w", session.TableID, err)
	}
	defer unlock()

	var req models.Request
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.TableSession{}).
			Where("id = ? AND ended_at IS NULL", session.ID).
			Count(&open).Error; err != nil {
			return err
		}
		if open == 0 {
			return utils.SessionInvalid("session is no longer active")
		}

		// "other" carries free text, so two of them are not duplicates.
		if in.Type != models.RequestOther {
			var dup int64
			if err := tx.Model(&models.Request{}).
				Where("table_session_id = ? AND type = ? AND status IN ?", session.ID, in.Type, models.ActiveStatuses).
				Count(&dup).Error; err != nil {
				return err
			}
			if dup > 0 {
				return utils.Conflict("a %s request is already active for this table", in.Type)
			}
		}

		req = models.Request{
			TableID:        session.TableID,
			TableSessionID: session.ID,
			SessionID:      session.SessionID,
			Type:           in.Type,
			Status:         models.StatusPending,
			Notes:          notes,
			CreatedAt:      s.Now(),
		}
		return tx.Create(&req).Error
	})
	if err != nil {
		return models.Request{}, err
	}

	s.Hub.Broadcast(hub.RequestEvent(hub.EventNewRequest, table.RestaurantID, req))
	s.logger(req).Info("service request created")
	return req, nil
}

// AdvanceRequest moves a request along the transition table. The update is
// conditional on the status it was read with, so two staff racing on the
// same request cannot both succeed.
func (s *RequestService) AdvanceRequest(ctx context.Context, id uint, status string) (models.Request, error) {
	if !models.ValidRequestStatus(status) {
		return models.Request{}, utils.Validation("unknown status %q", status)
	}

	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return models.Request{}, err
	}
	return s.transition(ctx, req, status)
}

// CancelRequest clears a request on behalf of the customer session that
// created it. Only pending requests can be cancelled this way.
func (s *RequestService) CancelRequest(ctx context.Context, id uint, session models.TableSession) (models.Request, error) {
	req, err := s.GetRequest(ctx, id)
	if err != nil {
		return models.Request{}, err
	}
	if req.TableID != session.TableID || req.SessionID != session.SessionID {
		return models.Request{}, utils.Forbidden("request %d does not belong to this session", id)
	}
	if req.Status != models.StatusPending {
		return models.Request{}, utils.InvalidState("only pending requests can be cancelled, request is %s", req.Status)
	}
	return s.transition(ctx, req, models.StatusCleared)
}

func (s *RequestService) transition(ctx context.Context, req models.Request, to string) (models.Request, error) {
	from := req.Status
	if !models.CanTransition(from, to) {
		return models.Request{}, utils.InvalidTransition(from, to)
	}

	updates := map[string]interface{}{"status": to}
	now := s.Now()
	if to == models.StatusCompleted || to == models.StatusCleared {
		updates["completed_at"] = now
	}

	res := s.DB.WithContext(ctx).Model(&models.Request{}).
		Where("id = ? AND status = ?", req.ID, from).
		Updates(updates)
	if res.Error != nil {
		return models.Request{}, fmt.Errorf("update request %d: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.GetRequest(ctx, req.ID)
		if err != nil {
			return models.Request{}, err
		}
		return models.Request{}, utils.InvalidTransition(current.Status, to)
	}

	req.Status = to
	if _, ok := updates["completed_at"]; ok {
		req.CompletedAt = &now
	}

	restaurantID, err := s.RestaurantIDForTable(ctx, req.TableID)
	if err != nil {
		return models.Request{}, err
	}
	s.Hub.Broadcast(hub.RequestEvent(hub.EventUpdateRequest, restaurantID, req))
	s.logger(req).WithField("from", from).Info("service request updated")
	return req, nil
}

func (s *RequestService) GetRequest(ctx context.Context, id uint) (models.Request, error) {
	var req models.Request
	if err := s.DB.WithContext(ctx).First(&req, id).Error; err != nil {
		return req, notFoundOr(err, "request", id)
	}
	return req, nil
}

// ListSessionRequests returns the requests a customer tab displays, newest first.
func (s *RequestService) ListSessionRequests(ctx context.Context, tableID uint, sessionID string) ([]models.Request, error) {
	requests := []models.Request{}
	err := s.DB.WithContext(ctx).
		Where("table_id = ? AND session_id = ?", tableID, sessionID).
		Order("created_at DESC, id DESC").
		Find(&requests).Error
	return requests, err
}

// ListRestaurantRequests feeds the staff dashboard. With no statuses it
// returns the active ones.
func (s *RequestService) ListRestaurantRequests(ctx context.Context, restaurantID uint, statuses []string) ([]models.Request, error) {
	if len(statuses) == 0 {
		statuses = models.ActiveStatuses
	}
	for _, st := range statuses {
		if !models.ValidRequestStatus(st) {
			return nil, utils.Validation("unknown status %q", st)
		}
	}

	requests := []models.Request{}
	err := s.DB.WithContext(ctx).
		Joins("JOIN tables ON tables.id = requests.table_id").
		Where("tables.restaurant_id = ? AND requests.status IN ?", restaurantID, statuses).
		Order("requests.created_at DESC, requests.id DESC").
		Find(&requests).Error
	return requests, err
}

type FeedbackInput struct {
	RequestID uint
	Rating    int
	Comment   *string
}

// SubmitFeedback attaches the single allowed rating to a completed request.
func (s *RequestService) SubmitFeedback(ctx context.Context, in FeedbackInput) (models.Feedback, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return models.Feedback{}, utils.Validation("rating must be between 1 and 5")
	}

	req, err := s.GetRequest(ctx, in.RequestID)
	if err != nil {
		return models.Feedback{}, err
	}
	if req.Status != models.StatusCompleted {
		return models.Feedback{}, utils.InvalidState("feedback needs a completed request, request is %s", req.Status)
	}

	unlock, err := s.Locker.Lock(ctx, tableLockKey(req.TableID))
	if err != nil {
		return models.Feedback{}, fmt.Errorf("lock table %d: %w", req.TableID, err)
	}
	defer unlock()

	fb := models.Feedback{RequestID: req.ID, Rating: in.Rating, Comment: normalizeText(in.Comment), CreatedAt: s.Now()}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Feedback
		err := tx.Where("request_id = ?", req.ID).First(&existing).Error
		if err == nil {
			return utils.Conflict("feedback already submitted for request %d", req.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&fb).Error
	})
	if err != nil {
		return models.Feedback{}, err
	}

	restaurantID, err := s.RestaurantIDForTable(ctx, req.TableID)
	if err != nil {
		return models.Feedback{}, err
	}
	s.Hub.Broadcast(hub.Event{
		Type:         hub.EventNewFeedback,
		TableID:      req.TableID,
		RestaurantID: restaurantID,
		SessionID:    req.SessionID,
		Feedback:     &fb,
	})
	s.logger(req).WithField("rating", fb.Rating).Info("feedback submitted")
	return fb, nil
}

func (s *RequestService) RestaurantIDForTable(ctx context.Context, tableID uint) (uint, error) {
	table, err := loadTable(ctx, s.DB, tableID)
	if err != nil {
		return 0, err
	}
	return table.RestaurantID, nil
}

func (s *RequestService) logger(req models.Request) *logrus.Entry {
	return utils.InfoLogger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"table_id":   req.TableID,
		"session_id": req.SessionID,
		"type":       req.Type,
		"status":     req.Status,
	})
}

func normalizeText(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
