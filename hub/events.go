package hub

import "github.com/yeremiapane/table-service/models"

// Event types
const (
	EventNewRequest       = "new_request"
	EventUpdateRequest    = "update_request"
	EventNewSession       = "new_session"
	EventEndSession       = "end_session"
	EventUpdateTable      = "update_table"
	EventDeleteTable      = "delete_table"
	EventNewFeedback      = "new_feedback"
	EventConnectionStatus = "connection_status"

	// EventPing is the only message a client sends.
	EventPing = "ping"
)

const (
	ClientCustomer = "customer"
	ClientAdmin    = "admin"
)

// End-session reasons carried on EventEndSession.
const (
	ReasonAdminEnded  = "admin_ended"
	ReasonExpired     = "expired"
	ReasonReplaced    = "replaced"
	ReasonCustomerEnd = "customer_ended"
)

// Event is the JSON envelope pushed to clients. Clients treat it only as a
// cue to refetch; the embedded payloads are informational.
type Event struct {
	Type         string               `json:"type"`
	TableID      uint                 `json:"tableId,omitempty"`
	RestaurantID uint                 `json:"restaurantId,omitempty"`
	SessionID    string               `json:"sessionId,omitempty"`
	Status       string               `json:"status,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Request      *models.Request      `json:"request,omitempty"`
	Session      *models.TableSession `json:"session,omitempty"`
	Table        *models.Table        `json:"table,omitempty"`
	Feedback     *models.Feedback     `json:"feedback,omitempty"`
	ConnectionID string               `json:"connectionId,omitempty"`
}

// Broadcaster is what mutating services need from the hub.
type Broadcaster interface {
	Broadcast(ev Event) int
}

func RequestEvent(eventType string, restaurantID uint, req models.Request) Event {
	return Event{
		Type:         eventType,
		TableID:      req.TableID,
		RestaurantID: restaurantID,
		SessionID:    req.SessionID,
		Status:       req.Status,
		Request:      &req,
	}
}

func SessionEvent(eventType string, restaurantID uint, session models.TableSession, reason string) Event {
	return Event{
		Type:         eventType,
		TableID:      session.TableID,
		RestaurantID: restaurantID,
		SessionID:    session.SessionID,
		Reason:       reason,
		Session:      &session,
	}
}

func TableEvent(eventType string, table models.Table) Event {
	return Event{
		Type:         eventType,
		TableID:      table.ID,
		RestaurantID: table.RestaurantID,
		Table:        &table,
	}
}
