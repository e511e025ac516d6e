package models

import "time"

const (
	RequestWaiter = "waiter"
	RequestWater  = "water"
	RequestCheck  = "check"
	RequestOther  = "other"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCleared    = "cleared"
)

// ActiveStatuses are the statuses a session end or cancel may still clear.
var ActiveStatuses = []string{StatusPending, StatusInProgress}

type Request struct {
	ID      uint  `gorm:"primaryKey" json:"id"`
	TableID uint  `gorm:"not null;index:idx_requests_scope,priority:1" json:"tableId"`
	Table   Table `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	// TableSessionID is the durable link; SessionID keeps the public token the
	// customer saw so a request can be matched after its session row has ended.
	TableSessionID uint         `gorm:"not null;index" json:"tableSessionId"`
	TableSession   TableSession `gorm:"foreignKey:TableSessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	SessionID      string       `gorm:"type:varchar(64);not null;index:idx_requests_scope,priority:2" json:"sessionId"`
	Type           string       `gorm:"type:varchar(20);not null" json:"type"`
	Status         string       `gorm:"type:varchar(20);not null;default:'pending';index:idx_requests_scope,priority:3" json:"status"`
	Notes          *string      `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
}

func ValidRequestType(t string) bool {
	switch t {
	case RequestWaiter, RequestWater, RequestCheck, RequestOther:
		return true
	}
	return false
}

func ValidRequestStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCleared:
		return true
	}
	return false
}

// requestTransitions lists the legal forward moves. Anything missing here,
// including staying on the same status, is rejected.
var requestTransitions = map[string][]string{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCleared},
	StatusInProgress: {StatusCompleted, StatusCleared},
}

func CanTransition(from, to string) bool {
	for _, next := range requestTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
