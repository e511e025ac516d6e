package models

import "time"

// TableSession binds an anonymous customer device to a table. A nil EndedAt
// means the session is still open; at most one open row exists per table.
type TableSession struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	TableID   uint       `gorm:"not null;index:idx_table_sessions_open,priority:1" json:"tableId"`
	Table     Table      `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	SessionID string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"sessionId"`
	StartedAt time.Time  `gorm:"not null;index:idx_table_sessions_open,priority:3" json:"startedAt"`
	EndedAt   *time.Time `gorm:"index:idx_table_sessions_open,priority:2" json:"endedAt"`
}

func (s TableSession) Active() bool {
	return s.EndedAt == nil
}

// ExpiresAt is the instant the session stops being usable regardless of EndedAt.
func (s TableSession) ExpiresAt(ttl time.Duration) time.Time {
	return s.StartedAt.Add(ttl)
}

func (s TableSession) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(s.ExpiresAt(ttl))
}
