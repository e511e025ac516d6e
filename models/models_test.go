package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusCleared, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCleared, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCleared, false},
		{StatusCleared, StatusInProgress, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTableSessionExpiry(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := TableSession{StartedAt: start}

	assert.True(t, s.Active())
	assert.False(t, s.Expired(start.Add(59*time.Minute), time.Hour))
	assert.True(t, s.Expired(start.Add(time.Hour), time.Hour))
	assert.Equal(t, start.Add(time.Hour), s.ExpiresAt(time.Hour))
}
