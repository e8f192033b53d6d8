package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateNextDelay(t *testing.T) {
	tests := []struct {
		now      string
		expected time.Duration
	}{
		{"2024-01-10T10:00:00Z", 15 * time.Minute},
		{"2024-01-10T10:14:30Z", 30 * time.Second},
		{"2024-01-10T10:50:00Z", 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.now, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tt.now)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, calculateNextDelay(now))
		})
	}
}

func TestAfterFetchTime(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Stockholm")
	assert.NoError(t, err)
	// 12:00 UTC is 13:00 in Stockholm in winter
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, afterFetchTime(now, loc, 13, 0))
	assert.False(t, afterFetchTime(now, loc, 13, 30))
	assert.True(t, afterFetchTime(now, loc, 0, 0))
}
