package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var kst = time.FixedZone("KST", 9*60*60)

func fallbackHours(now time.Time) *Hours {
	h := NewHours("no-such-mic", nil)
	h.now = func() time.Time { return now }
	return h
}

func TestHours_FallbackSchedule(t *testing.T) {
	h := fallbackHours(time.Time{})
	assert.True(t, h.fallback)

	monday := time.Date(2026, 3, 9, 0, 0, 0, 0, kst)
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"before open", monday.Add(8*time.Hour + 59*time.Minute), false},
		{"at open", monday.Add(9 * time.Hour), true},
		{"midday", monday.Add(12 * time.Hour), true},
		{"last minute", monday.Add(15*time.Hour + 29*time.Minute), true},
		{"at close", monday.Add(15*time.Hour + 30*time.Minute), false},
		{"saturday", monday.Add(5*24*time.Hour + 10*time.Hour), false},
		{"utc input", time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.IsOpen(tt.t))
		})
	}
}

func TestHours_FallbackBusinessDay(t *testing.T) {
	h := fallbackHours(time.Time{})

	assert.True(t, h.IsBusinessDay(time.Date(2026, 3, 13, 12, 0, 0, 0, kst)))
	assert.False(t, h.IsBusinessDay(time.Date(2026, 3, 15, 12, 0, 0, 0, kst)))
}

func TestHours_KRXCalendar(t *testing.T) {
	h := NewHours(KRX, nil)
	if h.fallback {
		t.Skip("xkrx calendar not available")
	}

	sunday := time.Date(2026, 3, 8, 11, 0, 0, 0, kst)
	assert.False(t, h.IsBusinessDay(sunday))
	assert.False(t, h.IsOpen(sunday))
}

func TestHours_WaitOpenReturnsImmediately(t *testing.T) {
	h := fallbackHours(time.Date(2026, 3, 9, 10, 0, 0, 0, kst))

	assert.NoError(t, h.WaitOpen(context.Background(), time.Hour))
}

func TestHours_WaitOpenCancelled(t *testing.T) {
	h := fallbackHours(time.Date(2026, 3, 8, 10, 0, 0, 0, kst))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := h.WaitOpen(ctx, 5*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
