package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/scmhub/calendar"
)

// KRX is the ISO 10383 code of the Korea Exchange.
const KRX = "xkrx"

// Hours answers whether the exchange is trading.
type Hours struct {
	cal      *calendar.Calendar
	loc      *time.Location
	fallback bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewHours loads the calendar for mic. If the calendar is unavailable a
// weekday 09:00-15:30 KST schedule is used instead.
func NewHours(mic string, logger *slog.Logger) *Hours {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hours{now: time.Now, logger: logger.With("component", "hours")}

	if cal := calendar.GetCalendar(mic); cal != nil {
		h.cal = cal
		h.loc = cal.Loc
	}
	if h.cal == nil || h.loc == nil {
		h.logger.Warn("calendar unavailable, using weekday schedule", "mic", mic)
		h.fallback = true
		h.loc = time.FixedZone("KST", 9*60*60)
	}
	return h
}

// IsBusinessDay reports whether t falls on a trading day.
func (h *Hours) IsBusinessDay(t time.Time) bool {
	t = t.In(h.loc)
	if h.fallback {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return h.cal.IsBusinessDay(t)
}

// IsOpen reports whether the regular session is running at t.
func (h *Hours) IsOpen(t time.Time) bool {
	t = t.In(h.loc)
	if !h.fallback {
		return h.cal.IsOpen(t)
	}
	if !h.IsBusinessDay(t) {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= 9*60 && minutes < 15*60+30
}

// WaitOpen blocks until the session is open, checking every poll interval.
func (h *Hours) WaitOpen(ctx context.Context, poll time.Duration) error {
	if h.IsOpen(h.now()) {
		return nil
	}
	if poll <= 0 {
		poll = time.Minute
	}

	h.logger.Info("market closed, waiting for open", "poll", poll)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if h.IsOpen(h.now()) {
				h.logger.Info("market open")
				return nil
			}
		}
	}
}
