package market

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
)

// DefaultWindow is how long a trigger keeps its symbol active.
const DefaultWindow = 120 * time.Second

// Subscriber opens and closes per-symbol trade channels.
type Subscriber interface {
	SubscribeSymbol(ctx context.Context, code string) error
	UnsubscribeSymbol(ctx context.Context, code string) error
}

// Entry is one active trigger.
type Entry struct {
	Code        string    `json:"code"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Tracker maps symbol codes to the time their trigger was first observed.
//
// OnTrigger and OnTick are called from the receive loop only; Active and Len
// may be called from any goroutine.
type Tracker struct {
	window  time.Duration
	sub     Subscriber
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// WithClock sets the time source used for events without a receive time.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker. A non-positive window uses DefaultWindow.
// sub may be nil, in which case no subscriptions are requested.
func NewTracker(window time.Duration, sub Subscriber, opts ...TrackerOption) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{
		window:  window,
		sub:     sub,
		logger:  slog.Default(),
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// Observe routes an event to OnTrigger or OnTick.
func (t *Tracker) Observe(ctx context.Context, ev model.Event) {
	switch e := ev.(type) {
	case model.TriggerEvent:
		t.OnTrigger(ctx, e)
	case model.TradeTick:
		t.OnTick(ctx, e)
	}
}

// OnTrigger records the symbol if it is not already active and requests its
// trade channel. It reports whether a new entry was created. A failed
// subscription is logged and the entry is kept.
func (t *Tracker) OnTrigger(ctx context.Context, ev model.TriggerEvent) bool {
	at := t.stamp(ev.ReceivedAt)

	t.mu.Lock()
	if _, ok := t.entries[ev.Code]; ok {
		t.mu.Unlock()
		return false
	}
	t.entries[ev.Code] = at
	n := len(t.entries)
	t.mu.Unlock()

	t.metrics.SetActiveTriggers(n)
	t.logger.Info("volatility interruption triggered",
		"symbol", ev.Code,
		"trigger_time", ev.Time,
		"price", ev.Price.String(),
		"active", n,
	)

	if t.sub != nil {
		if err := t.sub.SubscribeSymbol(ctx, ev.Code); err != nil {
			t.logger.Warn("trade subscription failed", "symbol", ev.Code, "error", err)
		}
	}
	return true
}

// OnTick removes the symbol's entry once more than the window has elapsed
// since the trigger. It reports whether the entry expired. This is the only
// removal path; a symbol without further ticks stays active.
func (t *Tracker) OnTick(ctx context.Context, tick model.TradeTick) bool {
	at := t.stamp(tick.ReceivedAt)

	t.mu.Lock()
	triggered, ok := t.entries[tick.Code]
	if !ok || at.Sub(triggered) <= t.window {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, tick.Code)
	n := len(t.entries)
	t.mu.Unlock()

	t.metrics.SetActiveTriggers(n)
	t.logger.Info("trigger window expired",
		"symbol", tick.Code,
		"elapsed", at.Sub(triggered).Round(time.Second),
		"active", n,
	)

	if t.sub != nil {
		if err := t.sub.UnsubscribeSymbol(ctx, tick.Code); err != nil {
			t.logger.Warn("trade unsubscription failed", "symbol", tick.Code, "error", err)
		}
	}
	return true
}

// IsActive reports whether code has a live entry.
func (t *Tracker) IsActive(code string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[code]
	return ok
}

// Active returns the live entries ordered by trigger time.
func (t *Tracker) Active() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for code, at := range t.entries {
		out = append(out, Entry{Code: code, TriggeredAt: at})
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.TriggeredAt.Compare(b.TriggeredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return out
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Clear drops every entry without touching subscriptions.
func (t *Tracker) Clear() {
	t.mu.Lock()
	clear(t.entries)
	t.mu.Unlock()
	t.metrics.SetActiveTriggers(0)
}

func (t *Tracker) stamp(received time.Time) time.Time {
	if received.IsZero() {
		return t.now()
	}
	return received
}
