package strategy

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-vi/internal/model"
)

// SymbolStats accumulates what the monitor has seen for one symbol.
type SymbolStats struct {
	Code             string          `json:"code"`
	Triggers         int             `json:"triggers"`
	TriggerTime      string          `json:"trigger_time"`
	TriggerPrice     decimal.Decimal `json:"trigger_price"`
	Ticks            int             `json:"ticks"`
	LastPrice        decimal.Decimal `json:"last_price"`
	CumulativeVolume int64           `json:"cumulative_volume"`
}

// ChangeFromTrigger returns the last price's change from the trigger price
// in percent, or zero before the first tick.
func (s SymbolStats) ChangeFromTrigger() decimal.Decimal {
	if s.Ticks == 0 || s.TriggerPrice.IsZero() {
		return decimal.Zero
	}
	return s.LastPrice.Sub(s.TriggerPrice).Div(s.TriggerPrice).Mul(decimal.NewFromInt(100)).Round(2)
}

// VIMonitor logs volatility interruptions and the trading that follows them.
type VIMonitor struct {
	logger *slog.Logger

	mu      sync.Mutex
	symbols map[string]*SymbolStats
}

// NewVIMonitor creates the monitor strategy.
func NewVIMonitor(logger *slog.Logger) *VIMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &VIMonitor{
		logger:  logger.With("component", "vi_monitor"),
		symbols: make(map[string]*SymbolStats),
	}
}

func (m *VIMonitor) Name() string { return "vi_monitor" }

func (m *VIMonitor) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.symbols)
	return nil
}

func (m *VIMonitor) ProcessData(ctx context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case model.TriggerEvent:
		st, ok := m.symbols[e.Code]
		if !ok {
			st = &SymbolStats{Code: e.Code}
			m.symbols[e.Code] = st
		}
		st.Triggers++
		st.TriggerTime = e.Time
		st.TriggerPrice = e.Price

		m.logger.Info("VI triggered",
			"symbol", e.Code,
			"time", e.Time,
			"price", e.Price.String(),
			"count", st.Triggers,
		)
		if !ok {
			m.logger.Info("tracking new VI symbol", "symbol", e.Code, "tracked", len(m.symbols))
		}

	case model.TradeTick:
		st, ok := m.symbols[e.Code]
		if !ok {
			return nil
		}
		st.Ticks++
		st.LastPrice = e.Price
		st.CumulativeVolume = e.CumulativeVolume

		m.logger.Debug("trade after VI",
			"symbol", e.Code,
			"price", e.Price.String(),
			"change_pct", st.ChangeFromTrigger().String(),
			"cumulative_volume", e.CumulativeVolume,
		)
	}
	return nil
}

func (m *VIMonitor) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, code := range slices.Sorted(maps.Keys(m.symbols)) {
		st := m.symbols[code]
		m.logger.Info("VI summary",
			"symbol", code,
			"triggers", st.Triggers,
			"ticks", st.Ticks,
			"last_price", st.LastPrice.String(),
			"change_pct", st.ChangeFromTrigger().String(),
		)
	}
	return nil
}

// Snapshot returns per-symbol statistics ordered by symbol code.
func (m *VIMonitor) Snapshot() []SymbolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SymbolStats, 0, len(m.symbols))
	for _, code := range slices.Sorted(maps.Keys(m.symbols)) {
		out = append(out, *m.symbols[code])
	}
	return out
}
