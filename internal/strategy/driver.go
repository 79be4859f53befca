package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/kis-vi/internal/auth"
	"github.com/rickgao/kis-vi/internal/model"
)

// Errors
var (
	ErrNotStarted = errors.New("strategy not started")
)

// Info describes a driver's lifecycle state.
type Info struct {
	Name        string        `json:"name"`
	Running     bool          `json:"running"`
	StartTime   time.Time     `json:"start_time,omitzero"`
	RunningTime time.Duration `json:"running_time"`
	Processed   int64         `json:"processed"`
	Failed      int64         `json:"failed"`
}

// Driver runs a Strategy through Start, Run, and Stop.
type Driver struct {
	strategy Strategy
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	startTime time.Time
	stoppedAt time.Time
	processed int64
	failed    int64
}

// NewDriver creates a driver for s. A nil logger uses slog.Default.
func NewDriver(s Strategy, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		strategy: s,
		logger:   logger.With("component", "strategy", "strategy", s.Name()),
		now:      func() time.Time { return time.Now().In(auth.KST) },
	}
}

// Start initializes the strategy. Starting a running driver logs a warning
// and does nothing.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		d.logger.Warn("strategy already running")
		return nil
	}

	if err := d.strategy.Initialize(ctx); err != nil {
		d.logger.Error("strategy initialization failed", "error", err)
		return fmt.Errorf("initialize %s: %w", d.strategy.Name(), err)
	}

	d.startTime = d.now()
	d.stoppedAt = time.Time{}
	d.running = true
	d.logger.Info("strategy started")
	return nil
}

// Run feeds every event from src to the strategy until the sequence ends
// or ctx is cancelled. The source is responsible for ending the sequence.
func (d *Driver) Run(ctx context.Context, src Source) error {
	if !d.Running() {
		return ErrNotStarted
	}

	for ev := range src.Events() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.process(ctx, ev)
	}
	return nil
}

func (d *Driver) process(ctx context.Context, ev model.Event) {
	err := d.strategy.ProcessData(ctx, ev)

	d.mu.Lock()
	d.processed++
	if err != nil {
		d.failed++
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("event processing failed",
			"event", model.EventType(ev),
			"symbol", ev.Symbol(),
			"error", err,
		)
	}
}

// Stop cleans the strategy up once. Stopping a stopped driver does nothing.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.stoppedAt = d.now()
	elapsed := d.stoppedAt.Sub(d.startTime)
	d.mu.Unlock()

	if err := d.strategy.Cleanup(ctx); err != nil {
		d.logger.Error("strategy cleanup failed", "error", err)
		return fmt.Errorf("cleanup %s: %w", d.strategy.Name(), err)
	}

	d.logger.Info("strategy stopped", "running_time", elapsed.Round(time.Second))
	return nil
}

// Running reports whether the driver has started and not stopped.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Info returns the lifecycle state.
func (d *Driver) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := Info{
		Name:      d.strategy.Name(),
		Running:   d.running,
		StartTime: d.startTime,
		Processed: d.processed,
		Failed:    d.failed,
	}
	switch {
	case d.startTime.IsZero():
	case d.running:
		info.RunningTime = d.now().Sub(d.startTime)
	default:
		info.RunningTime = d.stoppedAt.Sub(d.startTime)
	}
	return info
}
