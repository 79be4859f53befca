package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
	"github.com/rickgao/kis-vi/internal/router"
)

// ErrClosed is returned by ProcessData after Cleanup.
var ErrClosed = errors.New("journal closed")

// Table names, also used as metric labels.
const (
	TableTriggers = "vi_triggers"
	TableTicks    = "trade_ticks"
)

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    5000,
	}
}

// WriterMetrics contains journal counters.
type WriterMetrics struct {
	TriggerInserts int64
	TickInserts    int64
	Conflicts      int64
	Errors         int64
	Flushes        int64
}

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Journal persists every event to PostgreSQL. It is a strategy: the
// session's events reach it through ProcessData, which only queues them;
// a consumer goroutine batches the rows and a ticker flushes partial batches.
type Journal struct {
	cfg     WriterConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	input *router.GrowableBuffer[model.Event]
	db    BatchSender

	// Batching
	batch       []journalRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{} // closed when the consumer has drained the input

	newID func() uuid.UUID

	stats WriterMetrics
}

type journalRow struct {
	table      string
	id         uuid.UUID
	code       string
	time       string
	price      decimal.Decimal
	kind       string
	volume     int64
	receivedAt time.Time
}

// NewJournal creates a journal writing through db.
func NewJournal(cfg WriterConfig, db BatchSender, logger *slog.Logger, m *metrics.Metrics) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:      cfg,
		logger:   logger.With("component", "journal"),
		metrics:  m,
		input:    router.NewGrowableBuffer[model.Event](cfg.BufferSize),
		db:       db,
		batch:    make([]journalRow, 0, cfg.BatchSize),
		consumed: make(chan struct{}),
		newID:    uuid.New,
	}
}

func (w *Journal) Name() string { return "journal" }

// Initialize starts the consumer and flush goroutines.
func (w *Journal) Initialize(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// ProcessData queues ev. It never blocks.
func (w *Journal) ProcessData(ctx context.Context, ev model.Event) error {
	if !w.input.Send(ev) {
		return ErrClosed
	}
	return nil
}

// Cleanup stops accepting events, writes everything queued, and stops the
// goroutines. The final flush uses ctx.
func (w *Journal) Cleanup(ctx context.Context) error {
	w.logger.Info("stopping journal", "queued", w.input.Len())

	// Closing the input lets the consumer drain and exit.
	w.input.Close()

	if w.cancel != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("journal drain timed out", "queued", w.input.Len())
		}

		w.cancel()
		w.flushTicker.Stop()

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Warn("journal stop timed out")
		}
	}

	// Final flush
	if err := w.flush(ctx); err != nil {
		return err
	}

	stats := w.Stats()
	w.logger.Info("journal stopped",
		"triggers", stats.TriggerInserts,
		"ticks", stats.TickInserts,
		"errors", stats.Errors,
	)
	return nil
}

// Stats returns current counters.
func (w *Journal) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// consumeLoop moves events from the input buffer into the batch until the
// buffer is closed and empty.
func (w *Journal) consumeLoop() {
	defer close(w.consumed)

	for {
		ev, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleEvent(ev)
	}
}

// flushLoop periodically flushes the batch.
func (w *Journal) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (w *Journal) handleEvent(ev model.Event) {
	row, ok := w.transform(ev)
	if !ok {
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts an event to a row.
func (w *Journal) transform(ev model.Event) (journalRow, bool) {
	switch e := ev.(type) {
	case model.TriggerEvent:
		return journalRow{
			table:      TableTriggers,
			id:         w.newID(),
			code:       e.Code,
			time:       e.Time,
			price:      e.Price,
			kind:       e.Kind,
			receivedAt: e.ReceivedAt,
		}, true
	case model.TradeTick:
		return journalRow{
			table:      TableTicks,
			id:         w.newID(),
			code:       e.Code,
			price:      e.Price,
			volume:     e.CumulativeVolume,
			receivedAt: e.ReceivedAt,
		}, true
	}
	return journalRow{}, false
}

// flush writes the current batch to the database.
func (w *Journal) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]journalRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	inserted, conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.metrics.JournalError()
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.stats.TriggerInserts += int64(inserted[TableTriggers])
	w.stats.TickInserts += int64(inserted[TableTicks])
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	for table, n := range inserted {
		w.metrics.JournalInserted(table, n)
	}

	w.logger.Debug("flushed journal",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Journal) batchInsert(ctx context.Context, rows []journalRow) (inserted map[string]int, conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		switch r.table {
		case TableTriggers:
			batch.Queue(`
				INSERT INTO vi_triggers (id, code, trigger_time, trigger_price, kind, received_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT DO NOTHING
			`, r.id, r.code, r.time, r.price, r.kind, r.receivedAt)
		case TableTicks:
			batch.Queue(`
				INSERT INTO trade_ticks (id, code, price, cumulative_volume, received_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT DO NOTHING
			`, r.id, r.code, r.price, r.volume, r.receivedAt)
		}
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted = make(map[string]int, 2)
	for _, r := range rows {
		ct, err := results.Exec()
		if err != nil {
			return nil, 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
			continue
		}
		inserted[r.table]++
	}

	return inserted, conflicts, nil
}
