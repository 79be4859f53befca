package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
)

// fakeDB records queued statements and answers each with one affected row,
// or zero for codes listed in conflict.
type fakeDB struct {
	mu       sync.Mutex
	queries  []*pgx.QueuedQuery
	conflict map[string]bool
	err      error
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, b.QueuedQueries...)

	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		code, _ := q.Arguments[1].(string)
		if f.conflict[code] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
		} else {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
		}
	}
	return res
}

func (f *fakeDB) statements() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*pgx.QueuedQuery(nil), f.queries...)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

var received = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

func testEvents() []model.Event {
	return []model.Event{
		model.TriggerEvent{Code: "005930", Time: "100000", Price: decimal.NewFromInt(71000), Kind: "1", ReceivedAt: received},
		model.TradeTick{Code: "005930", Price: decimal.NewFromInt(71100), CumulativeVolume: 1000, ReceivedAt: received.Add(time.Second)},
		model.TradeTick{Code: "005930", Price: decimal.NewFromInt(71200), CumulativeVolume: 1500, ReceivedAt: received.Add(2 * time.Second)},
	}
}

func TestJournal_Transform(t *testing.T) {
	w := NewJournal(DefaultWriterConfig(), nil, nil, nil)
	id := uuid.MustParse("0b9e7c8a-3f1d-4a55-9d8e-4c1f6f1e2a77")
	w.newID = func() uuid.UUID { return id }

	row, ok := w.transform(testEvents()[0])
	if !ok {
		t.Fatal("trigger not transformed")
	}
	if row.table != TableTriggers {
		t.Errorf("table = %s, want %s", row.table, TableTriggers)
	}
	if row.id != id {
		t.Errorf("id = %s, want %s", row.id, id)
	}
	if row.code != "005930" || row.time != "100000" || row.kind != "1" {
		t.Errorf("unexpected trigger row %+v", row)
	}
	if !row.price.Equal(decimal.NewFromInt(71000)) {
		t.Errorf("price = %s, want 71000", row.price)
	}

	row, ok = w.transform(testEvents()[1])
	if !ok {
		t.Fatal("tick not transformed")
	}
	if row.table != TableTicks || row.volume != 1000 {
		t.Errorf("unexpected tick row %+v", row)
	}
	if !row.receivedAt.Equal(received.Add(time.Second)) {
		t.Errorf("receivedAt = %v", row.receivedAt)
	}
}

func TestJournal_HandleEvent_AddsToBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100, // Large batch so no auto-flush
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	w := NewJournal(cfg, &fakeDB{}, nil, nil)

	w.handleEvent(testEvents()[0])

	w.batchMu.Lock()
	batchLen := len(w.batch)
	w.batchMu.Unlock()

	if batchLen != 1 {
		t.Errorf("batch length = %d, want 1", batchLen)
	}
}

func TestJournal_FlushOnBatchSize(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}
	w := NewJournal(cfg, db, nil, nil)
	w.ctx = context.Background()

	for _, ev := range testEvents() {
		w.handleEvent(ev)
	}

	if got := len(db.statements()); got != 2 {
		t.Fatalf("statements = %d, want 2", got)
	}
	stats := w.Stats()
	if stats.TriggerInserts != 1 || stats.TickInserts != 1 || stats.Flushes != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestJournal_Lifecycle(t *testing.T) {
	db := &fakeDB{conflict: map[string]bool{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}
	w := NewJournal(cfg, db, nil, m)

	ctx := context.Background()
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	for _, ev := range testEvents() {
		if err := w.ProcessData(ctx, ev); err != nil {
			t.Fatalf("ProcessData() error = %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Cleanup(stopCtx); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}

	stmts := db.statements()
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 3", len(stmts))
	}
	if !strings.Contains(stmts[0].SQL, "INSERT INTO vi_triggers") {
		t.Errorf("first statement = %q", stmts[0].SQL)
	}
	if !strings.Contains(stmts[1].SQL, "INSERT INTO trade_ticks") {
		t.Errorf("second statement = %q", stmts[1].SQL)
	}

	stats := w.Stats()
	if stats.TriggerInserts != 1 || stats.TickInserts != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if got := testutil.ToFloat64(m.JournalRows.WithLabelValues(TableTicks)); got != 2 {
		t.Errorf("journal rows metric = %v, want 2", got)
	}

	if err := w.ProcessData(ctx, testEvents()[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("ProcessData after Cleanup: error = %v, want ErrClosed", err)
	}
}

func TestJournal_FlushInterval(t *testing.T) {
	db := &fakeDB{}
	cfg := WriterConfig{BatchSize: 100, FlushInterval: 10 * time.Millisecond, BufferSize: 10}
	w := NewJournal(cfg, db, nil, nil)

	ctx := context.Background()
	if err := w.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer w.Cleanup(ctx)

	w.ProcessData(ctx, testEvents()[0])

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(db.statements()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("partial batch not flushed by the ticker")
}

func TestJournal_Conflicts(t *testing.T) {
	db := &fakeDB{conflict: map[string]bool{"005930": true}}
	w := NewJournal(DefaultWriterConfig(), db, nil, nil)

	for _, ev := range testEvents() {
		w.handleEvent(ev)
	}
	if err := w.flush(context.Background()); err != nil {
		t.Fatalf("flush() error = %v", err)
	}

	stats := w.Stats()
	if stats.Conflicts != 3 || stats.TriggerInserts != 0 || stats.TickInserts != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestJournal_FlushError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewJournal(DefaultWriterConfig(), db, nil, nil)

	w.handleEvent(testEvents()[0])
	if err := w.flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	if got := w.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestJournal_CleanupWithoutInitialize(t *testing.T) {
	w := NewJournal(DefaultWriterConfig(), &fakeDB{}, nil, nil)

	if err := w.Cleanup(context.Background()); err != nil {
		t.Errorf("Cleanup() error = %v", err)
	}
}

func TestJournal_Stats(t *testing.T) {
	w := NewJournal(DefaultWriterConfig(), nil, nil, nil)

	stats := w.Stats()

	if stats.TriggerInserts != 0 || stats.TickInserts != 0 {
		t.Errorf("initial inserts = %+v, want 0", stats)
	}
	if stats.Errors != 0 {
		t.Errorf("initial Errors = %d, want 0", stats.Errors)
	}
}
