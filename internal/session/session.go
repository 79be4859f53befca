package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/kis-vi/internal/auth"
	"github.com/rickgao/kis-vi/internal/connection"
	"github.com/rickgao/kis-vi/internal/market"
	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
	"github.com/rickgao/kis-vi/internal/router"
)

// Errors
var (
	ErrAlreadyRunning = errors.New("session already running")
)

// Config configures a Session.
type Config struct {
	Channels     router.Channels
	TriggerTrKey string // Empty for the broadcast trigger channel

	TriggerWindow   time.Duration
	EventBufferSize int

	// Symbols have their trade channel opened on the first connection,
	// independent of triggers. They are never expired by the tracker.
	Symbols []string

	// GiveUpCooldown, when positive, turns reconnect exhaustion into a pause:
	// the loop waits this long, resets the counter, and starts a new cycle.
	GiveUpCooldown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Channels: router.Channels{
			TriggerTrID: "H0STCNT0",
			TradeTrID:   "H0STASP0",
		},
		TriggerWindow:   market.DefaultWindow,
		EventBufferSize: 1024,
	}
}

// Session owns the receive loop.
type Session struct {
	cfg        Config
	mgr        *connection.Manager
	decoder    *router.Decoder
	dispatcher *router.Dispatcher
	tracker    *market.Tracker
	events     *router.GrowableBuffer[model.Event]
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	// Connection generation on which the trigger channel was last requested.
	triggerGen uint64
	pinned     bool

	running      atomic.Bool
	finished     atomic.Bool
	shutdown     atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once
	finishOnce   sync.Once

	errMu sync.Mutex
	err   error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithClock overrides the time source stamped on events.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New creates a session over mgr. The decoder must be the one mgr was built
// with so key material captured during acknowledgements is shared.
func New(cfg Config, mgr *connection.Manager, decoder *router.Decoder, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		mgr:        mgr,
		decoder:    decoder,
		dispatcher: router.NewDispatcher(cfg.Channels),
		logger:     slog.Default(),
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	s.events = router.NewGrowableBuffer[model.Event](cfg.EventBufferSize)
	s.tracker = market.NewTracker(cfg.TriggerWindow, s,
		market.WithLogger(s.logger),
		market.WithMetrics(s.metrics),
		market.WithClock(s.now),
	)
	return s
}

// Events returns the event sequence. It is lazy and unbounded, has a single
// consumer, and cannot be restarted; it ends after Run returns and every
// queued event has been yielded.
func (s *Session) Events() iter.Seq[model.Event] {
	return s.events.All()
}

// Err returns why the sequence ended: nil after Shutdown or cancellation,
// an error wrapping connection.ErrReconnectsExhausted on give-up, or the
// auth error that made connecting impossible.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Tracker exposes the trigger state.
func (s *Session) Tracker() *market.Tracker {
	return s.tracker
}

// Run connects and processes frames until shutdown, ctx cancellation, or
// give-up. It may be called once.
//
// The initial connect is not a reconnect: when it fails, the loop still
// makes up to MaxReconnectAttempts reconnects before giving up, so an
// unreachable gateway sees one more dial than the cap.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.finish()

	if s.shutdown.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("session starting",
		"trigger_tr_id", s.cfg.Channels.TriggerTrID,
		"trade_tr_id", s.cfg.Channels.TradeTrID,
	)

	if err := s.mgr.Connect(ctx); err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			s.setErr(err)
			s.logger.Error("access token expired, not connecting", "error", err)
			return err
		}
		s.logger.Warn("initial connect failed", "error", err)
	}

	for {
		if s.shutdown.Load() || ctx.Err() != nil {
			return nil
		}

		if err := s.mgr.EnsureConnection(ctx); err != nil {
			stop, err := s.handleConnectError(ctx, err)
			if stop {
				return err
			}
			continue
		}

		if err := s.ensureTriggerChannel(ctx); err != nil {
			s.logger.Error("trigger channel unavailable", "error", err)
			continue
		}
		s.openPinnedSymbols(ctx)

		raw, err := s.mgr.Receive(ctx)
		if err != nil {
			var te *connection.TransportError
			switch {
			case errors.Is(err, connection.ErrReceiveTimeout), errors.Is(err, connection.ErrNotConnected):
			case errors.Is(err, connection.ErrShutdown), ctx.Err() != nil:
				return nil
			case errors.As(err, &te):
				s.mgr.MarkDead(err)
			default:
				s.logger.Warn("receive failed", "error", err)
			}
			continue
		}

		s.handleFrame(ctx, raw)
	}
}

// handleConnectError decides whether a failed health check ends the loop.
func (s *Session) handleConnectError(ctx context.Context, err error) (bool, error) {
	switch {
	case errors.Is(err, connection.ErrShutdown), ctx.Err() != nil:
		return true, nil

	case errors.Is(err, auth.ErrTokenExpired):
		s.setErr(err)
		s.logger.Error("access token expired, giving up", "error", err)
		return true, err

	case errors.Is(err, connection.ErrReconnectsExhausted):
		if s.cfg.GiveUpCooldown <= 0 {
			s.setErr(err)
			s.logger.Error("reconnect attempts exhausted, ending session", "error", err)
			return true, err
		}

		s.logger.Warn("reconnect attempts exhausted, cooling down",
			"cooldown", s.cfg.GiveUpCooldown,
			"error", err,
		)
		if !s.wait(ctx, s.cfg.GiveUpCooldown) {
			return true, nil
		}
		s.mgr.ResetAttempts()
		return false, nil
	}

	// A single failed attempt; EnsureConnection counts it and the next
	// iteration retries after the reconnect delay.
	return false, nil
}

// ensureTriggerChannel subscribes the broadcast trigger channel once per
// connection. After a reconnect the registry has usually replayed it already.
func (s *Session) ensureTriggerChannel(ctx context.Context) error {
	gen := s.mgr.Generation()
	if gen == s.triggerGen {
		return nil
	}

	sub := model.Subscription{TrID: s.cfg.Channels.TriggerTrID, TrKey: s.cfg.TriggerTrKey}
	reg := s.mgr.Registry()
	if reg.IsActive(sub) {
		s.triggerGen = gen
		return nil
	}

	ok, err := reg.Subscribe(ctx, sub.TrID, sub.TrKey)
	if err != nil {
		return err
	}
	s.triggerGen = gen
	if !ok {
		return &connection.SubscriptionError{TrID: sub.TrID, TrKey: sub.TrKey}
	}
	return nil
}

// openPinnedSymbols subscribes cfg.Symbols once. After a reconnect the
// registry replays whichever of them succeeded.
func (s *Session) openPinnedSymbols(ctx context.Context) {
	if s.pinned {
		return
	}
	s.pinned = true
	for _, code := range s.cfg.Symbols {
		if err := s.SubscribeSymbol(ctx, code); err != nil {
			s.logger.Error("pinned symbol subscription failed", "symbol", code, "error", err)
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	receivedAt := s.now()

	frame, err := s.decoder.Decode(raw)
	if err != nil {
		s.metrics.ProtocolError()
		s.logger.Warn("discarding frame", "error", err)
		return
	}
	s.metrics.FrameReceived(frame.Kind.String())

	switch frame.Kind {
	case router.KindHeartbeat:
		s.mgr.NoteHeartbeat(raw)

	case router.KindControl:
		ctrl := frame.Control
		if !ctrl.OK() {
			s.logger.Warn("gateway reported error",
				"tr_id", ctrl.TrID,
				"tr_key", ctrl.TrKey,
				"rt_cd", ctrl.Code,
				"msg1", ctrl.Message,
			)
			return
		}
		s.logger.Debug("unsolicited control frame", "tr_id", ctrl.TrID, "msg1", ctrl.Message)

	case router.KindData:
		events, err := s.dispatcher.Events(frame, receivedAt)
		if err != nil {
			s.metrics.ProtocolError()
			s.logger.Warn("discarding data frame", "tr_id", frame.TrID, "error", err)
			return
		}
		if len(events) == 0 {
			s.logger.Debug("data frame passed through",
				"tr_id", frame.TrID,
				"encrypted", frame.Encrypted,
				"payload", frame.Payload,
			)
		}
		for _, ev := range events {
			s.tracker.Observe(ctx, ev)
			if !s.events.Send(ev) {
				return
			}
			s.metrics.EventEmitted(model.EventType(ev))
		}
		s.metrics.SetEventBufferLength(s.events.Len())
	}
}

// SubscribeSymbol opens the trade channel for code. It must only be called
// from the receive loop, which is where the tracker calls it.
func (s *Session) SubscribeSymbol(ctx context.Context, code string) error {
	ok, err := s.mgr.Registry().Subscribe(ctx, s.cfg.Channels.TradeTrID, code)
	if err != nil {
		return err
	}
	if !ok {
		return &connection.SubscriptionError{TrID: s.cfg.Channels.TradeTrID, TrKey: code}
	}
	return nil
}

// UnsubscribeSymbol closes the trade channel for code. Pinned symbols stay
// open when their trigger window expires.
func (s *Session) UnsubscribeSymbol(ctx context.Context, code string) error {
	if slices.Contains(s.cfg.Symbols, code) {
		return nil
	}
	ok, err := s.mgr.Registry().Unsubscribe(ctx, s.cfg.Channels.TradeTrID, code)
	if err != nil {
		return err
	}
	if !ok {
		return &connection.SubscriptionError{TrID: s.cfg.Channels.TradeTrID, TrKey: code}
	}
	return nil
}

// Shutdown stops the session. It is idempotent and safe to call from any
// goroutine, including a signal handler: it unblocks a pending receive,
// releases the transport, and ends the event sequence once Run returns.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shutdown.Store(true)
		close(s.done)
		s.logger.Info("shutdown requested")
	})
	s.mgr.Shutdown()

	// Without a running loop nobody else will end the sequence.
	if !s.running.Load() {
		s.events.Close()
	}
}

// finish runs once when Run exits.
func (s *Session) finish() {
	s.finishOnce.Do(func() {
		s.finished.Store(true)
		s.mgr.Shutdown()
		s.tracker.Clear()
		s.events.Close()
		s.logger.Info("session stopped", "error", s.Err())
	})
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// wait sleeps for d and reports false if interrupted.
func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

// Status is a snapshot for health reporting.
type Status struct {
	Running      bool                 `json:"running"`
	Connection   connection.Status    `json:"connection"`
	Triggers     []market.Entry       `json:"active_triggers"`
	QueuedEvents int                  `json:"queued_events"`
	KeysCaptured bool                 `json:"keys_captured"`
	Frames       router.DecoderStats  `json:"frames"`
	Dispatch     router.DispatchStats `json:"dispatch"`
	Err          string               `json:"error,omitempty"`
}

// Status returns a snapshot. Safe to call from any goroutine.
func (s *Session) Status() Status {
	st := Status{
		Running:      s.running.Load() && !s.finished.Load(),
		Connection:   s.mgr.Status(),
		Triggers:     s.tracker.Active(),
		QueuedEvents: s.events.Len(),
		KeysCaptured: !s.decoder.KeyMaterial().IsZero(),
		Frames:       s.decoder.Stats(),
		Dispatch:     s.dispatcher.Stats(),
	}
	if err := s.Err(); err != nil {
		st.Err = err.Error()
	}
	return st
}

func (s Status) String() string {
	return fmt.Sprintf("connected=%t triggers=%d queued=%d", s.Connection.Connected, len(s.Triggers), s.QueuedEvents)
}
