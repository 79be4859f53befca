package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kis-vi/internal/auth"
	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/model"
	"github.com/rickgao/kis-vi/internal/router"
)

// CredentialGuard is the part of auth.Guard the manager depends on.
type CredentialGuard interface {
	Check() error
	EnsureApprovalKey(ctx context.Context) error
	ApprovalKey() string
	Credential() auth.Credential
}

// Connection is one live socket. It is replaced wholesale on reconnect.
type Connection struct {
	ID       uuid.UUID
	URL      string
	OpenedAt time.Time

	transport     Transport
	lastHeartbeat time.Time
	lastPing      time.Time
}

// Manager owns the connection lifecycle.
type Manager struct {
	cfg      ManagerConfig
	guard    CredentialGuard
	dialer   Dialer
	decoder  *router.Decoder
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// conn is read by Status and released by Shutdown from other goroutines.
	mu   sync.Mutex
	conn *Connection

	connecting   atomic.Bool
	attempts     atomic.Int32
	generation   atomic.Uint64
	shutdown     atomic.Bool
	done         chan struct{}
	shutdownOnce sync.Once

	// Data frames that arrived while an acknowledgement was awaited.
	backlog [][]byte
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSleep overrides the reconnect delay wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// NewManager creates a Connection Manager and its Subscription Registry.
// The decoder is shared with the receive loop so key material captured
// during acknowledgements is visible to it.
func NewManager(cfg ManagerConfig, guard CredentialGuard, dialer Dialer, decoder *router.Decoder, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		guard:   guard,
		dialer:  dialer,
		decoder: decoder,
		logger:  slog.Default(),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	m.sleep = m.wait

	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connection")
	m.registry = newRegistry(m, m.isAccountChannel, m.logger, m.metrics)

	return m
}

// Registry returns the subscription registry bound to this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Connect opens a new connection and establishes the account channel.
// It fails fast with ErrConnectInProgress if another connect is running,
// and with an *auth.AuthError if the token is expired or no approval key
// can be issued. On success the reconnect counter is reset and every
// active subscription has been replayed. A connection lost during replay
// is a *TransportError and leaves the counter alone.
func (m *Manager) Connect(ctx context.Context) error {
	if m.shutdown.Load() {
		return ErrShutdown
	}
	if !m.connecting.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}
	defer m.connecting.Store(false)

	if err := m.guard.Check(); err != nil {
		m.metrics.ConnectResult("auth_error")
		m.logger.Error("connect refused", "error", err)
		return err
	}
	if err := m.guard.EnsureApprovalKey(ctx); err != nil {
		m.metrics.ConnectResult("auth_error")
		m.logger.Error("connect refused", "error", err)
		return err
	}

	// Release any stale transport before replacing it.
	m.Close()

	cred := m.guard.Credential()
	url := m.endpoint(cred.Live)

	t, err := m.dialer.Dial(ctx, url)
	if err != nil {
		m.metrics.ConnectResult("transport_error")
		m.logger.Error("dial failed", "url", url, "mode", cred.Mode(), "error", err)
		return &TransportError{Op: "dial", Err: err}
	}

	now := m.now()
	conn := &Connection{
		ID:            uuid.New(),
		URL:           url,
		OpenedAt:      now,
		transport:     t,
		lastHeartbeat: now,
	}

	m.mu.Lock()
	if m.shutdown.Load() {
		m.mu.Unlock()
		t.Close()
		return ErrShutdown
	}
	m.conn = conn
	m.mu.Unlock()

	m.backlog = nil
	m.generation.Add(1)

	logger := m.logger.With("session_id", conn.ID, "mode", cred.Mode())
	logger.Info("websocket connected", "url", url)

	account := model.Subscription{TrID: m.accountTrID(cred.Live), TrKey: cred.HTSID}
	ctrl, err := m.registry.request(ctx, model.Subscribe, account)
	if err != nil || !ctrl.OK() {
		m.Close()
		m.metrics.ConnectResult("subscription_error")
		subErr := &SubscriptionError{TrID: account.TrID, TrKey: account.TrKey, Err: err}
		if ctrl != nil {
			subErr.Code = ctrl.Code
			subErr.Message = ctrl.Message
		}
		logger.Error("account channel subscription failed, connection torn down", "error", subErr)
		return subErr
	}

	if err := m.registry.replay(ctx); err != nil || m.current() != conn {
		if err == nil {
			err = ErrNotConnected
		}
		m.Close()
		m.metrics.ConnectResult("transport_error")
		logger.Error("connection lost while replaying subscriptions", "error", err)
		return &TransportError{Op: "replay", Err: err}
	}

	m.attempts.Store(0)
	m.metrics.ConnectResult("ok")
	logger.Info("session established", "active_subscriptions", len(m.registry.Active()))
	return nil
}

// EnsureConnection is the health-check and reconnect entry point.
//
// Without a live connection it waits ReconnectDelay and connects again,
// counting the attempt first; once MaxReconnectAttempts is reached it
// returns ErrReconnectsExhausted without resetting the counter. With a
// live connection it runs the keepalive check, and a failure there takes
// the same reconnect path.
func (m *Manager) EnsureConnection(ctx context.Context) error {
	if m.shutdown.Load() {
		return ErrShutdown
	}

	conn := m.current()
	if conn == nil {
		return m.reconnect(ctx)
	}

	if err := m.keepalive(conn); err != nil {
		m.metrics.KeepaliveFailure()
		m.MarkDead(err)
		return m.reconnect(ctx)
	}
	return nil
}

func (m *Manager) reconnect(ctx context.Context) error {
	attempt := int(m.attempts.Load())
	if attempt >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("giving up on reconnect",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
		)
		return fmt.Errorf("%w after %d attempts", ErrReconnectsExhausted, attempt)
	}

	attempt = int(m.attempts.Add(1))
	m.metrics.ReconnectAttempt()
	m.logger.Warn("reconnecting",
		"attempt", attempt,
		"max_attempts", m.cfg.MaxReconnectAttempts,
		"delay", m.cfg.ReconnectDelay,
	)

	if err := m.sleep(ctx, m.cfg.ReconnectDelay); err != nil {
		return err
	}
	if m.shutdown.Load() {
		return ErrShutdown
	}

	if err := m.Connect(ctx); err != nil {
		m.logger.Warn("reconnect failed",
			"attempt", attempt,
			"max_attempts", m.cfg.MaxReconnectAttempts,
			"error", err,
		)
		return err
	}

	m.logger.Info("reconnected", "attempt", attempt)
	return nil
}

// keepalive probes the connection according to the configured mode.
func (m *Manager) keepalive(conn *Connection) error {
	now := m.now()

	if m.cfg.KeepaliveMode == KeepaliveProbe {
		if err := conn.transport.Ping(); err != nil {
			return &TransportError{Op: "probe", Err: err}
		}
		conn.lastPing = now
		return nil
	}

	last := conn.lastHeartbeat
	if pong := conn.transport.LastPong(); pong.After(last) {
		last = pong
	}
	if silence := now.Sub(last); silence > m.cfg.SilenceWindow {
		return &TransportError{Op: "keepalive", Err: fmt.Errorf("%w (%s)", ErrSilenceExceeded, silence.Round(time.Second))}
	}

	if now.Sub(conn.lastPing) >= m.cfg.PingInterval {
		if err := conn.transport.Ping(); err != nil {
			return &TransportError{Op: "probe", Err: err}
		}
		conn.lastPing = now
	}
	return nil
}

// Receive returns the next raw frame, ErrReceiveTimeout when ReadTimeout
// passes without one, or a *TransportError.
func (m *Manager) Receive(ctx context.Context) ([]byte, error) {
	if len(m.backlog) > 0 {
		data := m.backlog[0]
		m.backlog = m.backlog[1:]
		return data, nil
	}

	conn := m.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	data, err := conn.transport.Receive(ctx, m.cfg.ReadTimeout)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, ErrReceiveTimeout), ctx.Err() != nil:
		return nil, err
	case m.shutdown.Load():
		return nil, ErrShutdown
	}
	return nil, &TransportError{Op: "receive", Err: err}
}

// NoteHeartbeat records liveness and echoes the heartbeat back to the gateway.
func (m *Manager) NoteHeartbeat(raw []byte) {
	conn := m.current()
	if conn == nil {
		return
	}
	m.noteHeartbeat(conn, raw)
}

func (m *Manager) noteHeartbeat(conn *Connection, raw []byte) {
	conn.lastHeartbeat = m.now()
	m.metrics.Heartbeat()

	if err := conn.transport.Send(raw); err != nil {
		m.logger.Debug("heartbeat echo failed", "session_id", conn.ID, "error", err)
	}
}

// MarkDead tears down the current connection after a transport failure.
func (m *Manager) MarkDead(cause error) {
	if conn := m.current(); conn != nil {
		m.logger.Warn("connection presumed dead", "session_id", conn.ID, "error", cause)
	}
	m.Close()
}

// Close releases the transport. The reconnect counter and the registry are
// left untouched. Closing an absent connection is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	m.logger.Debug("closing connection", "session_id", conn.ID)
	if err := conn.transport.Close(); err != nil {
		m.logger.Debug("transport close failed", "session_id", conn.ID, "error", err)
		return err
	}
	return nil
}

// Shutdown closes the connection for good. It is idempotent and may be
// called from any goroutine; it interrupts a pending reconnect wait and
// any blocked Receive.
func (m *Manager) Shutdown() error {
	m.shutdownOnce.Do(func() {
		m.shutdown.Store(true)
		close(m.done)
		m.logger.Info("connection manager shutting down")
	})
	return m.Close()
}

// ResetAttempts clears the reconnect counter so a new cycle may begin.
func (m *Manager) ResetAttempts() {
	m.attempts.Store(0)
}

// Generation increments on every successful dial.
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	return m.current() != nil
}

// Status returns a snapshot for health reporting.
func (m *Manager) Status() Status {
	s := Status{
		Attempts:     int(m.attempts.Load()),
		MaxAttempts:  m.cfg.MaxReconnectAttempts,
		Generation:   m.generation.Load(),
		ShuttingDown: m.shutdown.Load(),
		Active:       m.registry.Active(),
	}
	if conn := m.current(); conn != nil {
		s.Connected = true
		s.SessionID = conn.ID.String()
		s.URL = conn.URL
		s.ConnectedAt = conn.OpenedAt
	}
	return s
}

// exchange sends one request and waits for its acknowledgement. Heartbeats
// received meanwhile update liveness; data frames are queued for Receive.
func (m *Manager) exchange(ctx context.Context, payload []byte) (*router.Control, error) {
	conn := m.current()
	if conn == nil {
		return nil, ErrNotConnected
	}

	if err := conn.transport.Send(payload); err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}

	ackCtx, cancel := context.WithTimeout(ctx, m.cfg.AckTimeout)
	defer cancel()

	for {
		data, err := conn.transport.Receive(ackCtx, 0)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = ErrAckTimeout
			}
			return nil, &TransportError{Op: "await ack", Err: err}
		}

		frame, err := m.decoder.Decode(data)
		if err != nil {
			m.metrics.ProtocolError()
			m.logger.Warn("discarding frame while awaiting ack", "error", err)
			continue
		}

		switch frame.Kind {
		case router.KindHeartbeat:
			m.noteHeartbeat(conn, data)
		case router.KindData:
			m.backlog = append(m.backlog, data)
		case router.KindControl:
			return frame.Control, nil
		}
	}
}

func (m *Manager) current() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) endpoint(live bool) string {
	if live {
		return m.cfg.LiveURL
	}
	return m.cfg.PaperURL
}

func (m *Manager) accountTrID(live bool) string {
	if live {
		return m.cfg.AccountTrIDLive
	}
	return m.cfg.AccountTrIDPaper
}

func (m *Manager) isAccountChannel(trID string) bool {
	return trID == m.cfg.AccountTrIDLive || trID == m.cfg.AccountTrIDPaper
}

func (m *Manager) approvalKey() string {
	return m.guard.ApprovalKey()
}

// wait sleeps for d unless ctx is cancelled or the manager shuts down.
func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrShutdown
	}
}
