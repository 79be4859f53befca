package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open socket to the gateway.
type Transport interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Receive returns the next inbound frame. A positive timeout bounds the
	// wait and yields ErrReceiveTimeout when it elapses; zero waits until a
	// frame, ctx cancellation, or a transport failure.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Ping sends a keepalive probe.
	Ping() error

	// LastPong returns when the peer last answered a probe.
	LastPong() time.Time

	// Close releases the socket and unblocks Receive. Safe to call more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// NewDialer returns a Dialer producing gorilla websocket transports.
func NewDialer(cfg ClientConfig, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsDialer{cfg: cfg, logger: logger}
}

type wsDialer struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// Dial establishes the websocket and starts its read loop.
func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	bufSize := d.cfg.BufferSize
	if bufSize < 1 {
		bufSize = 1
	}

	c := &client{
		cfg:      d.cfg,
		logger:   d.logger,
		conn:     conn,
		messages: make(chan []byte, bufSize),
		dead:     make(chan struct{}),
		done:     make(chan struct{}),
		lastPong: time.Now(),
	}

	// Server pings are answered and count as liveness.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()

	d.logger.Debug("websocket connected", "url", url)
	return c, nil
}

// client implements Transport over a gorilla websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger
	conn   *websocket.Conn

	messages chan []byte
	dead     chan struct{} // closed when the read loop fails
	done     chan struct{} // closed by Close
	readErr  error

	writeMu sync.Mutex

	mu        sync.Mutex
	lastPong  time.Time
	closeOnce sync.Once
}

func (c *client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrAlreadyClosed
	case <-c.dead:
		return c.err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data := <-c.messages:
		return data, nil
	case <-c.dead:
		// Frames read before the failure are still delivered.
		select {
		case data := <-c.messages:
			return data, nil
		default:
		}
		return nil, c.err()
	case <-c.done:
		return nil, ErrAlreadyClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		return nil, ErrReceiveTimeout
	}
}

func (c *client) Ping() error {
	select {
	case <-c.done:
		return ErrAlreadyClosed
	case <-c.dead:
		return c.err()
	default:
	}
	return c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
}

func (c *client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

func (c *client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		return ErrNotConnected
	}
	return c.readErr
}

// readLoop forwards inbound frames until the socket fails or is closed.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally; the error is expected.
			default:
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
				c.logger.Debug("websocket read failed", "error", err)
			}
			close(c.dead)
			return
		}

		select {
		case c.messages <- data:
		case <-c.done:
			return
		}
	}
}
