package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/kis-vi/internal/model"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrConnectInProgress   = errors.New("connect already in progress")
	ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")
	ErrSilenceExceeded     = errors.New("no heartbeat within silence window")
	ErrReceiveTimeout      = errors.New("receive timeout")
	ErrAckTimeout          = errors.New("acknowledgement timeout")
	ErrShutdown            = errors.New("shut down")
	ErrAlreadyClosed       = errors.New("already closed")
)

// TransportError reports a socket-level failure. It triggers the reconnect policy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SubscriptionError reports a subscription the gateway did not accept.
type SubscriptionError struct {
	TrID    string
	TrKey   string
	Code    string // rt_cd, empty when no acknowledgement arrived
	Message string // msg1
	Err     error
}

func (e *SubscriptionError) Error() string {
	msg := fmt.Sprintf("subscription %s failed", model.Subscription{TrID: e.TrID, TrKey: e.TrKey})
	if e.Code != "" {
		msg += fmt.Sprintf(": rt_cd=%s %s", e.Code, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// KeepaliveMode selects how EnsureConnection checks liveness.
type KeepaliveMode string

const (
	// KeepaliveProbe pings on every health check.
	KeepaliveProbe KeepaliveMode = "probe"
	// KeepaliveInterval pings at most once per PingInterval and presumes the
	// connection dead after SilenceWindow without a heartbeat or pong.
	KeepaliveInterval KeepaliveMode = "interval"
)

// ClientConfig configures a websocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // Inbound frame channel size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	LiveURL          string
	PaperURL         string
	AccountTrIDLive  string
	AccountTrIDPaper string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	KeepaliveMode        KeepaliveMode
	PingInterval         time.Duration
	SilenceWindow        time.Duration
	ReadTimeout          time.Duration
	AckTimeout           time.Duration
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LiveURL:              "ws://ops.koreainvestment.com:21000",
		PaperURL:             "ws://ops.koreainvestment.com:31000",
		AccountTrIDLive:      "H0STCNI0",
		AccountTrIDPaper:     "H0STCNI9",
		MaxReconnectAttempts: 3,
		ReconnectDelay:       5 * time.Second,
		KeepaliveMode:        KeepaliveInterval,
		PingInterval:         30 * time.Second,
		SilenceWindow:        60 * time.Second,
		ReadTimeout:          time.Second,
		AckTimeout:           10 * time.Second,
	}
}

// Status is a point-in-time view of the manager, safe to read from any goroutine.
type Status struct {
	Connected    bool                 `json:"connected"`
	SessionID    string               `json:"session_id,omitempty"`
	URL          string               `json:"url,omitempty"`
	ConnectedAt  time.Time            `json:"connected_at,omitzero"`
	Attempts     int                  `json:"reconnect_attempts"`
	MaxAttempts  int                  `json:"max_reconnect_attempts"`
	Generation   uint64               `json:"generation"`
	ShuttingDown bool                 `json:"shutting_down"`
	Active       []model.Subscription `json:"active_subscriptions"`
}
