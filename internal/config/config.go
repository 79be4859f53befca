package config

import "time"

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	KIS         KISConfig         `yaml:"kis"`
	Auth        AuthConfig        `yaml:"auth"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Session     SessionConfig     `yaml:"session"`
	MarketHours MarketHoursConfig `yaml:"market_hours"`
	Database    DBConfig          `yaml:"database"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// KISConfig holds the gateway endpoints. The live or paper pair is chosen
// by the credential's mode.
type KISConfig struct {
	WSURLLive      string        `yaml:"ws_url_live"`
	WSURLPaper     string        `yaml:"ws_url_paper"`
	RestURLLive    string        `yaml:"rest_url_live"`
	RestURLPaper   string        `yaml:"rest_url_paper"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// AuthConfig holds the external account service settings.
type AuthConfig struct {
	BaseURL        string `yaml:"base_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AccountNo      string `yaml:"account_no"`
	CredentialFile string `yaml:"credential_file"`
}

// ConnectionConfig holds the streaming connection policy.
type ConnectionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	KeepaliveMode        string        `yaml:"keepalive_mode"` // "probe" or "interval"
	PingInterval         time.Duration `yaml:"ping_interval"`
	SilenceWindow        time.Duration `yaml:"silence_window"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	GiveUpCooldown       time.Duration `yaml:"give_up_cooldown"`
}

// ChannelsConfig names the TR codes used by the monitor.
type ChannelsConfig struct {
	TriggerTrID      string `yaml:"trigger_tr_id"`
	TriggerTrKey     string `yaml:"trigger_tr_key"`
	TradeTrID        string `yaml:"trade_tr_id"`
	AccountTrIDLive  string `yaml:"account_tr_id_live"`
	AccountTrIDPaper string `yaml:"account_tr_id_paper"`
}

// TrackerConfig holds trigger-window settings.
type TrackerConfig struct {
	Window time.Duration `yaml:"window"`
}

// SessionConfig holds receive-loop settings.
type SessionConfig struct {
	EventBufferSize int      `yaml:"event_buffer_size"`
	Symbols         []string `yaml:"symbols"` // Trade channels opened without a trigger
}

// MarketHoursConfig controls waiting for the exchange session.
type MarketHoursConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	MIC          string        `yaml:"mic"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// IsEnabled reports whether market-hours gating is on. Unset means on.
func (m MarketHoursConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// DBConfig holds the journal database connection. An empty host disables the journal.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// JournalConfig holds batch writer settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds health and Prometheus settings. A negative port disables the server.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
