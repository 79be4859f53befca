package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURLLive            = "ws://ops.koreainvestment.com:21000"
	DefaultWSURLPaper           = "ws://ops.koreainvestment.com:31000"
	DefaultRestURLLive          = "https://openapi.koreainvestment.com:9443"
	DefaultRestURLPaper         = "https://openapivts.koreainvestment.com:29443"
	DefaultRequestTimeout       = 10 * time.Second
	DefaultMaxRetries           = 3
	DefaultCredentialFile       = ".env"
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectDelay       = 5 * time.Second
	DefaultKeepaliveMode        = KeepaliveInterval
	DefaultPingInterval         = 30 * time.Second
	DefaultSilenceWindow        = 60 * time.Second
	DefaultReadTimeout          = 1 * time.Second
	DefaultAckTimeout           = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultTriggerTrID          = "H0STCNT0"
	DefaultTradeTrID            = "H0STASP0"
	DefaultAccountTrIDLive      = "H0STCNI0"
	DefaultAccountTrIDPaper     = "H0STCNI9"
	DefaultTriggerWindow        = 120 * time.Second
	DefaultEventBufferSize      = 1024
	DefaultMarketMIC            = "xkrx"
	DefaultMarketPollInterval   = 1 * time.Minute
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 5000
	DefaultMetricsPort          = 8080
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// Keepalive modes.
const (
	KeepaliveProbe    = "probe"
	KeepaliveInterval = "interval"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *MonitorConfig) ApplyDefaults() {
	// Gateway defaults
	if c.KIS.WSURLLive == "" {
		c.KIS.WSURLLive = DefaultWSURLLive
	}
	if c.KIS.WSURLPaper == "" {
		c.KIS.WSURLPaper = DefaultWSURLPaper
	}
	if c.KIS.RestURLLive == "" {
		c.KIS.RestURLLive = DefaultRestURLLive
	}
	if c.KIS.RestURLPaper == "" {
		c.KIS.RestURLPaper = DefaultRestURLPaper
	}
	if c.KIS.RequestTimeout == 0 {
		c.KIS.RequestTimeout = DefaultRequestTimeout
	}
	if c.KIS.MaxRetries == 0 {
		c.KIS.MaxRetries = DefaultMaxRetries
	}

	if c.Auth.CredentialFile == "" {
		c.Auth.CredentialFile = DefaultCredentialFile
	}

	// Connection defaults
	conn := &c.Connection
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.ReconnectDelay == 0 {
		conn.ReconnectDelay = DefaultReconnectDelay
	}
	if conn.KeepaliveMode == "" {
		conn.KeepaliveMode = DefaultKeepaliveMode
	}
	if conn.PingInterval == 0 {
		conn.PingInterval = DefaultPingInterval
	}
	if conn.SilenceWindow == 0 {
		conn.SilenceWindow = DefaultSilenceWindow
	}
	if conn.ReadTimeout == 0 {
		conn.ReadTimeout = DefaultReadTimeout
	}
	if conn.AckTimeout == 0 {
		conn.AckTimeout = DefaultAckTimeout
	}
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}

	// Channel defaults. The trigger key stays empty: it is a broadcast channel.
	if c.Channels.TriggerTrID == "" {
		c.Channels.TriggerTrID = DefaultTriggerTrID
	}
	if c.Channels.TradeTrID == "" {
		c.Channels.TradeTrID = DefaultTradeTrID
	}
	if c.Channels.AccountTrIDLive == "" {
		c.Channels.AccountTrIDLive = DefaultAccountTrIDLive
	}
	if c.Channels.AccountTrIDPaper == "" {
		c.Channels.AccountTrIDPaper = DefaultAccountTrIDPaper
	}

	if c.Tracker.Window == 0 {
		c.Tracker.Window = DefaultTriggerWindow
	}
	if c.Session.EventBufferSize == 0 {
		c.Session.EventBufferSize = DefaultEventBufferSize
	}

	if c.MarketHours.MIC == "" {
		c.MarketHours.MIC = DefaultMarketMIC
	}
	if c.MarketHours.PollInterval == 0 {
		c.MarketHours.PollInterval = DefaultMarketPollInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
