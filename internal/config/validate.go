package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// Every problem found is reported, joined into one error.
func (c *MonitorConfig) Validate() error {
	var errs []error

	if c.Auth.BaseURL == "" {
		errs = append(errs, errors.New("auth.base_url is required"))
	}
	if c.Auth.AccountNo == "" {
		errs = append(errs, errors.New("auth.account_no is required"))
	}

	conn := c.Connection
	if conn.MaxReconnectAttempts < 1 {
		errs = append(errs, errors.New("connection.max_reconnect_attempts must be >= 1"))
	}
	if conn.ReconnectDelay < 0 {
		errs = append(errs, errors.New("connection.reconnect_delay must not be negative"))
	}
	if conn.KeepaliveMode != KeepaliveProbe && conn.KeepaliveMode != KeepaliveInterval {
		errs = append(errs, fmt.Errorf("connection.keepalive_mode must be %q or %q, got %q",
			KeepaliveProbe, KeepaliveInterval, conn.KeepaliveMode))
	}
	if conn.PingInterval <= 0 {
		errs = append(errs, errors.New("connection.ping_interval must be positive"))
	}
	if conn.SilenceWindow < conn.PingInterval {
		errs = append(errs, fmt.Errorf("connection.silence_window (%s) cannot be shorter than ping_interval (%s)",
			conn.SilenceWindow, conn.PingInterval))
	}
	if conn.ReadTimeout <= 0 {
		errs = append(errs, errors.New("connection.read_timeout must be positive"))
	}
	if conn.AckTimeout <= 0 {
		errs = append(errs, errors.New("connection.ack_timeout must be positive"))
	}
	if conn.GiveUpCooldown < 0 {
		errs = append(errs, errors.New("connection.give_up_cooldown must not be negative"))
	}

	if c.Channels.TriggerTrID == "" || c.Channels.TradeTrID == "" {
		errs = append(errs, errors.New("channels.trigger_tr_id and channels.trade_tr_id are required"))
	}

	if c.Tracker.Window <= 0 {
		errs = append(errs, errors.New("tracker.window must be positive"))
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			errs = append(errs, err)
		}
		if c.Journal.BatchSize < 1 {
			errs = append(errs, errors.New("journal.batch_size must be >= 1"))
		}
		if c.Journal.BufferSize < 1 {
			errs = append(errs, errors.New("journal.buffer_size must be >= 1"))
		}
	}

	if c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics.port must be <= 65535, got %d", c.Metrics.Port))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", s)
}
