// monitor watches KRX volatility-interruption triggers and streams trades for
// each triggered symbol while its window is open.
// Usage: go run ./cmd/monitor --config configs/monitor.local.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kis-vi/internal/auth"
	"github.com/rickgao/kis-vi/internal/config"
	"github.com/rickgao/kis-vi/internal/connection"
	"github.com/rickgao/kis-vi/internal/database"
	"github.com/rickgao/kis-vi/internal/market"
	"github.com/rickgao/kis-vi/internal/metrics"
	"github.com/rickgao/kis-vi/internal/router"
	"github.com/rickgao/kis-vi/internal/session"
	"github.com/rickgao/kis-vi/internal/strategy"
	"github.com/rickgao/kis-vi/internal/version"
	"github.com/rickgao/kis-vi/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	// A missing dotenv file is fine; the environment may already be set.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting monitor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("monitor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("monitor stopped")
}

func run(cfg *config.MonitorConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)

	// Credential
	store := auth.NewEnvStore(cfg.Auth.CredentialFile)
	accounts := auth.NewAccountService(auth.AccountConfig{
		BaseURL:   cfg.Auth.BaseURL,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		AccountNo: cfg.Auth.AccountNo,
	}, store, nil, logger)

	cred, err := accounts.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("credential ready",
		"account", cred.AccountNo,
		"mode", cred.Mode(),
		"expires", auth.FormatExpiry(cred.TokenExpiry),
	)

	issuer := auth.NewApprovalClient(cfg.KIS.RestURLLive, cfg.KIS.RestURLPaper,
		auth.WithLogger(logger),
		auth.WithTimeout(cfg.KIS.RequestTimeout),
		auth.WithRetries(cfg.KIS.MaxRetries, time.Second),
	)
	guard := auth.NewGuard(cred, issuer, store, auth.WithGuardLogger(logger))
	if err := guard.Check(); err != nil {
		return err
	}

	// Market hours
	if cfg.MarketHours.IsEnabled() {
		hours := market.NewHours(cfg.MarketHours.MIC, logger)
		if err := hours.WaitOpen(ctx, cfg.MarketHours.PollInterval); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for market open: %w", err)
		}
	}

	// Strategies
	monitor := strategy.NewVIMonitor(logger)
	strategies := strategy.Chain{monitor}

	if cfg.Database.Enabled() {
		pool, err := openJournalDB(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		journal := writer.NewJournal(writer.WriterConfig{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, logger, mt)
		strategies = append(strategies, journal)
	} else {
		logger.Info("database not configured, journal disabled")
	}

	driver := strategy.NewDriver(strategies, logger)
	if err := driver.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		driver.Stop(stopCtx)
	}()

	// Streaming session
	decoder := router.NewDecoder(cfg.Channels.AccountTrIDLive, cfg.Channels.AccountTrIDPaper)
	clientCfg := connection.DefaultClientConfig()
	clientCfg.HandshakeTimeout = cfg.Connection.HandshakeTimeout
	clientCfg.WriteTimeout = cfg.Connection.WriteTimeout
	dialer := connection.NewDialer(clientCfg, logger)

	mgr := connection.NewManager(managerConfig(cfg), guard, dialer, decoder,
		connection.WithLogger(logger),
		connection.WithMetrics(mt),
	)

	sess := session.New(session.Config{
		Channels: router.Channels{
			TriggerTrID: cfg.Channels.TriggerTrID,
			TradeTrID:   cfg.Channels.TradeTrID,
		},
		TriggerTrKey:    cfg.Channels.TriggerTrKey,
		TriggerWindow:   cfg.Tracker.Window,
		EventBufferSize: cfg.Session.EventBufferSize,
		Symbols:         cfg.Session.Symbols,
		GiveUpCooldown:  cfg.Connection.GiveUpCooldown,
	}, mgr, decoder,
		session.WithLogger(logger),
		session.WithMetrics(mt),
	)

	var healthServer *http.Server
	if cfg.Metrics.Port >= 0 {
		healthServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           createHealthHandler(sess, monitor, reg, cfg.Metrics.Path),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting health server", "port", cfg.Metrics.Port)
			if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		// The driver stops when the event sequence ends, after the session
		// has drained, so it does not follow gctx.
		return driver.Run(context.WithoutCancel(gctx), sess)
	})
	g.Go(func() error {
		<-gctx.Done()
		sess.Shutdown()
		return nil
	})

	logger.Info("monitor running", "mode", cred.Mode())

	// Give-up without a cooldown and an expired token end Run with an
	// error; cancel so the shutdown goroutine returns.
	err = g.Wait()
	cancel()

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		healthServer.Shutdown(shutdownCtx)
	}

	logger.Info("session ended", "status", sess.Status().String())
	return err
}

func openJournalDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	applied, err := database.Migrate(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("database connected", "migrations", applied)
	return pool, nil
}

func managerConfig(cfg *config.MonitorConfig) connection.ManagerConfig {
	c := cfg.Connection
	return connection.ManagerConfig{
		LiveURL:              cfg.KIS.WSURLLive,
		PaperURL:             cfg.KIS.WSURLPaper,
		AccountTrIDLive:      cfg.Channels.AccountTrIDLive,
		AccountTrIDPaper:     cfg.Channels.AccountTrIDPaper,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		ReconnectDelay:       c.ReconnectDelay,
		KeepaliveMode:        connection.KeepaliveMode(c.KeepaliveMode),
		PingInterval:         c.PingInterval,
		SilenceWindow:        c.SilenceWindow,
		ReadTimeout:          c.ReadTimeout,
		AckTimeout:           c.AckTimeout,
	}
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler), nil
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(sess *session.Session, monitor *strategy.VIMonitor, g prometheus.Gatherer, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := sess.Status()

		health := struct {
			Status  string         `json:"status"`
			Session session.Status `json:"session"`
		}{
			Status:  "healthy",
			Session: st,
		}
		switch {
		case !st.Running:
			health.Status = "stopped"
		case !st.Connection.Connected:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "stopped" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/triggers", func(w http.ResponseWriter, r *http.Request) {
		stats := monitor.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":   len(stats),
			"symbols": stats,
		})
	})

	mux.Handle(metricsPath, metrics.Handler(g))

	return mux
}
