// streamtest connects to the KIS streaming gateway and prints decoded events
// to the console. Market-hours gating and the journal are skipped.
// Usage: go run ./cmd/streamtest --config configs/monitor.local.yaml --symbol 005930
//
// The credential is read from auth.credential_file (default .env); run the
// monitor once to populate it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/kis-vi/internal/auth"
	"github.com/rickgao/kis-vi/internal/config"
	"github.com/rickgao/kis-vi/internal/connection"
	"github.com/rickgao/kis-vi/internal/model"
	"github.com/rickgao/kis-vi/internal/router"
	"github.com/rickgao/kis-vi/internal/session"
)

func main() {
	configPath := flag.String("config", "configs/monitor.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	symbols := flag.String("symbol", "", "comma-separated symbols to stream trades for without a trigger")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the stored credential
	store := auth.NewEnvStore(cfg.Auth.CredentialFile)
	cred, err := store.Load()
	if err != nil {
		logger.Error("failed to load credential", "file", store.Path(), "error", err)
		os.Exit(1)
	}
	logger.Info("using credential", "account", cred.AccountNo, "mode", cred.Mode())

	issuer := auth.NewApprovalClient(cfg.KIS.RestURLLive, cfg.KIS.RestURLPaper, auth.WithLogger(logger))
	guard := auth.NewGuard(*cred, issuer, nil, auth.WithGuardLogger(logger))

	decoder := router.NewDecoder(cfg.Channels.AccountTrIDLive, cfg.Channels.AccountTrIDPaper)
	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.LiveURL = cfg.KIS.WSURLLive
	mgrCfg.PaperURL = cfg.KIS.WSURLPaper
	mgrCfg.AccountTrIDLive = cfg.Channels.AccountTrIDLive
	mgrCfg.AccountTrIDPaper = cfg.Channels.AccountTrIDPaper

	mgr := connection.NewManager(mgrCfg, guard,
		connection.NewDialer(connection.DefaultClientConfig(), logger),
		decoder,
		connection.WithLogger(logger),
	)

	sessCfg := session.DefaultConfig()
	sessCfg.Channels = router.Channels{
		TriggerTrID: cfg.Channels.TriggerTrID,
		TradeTrID:   cfg.Channels.TradeTrID,
	}
	sessCfg.TriggerTrKey = cfg.Channels.TriggerTrKey
	for _, code := range strings.Split(*symbols, ",") {
		if code = strings.TrimSpace(code); code != "" {
			sessCfg.Symbols = append(sessCfg.Symbols, code)
		}
	}
	sess := session.New(sessCfg, mgr, decoder, session.WithLogger(logger))

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		sess.Shutdown()
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- sess.Run(ctx)
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := sess.Status()
				logger.Info("stats",
					"connected", st.Connection.Connected,
					"generation", st.Connection.Generation,
					"subscriptions", len(st.Connection.Active),
					"triggers", len(st.Triggers),
					"frames_data", st.Frames.DataFrames,
					"heartbeats", st.Frames.Heartbeats,
					"parse_errors", st.Frames.ParseErrors,
					"queued", st.QueuedEvents,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	for ev := range sess.Events() {
		printEvent(ev, *verbose)
	}

	if err := <-runErr; err != nil {
		logger.Error("session ended with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", strings.ToUpper(model.EventType(ev)), data)
		return
	}

	switch e := ev.(type) {
	case model.TriggerEvent:
		fmt.Printf("[TRIGGER] code=%s time=%s price=%s kind=%s\n", e.Code, e.Time, e.Price, e.Kind)
	case model.TradeTick:
		fmt.Printf("[TRADE] code=%s price=%s cum_volume=%d\n", e.Code, e.Price, e.CumulativeVolume)
	default:
		fmt.Printf("[%s] code=%s\n", strings.ToUpper(model.EventType(ev)), ev.Symbol())
	}
}
