package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zapfield/zapfield/internal/config"
	"github.com/zapfield/zapfield/internal/gateway"
	"github.com/zapfield/zapfield/internal/notify"
	"github.com/zapfield/zapfield/internal/store"
	"github.com/zapfield/zapfield/internal/store/file"
	"github.com/zapfield/zapfield/internal/store/pg"
	"github.com/zapfield/zapfield/internal/wapp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := setupTelemetry(ctx, cfg)
	defer shutdownTelemetry()

	stores, closeStores := openStores(cfg)
	defer closeStores()

	factory := openFactory(ctx, cfg)

	hub := notify.NewHub()
	var notifier notify.Notifier = hub
	if cfg.Redis.Addr != "" {
		bridge, err := notify.NewRedisBridge(ctx, hub, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, store.GenNewID().String())
		if err != nil {
			slog.Error("redis bridge unavailable, events stay node-local", "addr", cfg.Redis.Addr, "error", err)
		} else {
			notifier = bridge
			defer bridge.Close()
		}
	}

	mgr := wapp.NewManager(factory, *stores, notifier)

	bootSessions(ctx, stores.Accounts, mgr)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	go func() {
		slog.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	watchConfig(cfg)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	mgr.Shutdown(shutdownCtx)
}

// openStores builds the store bundle for the configured mode.
func openStores(cfg *config.Config) (*store.Stores, func()) {
	switch cfg.Store.Mode {
	case "pg":
		db, err := pg.OpenDB(cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		return pg.NewPGStores(db), func() { db.Close() }
	default:
		if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
			slog.Error("cannot create data dir", "dir", cfg.Store.DataDir, "error", err)
			os.Exit(1)
		}
		return file.NewFileStores(store.StoreConfig{
			Mode:         cfg.Store.Mode,
			DataDir:      cfg.Store.DataDir,
			DeviceDBPath: cfg.Store.DeviceDB,
		}), func() {}
	}
}

// openFactory builds the gateway factory. The device container lives in
// Postgres alongside the stores in pg mode, in a local sqlite file
// otherwise.
func openFactory(ctx context.Context, cfg *config.Config) *gateway.MeowFactory {
	var dialect, address string
	if cfg.Store.Mode == "pg" {
		dialect, address = "postgres", cfg.Store.PostgresDSN
	} else {
		dialect, address = "sqlite", "file:"+cfg.Store.DeviceDB+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"
	}
	factory, err := gateway.NewMeowFactory(ctx, dialect, address)
	if err != nil {
		slog.Error("gateway device store unavailable", "dialect", dialect, "error", err)
		os.Exit(1)
	}
	return factory
}

// bootSessions starts a session for every account that was active before
// the last shutdown. Pairing-only accounts stay down until a client asks.
func bootSessions(ctx context.Context, accounts store.AccountStore, mgr *wapp.Manager) {
	all, err := accounts.List(ctx, "")
	if err != nil {
		slog.Error("boot account list failed", "error", err)
		return
	}
	started := 0
	for _, acc := range all {
		if acc.Status != store.StatusConnected && acc.Status != store.StatusDisconnected {
			continue
		}
		if err := mgr.StartSession(ctx, acc.ID); err != nil {
			slog.Error("boot session failed", "account", acc.ID, "error", err)
			continue
		}
		started++
	}
	slog.Info("boot sessions started", "count", started, "accounts", len(all))
}

// watchConfig hot-reloads the log level when the config file changes.
// Store and server settings need a restart.
func watchConfig(cfg *config.Config) {
	watcher, err := config.NewWatcher(resolveConfigPath())
	if err != nil {
		slog.Debug("config watcher unavailable", "error", err)
		return
	}
	watcher.OnChange(func(next *config.Config) {
		if next.Log.Level != cfg.Log.Level || next.Log.Format != cfg.Log.Format {
			setupLogging()
			slog.Info("log settings reloaded", "level", next.Log.Level, "format", next.Log.Format)
		}
	})
	if err := watcher.Start(); err != nil {
		slog.Debug("config watcher not started", "error", err)
	}
}
