package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/health"
	"github.com/MrWong99/vigil/internal/ingest"
	"github.com/MrWong99/vigil/internal/monitor"
	"github.com/MrWong99/vigil/internal/observe"
)

func serve(args []string) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	var common commonFlags
	var origins []string
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	common.add(flags)
	flags.StringSliceVar(&origins, "allow-origin", nil, "origin host patterns allowed to open the monitor websocket")
	if code, ok := parse(flags, args); !ok {
		return code
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(common)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vigil starting",
		"version", version,
		"config", common.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"storage", storageKind(cfg),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Storage and monitor ───────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		return 1
	}
	defer closeStore()

	mgr := monitor.New(store,
		monitor.WithMetrics(metrics),
		monitor.WithTuning(tuning(cfg)),
		monitor.WithSink(sinkConfig(cfg)),
	)

	// ── Config hot reload ─────────────────────────────────────────────────────
	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()
	if _, err := os.Stat(common.configPath); err == nil {
		reloader, err := config.NewReloader(common.configPath, cfg, func(rl config.Reload) {
			if rl.Diff.LogLevelChanged {
				level.Set(rl.Diff.NewLogLevel.SlogLevel())
				slog.Info("log level changed", "level", rl.Diff.NewLogLevel)
			}
			if rl.Diff.DetectorsChanged {
				mgr.SetTuning(tuning(rl.Config))
				slog.Info("detector tuning updated for new sessions")
			}
		})
		if err != nil {
			slog.Warn("config reload disabled", "err", err)
		} else {
			go reloader.Run(reloadCtx)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config reload disabled", "err", err)
	}

	// ── HTTP ──────────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	ingest.New(mgr, ingest.WithOriginPatterns(origins...)).Register(mux)
	health.New(
		health.Storage(store),
		health.EventWrites(mgr.WritesOpen),
	).Register(mux)
	mux.Handle("GET /metrics", provider.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	exit := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		slog.Error("http server failed", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	stopReload()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("monitor shutdown error", "err", err)
		exit = 1
	}
	// Websocket clients are gone with the process; score what they left.
	for _, id := range mgr.Active() {
		if _, _, err := mgr.End(shutdownCtx, id, monitor.EndOptions{}); err != nil {
			slog.Warn("failed to end interrupted session", "session_id", id, "err", err)
		}
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return exit
}

func storageKind(cfg *config.Config) string {
	if cfg.Storage.PostgresDSN == "" {
		return "memory"
	}
	return "postgres"
}
