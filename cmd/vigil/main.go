// Command vigil is the session integrity monitoring server.
//
// Usage:
//
//	vigil [serve] [--config config.yaml] [--env-file .env]
//	vigil purge <session-id> [--confirm]
//	vigil rescore <session-id>
//	vigil events <session-id>
//	vigil reports
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/MrWong99/vigil/internal/config"
	"github.com/MrWong99/vigil/internal/monitor"
	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/record/memstore"
	"github.com/MrWong99/vigil/pkg/record/postgres"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(args)
	case "purge", "rescore", "events", "reports":
		return admin(cmd, args)
	case "version":
		fmt.Println("vigil", version)
		return 0
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "vigil: unknown command %q\n\n", cmd)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `vigil monitors proctored sessions and scores their integrity.

Usage:
  vigil [serve]              run the monitoring server
  vigil purge <id>           preview, and with --confirm delete, a session
  vigil rescore <id>         recompute a session report without storing it
  vigil events <id>          print the persisted event log of a session
  vigil reports              print stored reports, newest first
  vigil version              print the version

Common flags:
  --config path              YAML configuration file (default config.yaml)
  --env-file path            KEY=VALUE file loaded before the config (default .env)
`)
}

// ── Shared setup ──────────────────────────────────────────────────────────────

// commonFlags are accepted by every sub-command.
type commonFlags struct {
	configPath string
	envFile    string
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "config.yaml", "path to the YAML configuration file")
	fs.StringVar(&c.envFile, "env-file", ".env", "KEY=VALUE file loaded into the environment")
}

// parse parses args into fs. It reports false with the exit code when the
// command should stop.
func parse(fs *pflag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		return 2, false
	}
	return 0, true
}

func loadConfig(c commonFlags) (*config.Config, error) {
	if err := config.LoadDotenv(c.envFile); err != nil {
		return nil, err
	}
	return config.Load(c.configPath)
}

// newLogger builds the process logger. The returned LevelVar lets the config
// reloader change verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

// openStore connects the configured record store. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Config) (record.Store, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		return memstore.New(), func() {}, nil
	}
	st, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func tuning(cfg *config.Config) monitor.Tuning {
	return monitor.Tuning{
		Detectors:     cfg.Detectors.Detect(),
		VideoInterval: cfg.Detectors.VideoInterval,
		AudioInterval: cfg.Detectors.AudioInterval,
	}
}

func sinkConfig(cfg *config.Config) monitor.SinkConfig {
	return monitor.SinkConfig{
		Buffer:       cfg.Sink.Buffer,
		WriteTimeout: cfg.Storage.WriteTimeout,
		Breaker:      cfg.Sink.Breaker.Resilience("event-writes"),
	}
}
