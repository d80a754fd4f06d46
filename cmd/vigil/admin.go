package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/MrWong99/vigil/internal/monitor"
)

// admin runs one of the offline maintenance commands against the configured
// store.
func admin(cmd string, args []string) int {
	var common commonFlags
	var confirm bool
	flags := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	common.add(flags)
	if cmd == "purge" {
		flags.BoolVar(&confirm, "confirm", false, "delete the session instead of only previewing")
	}
	if code, ok := parse(flags, args); !ok {
		return code
	}
	rest := flags.Args()
	needID := cmd != "reports"
	if needID && len(rest) != 1 || !needID && len(rest) != 0 {
		fmt.Fprintf(os.Stderr, "vigil: %s: wrong number of arguments\n", cmd)
		return 2
	}

	cfg, err := loadConfig(common)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		return 1
	}
	logger, _ := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	if cfg.Storage.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "vigil: storage.postgres_dsn is not set; the in-memory store holds no data between runs")
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		return 1
	}
	defer closeStore()
	mgr := monitor.New(store)

	switch cmd {
	case "purge":
		err = purge(ctx, mgr, os.Stdout, rest[0], confirm)
	case "rescore":
		err = rescore(ctx, mgr, os.Stdout, rest[0])
	case "events":
		err = listEvents(ctx, mgr, os.Stdout, rest[0])
	case "reports":
		err = listReports(ctx, mgr, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// purgeResult is printed by the purge command.
type purgeResult struct {
	SessionID string `json:"session_id"`
	Events    int    `json:"events"`
	Reports   int    `json:"reports"`
	Deleted   bool   `json:"deleted"`
}

// purge previews the cascade for sessionID and performs it when confirm is
// set.
func purge(ctx context.Context, mgr *monitor.Manager, w io.Writer, sessionID string, confirm bool) error {
	p, err := mgr.Preview(ctx, sessionID)
	if err != nil {
		return err
	}
	if confirm {
		if p, err = mgr.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	return writeJSON(w, purgeResult{
		SessionID: sessionID,
		Events:    p.Events,
		Reports:   p.Reports,
		Deleted:   confirm,
	})
}

func rescore(ctx context.Context, mgr *monitor.Manager, w io.Writer, sessionID string) error {
	r, err := mgr.Rescore(ctx, sessionID)
	if err != nil {
		return err
	}
	return writeJSON(w, r)
}

// listEvents writes the event log of sessionID as JSON lines, oldest first.
func listEvents(ctx context.Context, mgr *monitor.Manager, w io.Writer, sessionID string) error {
	events, err := mgr.Events(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := writeJSON(w, e); err != nil {
			return err
		}
	}
	return nil
}

// listReports writes one JSON object per line, newest report first.
func listReports(ctx context.Context, mgr *monitor.Manager, w io.Writer) error {
	reports, err := mgr.Reports(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		if err := writeJSON(w, r); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
