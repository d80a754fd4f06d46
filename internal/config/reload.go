package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Reload is handed to the apply callback of a [Reloader].
type Reload struct {
	// Config is the configuration now in effect. Settings listed in
	// Diff.RestartRequired still carry their running values.
	Config *Config
	Diff   ConfigDiff
}

// Reloader re-reads a config file on an interval and applies the changes
// that can take effect without a restart.
//
// An edited file that fails to parse or validate is reported once and the
// running config stays in effect. Changes to restart-only settings are
// logged and pinned to their running values, so Current always describes
// what the process actually uses. Edits that change nothing effective (a
// comment, whitespace, a restart-only value) do not reach apply.
type Reloader struct {
	path     string
	interval time.Duration
	apply    func(Reload)

	mu      sync.Mutex
	running *Config
	sum     [sha256.Size]byte
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReloader watches path on behalf of a process that started with
// running. The current file content becomes the baseline, so only later
// edits are applied.
func NewReloader(path string, running *Config, apply func(Reload), opts ...ReloaderOption) (*Reloader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reloader: %w", err)
	}
	r := &Reloader{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		running:  running,
		sum:      sha256.Sum256(data),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Current returns the configuration in effect.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run checks the file every interval until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Check(); err != nil {
				slog.Warn("config: reload rejected, keeping running config", "path", r.path, "err", err)
			}
		}
	}
}

// Check reads the file once and applies it if its content changed. It
// reports whether apply was called.
func (r *Reloader) Check() (bool, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("config: reload: %w", err)
	}
	sum := sha256.Sum256(data)

	r.mu.Lock()
	if sum == r.sum {
		r.mu.Unlock()
		return false, nil
	}
	// Remember the content even if it is rejected below so a broken file is
	// reported once, not on every tick.
	r.sum = sum
	running := r.running
	r.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("config: reload %q: %w", r.path, err)
	}
	diff := Diff(running, next)
	pinRestartOnly(next, running)
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config: changes require a restart and were not applied", "settings", diff.RestartRequired)
	}
	if !diff.LogLevelChanged && !diff.DetectorsChanged {
		return false, nil
	}

	r.mu.Lock()
	r.running = next
	r.mu.Unlock()

	slog.Info("config: reloaded",
		"path", r.path,
		"log_level_changed", diff.LogLevelChanged,
		"detectors_changed", diff.DetectorsChanged,
	)
	if r.apply != nil {
		r.apply(Reload{Config: next, Diff: diff})
	}
	return true, nil
}

// pinRestartOnly copies every setting that needs a restart from running
// into next.
func pinRestartOnly(next, running *Config) {
	next.Server.ListenAddr = running.Server.ListenAddr
	next.Server.ShutdownTimeout = running.Server.ShutdownTimeout
	next.Storage = running.Storage
	next.Sink = running.Sink
}
