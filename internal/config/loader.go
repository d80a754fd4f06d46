package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvListenAddr  = "VIGIL_LISTEN_ADDR"
	EnvLogLevel    = "VIGIL_LOG_LEVEL"
	EnvPostgresDSN = "VIGIL_POSTGRES_DSN"
)

// LoadDotenv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotenv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A missing file yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return finish(&Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Unknown keys are
// rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables found through lookup onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Storage.PostgresDSN = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if cfg.Storage.WriteTimeout < 0 {
		errs = append(errs, fmt.Errorf("storage.write_timeout must not be negative"))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; records are kept in memory and lost on exit")
	}

	d := cfg.Detectors
	if d.VideoInterval < 0 || d.AudioInterval < 0 {
		errs = append(errs, fmt.Errorf("detectors: sampling intervals must not be negative"))
	}
	if d.Attention.AlignThresholdPx < 0 {
		errs = append(errs, fmt.Errorf("detectors.attention.align_threshold_px %.1f must not be negative", d.Attention.AlignThresholdPx))
	}
	if d.Attention.LookingAwayAfter < 0 || d.Attention.NoFaceAfter < 0 {
		errs = append(errs, fmt.Errorf("detectors.attention: thresholds must not be negative"))
	}
	if d.VideoInterval > 0 && d.Attention.NoFaceAfter > 0 && d.VideoInterval > d.Attention.NoFaceAfter {
		errs = append(errs, fmt.Errorf("detectors.video_interval %v exceeds detectors.attention.no_face_after %v", d.VideoInterval, d.Attention.NoFaceAfter))
	}
	for i, label := range d.Objects.Restricted {
		if label == "" {
			errs = append(errs, fmt.Errorf("detectors.objects.restricted[%d] is empty", i))
		}
	}
	for from, to := range d.Objects.Aliases {
		if from == "" || to == "" {
			errs = append(errs, fmt.Errorf("detectors.objects.aliases: empty label in %q → %q", from, to))
		}
	}
	if t := d.Audio.SpeakingThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("detectors.audio.speaking_threshold %.3f is out of range [0, 1]", t))
	}
	if d.Audio.EmitInterval < 0 {
		errs = append(errs, fmt.Errorf("detectors.audio.emit_interval must not be negative"))
	}

	if cfg.Sink.Buffer < 0 {
		errs = append(errs, fmt.Errorf("sink.buffer %d must not be negative", cfg.Sink.Buffer))
	}
	if cfg.Sink.Breaker.MaxFailures < 0 || cfg.Sink.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("sink.breaker: values must not be negative"))
	}

	return errors.Join(errs...)
}
