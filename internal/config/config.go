// Package config provides the configuration schema and loader for vigil.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/vigil/internal/detect"
	"github.com/MrWong99/vigil/internal/resilience"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to the matching [slog.Level]. Unknown values map to
// info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Detectors DetectorsConfig `yaml:"detectors"`
	Sink      SinkConfig      `yaml:"sink"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for the HTTP server (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is reloadable at runtime.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and tunes the record store.
type StorageConfig struct {
	// PostgresDSN is the connection string for the PostgreSQL store. Empty
	// selects the in-memory store, which loses all records on exit.
	PostgresDSN string `yaml:"postgres_dsn"`

	// WriteTimeout bounds a single event append.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DetectorsConfig tunes sampling cadence and detector thresholds. Changes
// apply to sessions started after a reload.
type DetectorsConfig struct {
	// VideoInterval is the sampling period of the attention and object
	// loops.
	VideoInterval time.Duration `yaml:"video_interval"`

	// AudioInterval is the sampling period of the audio loop.
	AudioInterval time.Duration `yaml:"audio_interval"`

	Attention AttentionConfig `yaml:"attention"`
	Objects   ObjectsConfig   `yaml:"objects"`
	Audio     AudioConfig     `yaml:"audio"`
}

// AttentionConfig tunes gaze and face presence tracking.
type AttentionConfig struct {
	AlignThresholdPx float64       `yaml:"align_threshold_px"`
	LookingAwayAfter time.Duration `yaml:"looking_away_after"`
	NoFaceAfter      time.Duration `yaml:"no_face_after"`
}

// ObjectsConfig lists restricted object labels.
type ObjectsConfig struct {
	Restricted []string          `yaml:"restricted"`
	Aliases    map[string]string `yaml:"aliases"`
}

// AudioConfig tunes speech activity tracking.
type AudioConfig struct {
	SpeakingThreshold float64       `yaml:"speaking_threshold"`
	EmitInterval      time.Duration `yaml:"emit_interval"`
}

// SinkConfig tunes the fire-and-forget event writer.
type SinkConfig struct {
	// Buffer is the per-session queue length. Events arriving while it is
	// full are dropped.
	Buffer int `yaml:"buffer"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the event write circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// Detect converts the detector section into [detect.Config].
func (d DetectorsConfig) Detect() detect.Config {
	return detect.Config{
		Attention: detect.AttentionConfig{
			AlignThreshold:   d.Attention.AlignThresholdPx,
			LookingAwayAfter: d.Attention.LookingAwayAfter,
			NoFaceAfter:      d.Attention.NoFaceAfter,
		},
		Objects: detect.ObjectConfig{
			Restricted: d.Objects.Restricted,
			Aliases:    d.Objects.Aliases,
		},
		Audio: detect.AudioConfig{
			SpeakingThreshold: d.Audio.SpeakingThreshold,
			EmitInterval:      d.Audio.EmitInterval,
		},
	}
}

// Resilience converts the breaker section into [resilience.BreakerConfig].
func (b BreakerConfig) Resilience(name string) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:         name,
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
	}
}

// Default returns a Config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	def := detect.DefaultConfig()

	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, 15*time.Second)
	setDefault(&cfg.Storage.WriteTimeout, 2*time.Second)

	d := &cfg.Detectors
	setDefault(&d.VideoInterval, 100*time.Millisecond)
	setDefault(&d.AudioInterval, 50*time.Millisecond)
	setDefault(&d.Attention.AlignThresholdPx, def.Attention.AlignThreshold)
	setDefault(&d.Attention.LookingAwayAfter, def.Attention.LookingAwayAfter)
	setDefault(&d.Attention.NoFaceAfter, def.Attention.NoFaceAfter)
	if d.Objects.Restricted == nil {
		d.Objects.Restricted = def.Objects.Restricted
	}
	if d.Objects.Aliases == nil {
		d.Objects.Aliases = def.Objects.Aliases
	}
	setDefault(&d.Audio.SpeakingThreshold, def.Audio.SpeakingThreshold)
	setDefault(&d.Audio.EmitInterval, def.Audio.EmitInterval)

	setDefault(&cfg.Sink.Buffer, 256)
	setDefault(&cfg.Sink.Breaker.MaxFailures, 5)
	setDefault(&cfg.Sink.Breaker.ResetTimeout, 10*time.Second)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
