package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  shutdown_timeout: 5s
storage:
  postgres_dsn: "postgres://localhost/vigil"
  write_timeout: 500ms
detectors:
  video_interval: 200ms
  audio_interval: 40ms
  attention:
    align_threshold_px: 80
    looking_away_after: 3s
    no_face_after: 8s
  objects:
    restricted: [phone, book]
    aliases:
      "cell phone": phone
  audio:
    speaking_threshold: 0.05
    emit_interval: 1s
sink:
  buffer: 64
  breaker:
    max_failures: 2
    reset_timeout: 30s
`

func TestLoadFromReader_Full(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Storage.WriteTimeout != 500*time.Millisecond {
		t.Errorf("write_timeout: got %v", cfg.Storage.WriteTimeout)
	}

	d := cfg.Detectors.Detect()
	if d.Attention.AlignThreshold != 80 || d.Attention.LookingAwayAfter != 3*time.Second || d.Attention.NoFaceAfter != 8*time.Second {
		t.Errorf("attention: got %+v", d.Attention)
	}
	if len(d.Objects.Restricted) != 2 || d.Objects.Aliases["cell phone"] != "phone" {
		t.Errorf("objects: got %+v", d.Objects)
	}
	if d.Audio.SpeakingThreshold != 0.05 || d.Audio.EmitInterval != time.Second {
		t.Errorf("audio: got %+v", d.Audio)
	}

	b := cfg.Sink.Breaker.Resilience("events")
	if b.Name != "events" || b.MaxFailures != 2 || b.ResetTimeout != 30*time.Second {
		t.Errorf("breaker: got %+v", b)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty): unexpected error: %v", err)
	}
	want := config.Default()
	if cfg.Server != want.Server || cfg.Sink != want.Sink || cfg.Storage != want.Storage {
		t.Errorf("defaults: got %+v, want %+v", cfg, want)
	}
	d := cfg.Detectors.Detect()
	if d.Attention.LookingAwayAfter != 5*time.Second || d.Attention.NoFaceAfter != 10*time.Second {
		t.Errorf("attention defaults: got %+v", d.Attention)
	}
	if d.Audio.SpeakingThreshold != 0.02 || d.Audio.EmitInterval != 2*time.Second {
		t.Errorf("audio defaults: got %+v", d.Audio)
	}
	if len(d.Objects.Restricted) != 3 {
		t.Errorf("restricted defaults: got %v", d.Objects.Restricted)
	}
}

func TestLoadFromReader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown key", yaml: "server:\n  colour: blue\n", wantErr: "colour"},
		{name: "bad log level", yaml: "server:\n  log_level: loud\n", wantErr: "server.log_level"},
		{name: "threshold out of range", yaml: "detectors:\n  audio:\n    speaking_threshold: 2\n", wantErr: "speaking_threshold"},
		{name: "negative buffer", yaml: "sink:\n  buffer: -1\n", wantErr: "sink.buffer"},
		{name: "empty restricted label", yaml: "detectors:\n  objects:\n    restricted: [\"\"]\n", wantErr: "restricted[0]"},
		{name: "video slower than no-face", yaml: "detectors:\n  video_interval: 20s\n", wantErr: "video_interval"},
		{name: "bad duration", yaml: "storage:\n  write_timeout: soon\n", wantErr: "decode yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "nope"
	cfg.Sink.Buffer = -3
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "sink.buffer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q missing %q", err, want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(config.EnvListenAddr, ":7000")
	t.Setenv(config.EnvLogLevel, "warn")
	t.Setenv(config.EnvPostgresDSN, "postgres://env/db")

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" || cfg.Server.LogLevel != config.LogWarn || cfg.Storage.PostgresDSN != "postgres://env/db" {
		t.Errorf("env overrides not applied: %+v / %+v", cfg.Server, cfg.Storage)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load(missing): unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr: got %q", cfg.Server.ListenAddr)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("VIGIL_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("VIGIL_TEST_DOTENV", "")
	os.Unsetenv("VIGIL_TEST_DOTENV")

	if err := config.LoadDotenv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotenv: unexpected error: %v", err)
	}
	if got := os.Getenv("VIGIL_TEST_DOTENV"); got != "from-file" {
		t.Errorf("VIGIL_TEST_DOTENV = %q, want from-file", got)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace".IsValid() = true`)
	}
	if config.LogDebug.SlogLevel().String() != "DEBUG" || config.LogLevel("").SlogLevel().String() != "INFO" {
		t.Error("SlogLevel mapping wrong")
	}
}
