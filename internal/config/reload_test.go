package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/config"
)

const reloadYAML = `
server:
  log_level: info
detectors:
  audio:
    speaking_threshold: 0.02
`

// reloadFixture writes content to a fresh config file and builds a Reloader
// for a process that started from it.
type reloadFixture struct {
	path    string
	running *config.Config
	r       *config.Reloader

	mu     sync.Mutex
	reload []config.Reload
}

func newReloadFixture(t *testing.T, content string) *reloadFixture {
	t.Helper()
	f := &reloadFixture{path: filepath.Join(t.TempDir(), "config.yaml")}
	f.write(t, content)

	running, err := config.LoadFromReader(strings.NewReader(content))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	f.running = running

	f.r, err = config.NewReloader(f.path, running, func(rl config.Reload) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.reload = append(f.reload, rl)
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	return f
}

func (f *reloadFixture) write(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", f.path, err)
	}
}

func (f *reloadFixture) applied() []config.Reload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reload)
}

func TestReloader_AppliesLiveChanges(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, reloadYAML)

	f.write(t, strings.NewReplacer("info", "debug", "0.02", "0.04").Replace(reloadYAML))
	applied, err := f.r.Check()
	if err != nil || !applied {
		t.Fatalf("Check: applied=%v err=%v", applied, err)
	}

	got := f.applied()
	if len(got) != 1 {
		t.Fatalf("apply called %d times, want 1", len(got))
	}
	d := got[0].Diff
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug || !d.DetectorsChanged {
		t.Errorf("diff: got %+v", d)
	}
	if cur := f.r.Current(); cur != got[0].Config || cur.Detectors.Audio.SpeakingThreshold != 0.04 {
		t.Errorf("Current: got %+v", cur.Detectors.Audio)
	}
}

func TestReloader_PinsRestartOnlySettings(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, reloadYAML)

	f.write(t, `
server:
  log_level: debug
  listen_addr: ":9999"
sink:
  buffer: 8
detectors:
  audio:
    speaking_threshold: 0.02
`)
	if applied, err := f.r.Check(); err != nil || !applied {
		t.Fatalf("Check: applied=%v err=%v", applied, err)
	}

	rl := f.applied()[0]
	if rl.Config.Server.LogLevel != config.LogDebug {
		t.Errorf("log level not applied: %q", rl.Config.Server.LogLevel)
	}
	if rl.Config.Server.ListenAddr != f.running.Server.ListenAddr || rl.Config.Sink != f.running.Sink {
		t.Errorf("restart-only settings not pinned: server=%+v sink=%+v", rl.Config.Server, rl.Config.Sink)
	}
	if want := []string{"server.listen_addr", "sink"}; !slices.Equal(rl.Diff.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", rl.Diff.RestartRequired, want)
	}
}

func TestReloader_SkipsIneffectiveEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "unchanged", content: reloadYAML},
		{name: "comment only", content: "# tuned on site\n" + reloadYAML},
		{name: "restart-only", content: reloadYAML + "storage:\n  write_timeout: 9s\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newReloadFixture(t, reloadYAML)
			f.write(t, tc.content)

			applied, err := f.r.Check()
			if err != nil || applied {
				t.Fatalf("Check: applied=%v err=%v, want false/nil", applied, err)
			}
			if n := len(f.applied()); n != 0 {
				t.Errorf("apply called %d times", n)
			}
			if f.r.Current() != f.running {
				t.Error("Current replaced by an ineffective edit")
			}
		})
	}
}

func TestReloader_RejectsInvalidOnce(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, reloadYAML)

	f.write(t, "server:\n  log_level: bananas\n")
	if _, err := f.r.Check(); err == nil || !strings.Contains(err.Error(), "server.log_level") {
		t.Fatalf("Check invalid file: got %v", err)
	}
	if _, err := f.r.Check(); err != nil {
		t.Errorf("second Check of the same invalid content: got %v, want nil", err)
	}

	f.write(t, reloadYAML)
	if applied, err := f.r.Check(); err != nil || applied {
		t.Errorf("Check after restore: applied=%v err=%v", applied, err)
	}
	if n := len(f.applied()); n != 0 {
		t.Errorf("apply called %d times, want 0", n)
	}
	if f.r.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current log level: got %q", f.r.Current().Server.LogLevel)
	}
}

func TestReloader_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.NewReloader(filepath.Join(t.TempDir(), "absent.yaml"), config.Default(), nil)
	if err == nil {
		t.Fatal("NewReloader on a missing file: expected error")
	}
}

func TestReloader_RunUntilCancelled(t *testing.T) {
	t.Parallel()
	f := newReloadFixture(t, reloadYAML)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.r.Run(ctx)
		close(done)
	}()

	f.write(t, strings.Replace(reloadYAML, "info", "warn", 1))
	deadline := time.Now().Add(2 * time.Second)
	for len(f.applied()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("reload not applied before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
