package detect

import (
	"sync/atomic"
	"time"

	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

// AudioConfig tunes the [AudioTracker].
type AudioConfig struct {
	// SpeakingThreshold is the RMS level above which the candidate is
	// considered to be speaking.
	SpeakingThreshold float64

	// EmitInterval is the minimum spacing between user_speaking events.
	EmitInterval time.Duration
}

// DefaultAudioConfig returns the stock audio tuning.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SpeakingThreshold: 0.02,
		EmitInterval:      2 * time.Second,
	}
}

// SpeechStatus is the current speaking state of a session.
type SpeechStatus int32

const (
	StatusSilent SpeechStatus = iota
	StatusSpeaking
)

// String returns "silent" or "speaking".
func (s SpeechStatus) String() string {
	if s == StatusSpeaking {
		return "speaking"
	}
	return "silent"
}

// AudioTracker classifies each audio level as speaking or silent and emits a
// rate-limited user_speaking event while speech continues. Silence never
// produces an event.
type AudioTracker struct {
	sessionID string
	cfg       AudioConfig

	lastEmittedAt time.Time
	emitted       bool
	status        atomic.Int32
}

var _ Detector = (*AudioTracker)(nil)

// NewAudioTracker returns a silent tracker that has never emitted.
func NewAudioTracker(sessionID string, cfg AudioConfig) *AudioTracker {
	return &AudioTracker{sessionID: sessionID, cfg: cfg}
}

// Name implements [Detector].
func (t *AudioTracker) Name() string { return "audio" }

// Status returns the current speaking state. Safe to call from any goroutine.
func (t *AudioTracker) Status() SpeechStatus {
	return SpeechStatus(t.status.Load())
}

// Observe implements [Detector]. Only snap.AudioLevel is considered.
func (t *AudioTracker) Observe(now time.Time, snap signal.Snapshot) []record.Event {
	if snap.AudioLevel <= t.cfg.SpeakingThreshold {
		t.status.Store(int32(StatusSilent))
		return nil
	}
	t.status.Store(int32(StatusSpeaking))

	if t.emitted && now.Sub(t.lastEmittedAt) < t.cfg.EmitInterval {
		return nil
	}
	t.emitted = true
	t.lastEmittedAt = now

	e := newEvent(t.sessionID, record.EventUserSpeaking, now)
	e.Details = map[string]any{"level": snap.AudioLevel}
	return []record.Event{e}
}
