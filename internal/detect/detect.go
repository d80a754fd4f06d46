// Package detect turns per-tick perceptual snapshots into integrity events.
//
// Each detector is a small state machine with a pure Observe method: given
// the sampling instant and the snapshot it returns zero or more events and
// updates only its own fields. Detectors never touch storage or clocks, so
// they are driven by the session runner in production and by literal
// timestamps in tests.
//
// Three detectors exist, one per concern:
//
//   - [AttentionTracker]: face presence and gaze alignment, debounced.
//   - [ObjectEmitter]: restricted object sightings, reported every tick.
//   - [AudioTracker]: speech activity, rate limited.
//
// A session owns one [State] bundle holding one instance of each.
package detect

import (
	"time"

	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

// Detector converts snapshots into events. Observe must only be called from
// one goroutine at a time.
type Detector interface {
	// Name identifies the detector in logs and metrics.
	Name() string

	// Observe processes the snapshot taken at now and returns the events it
	// triggers, possibly none.
	Observe(now time.Time, snap signal.Snapshot) []record.Event
}

// Config bundles the tuning of all detectors.
type Config struct {
	Attention AttentionConfig
	Objects   ObjectConfig
	Audio     AudioConfig
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		Attention: DefaultAttentionConfig(),
		Objects:   DefaultObjectConfig(),
		Audio:     DefaultAudioConfig(),
	}
}

// State is the per-session detector bundle. Each field is written by exactly
// one detector loop; the bundle is created when a session starts and dropped
// when it ends.
type State struct {
	SessionID string
	Attention *AttentionTracker
	Objects   *ObjectEmitter
	Audio     *AudioTracker
}

// NewState builds the detector bundle for a session that started at start.
func NewState(sessionID string, start time.Time, cfg Config) *State {
	return &State{
		SessionID: sessionID,
		Attention: NewAttentionTracker(sessionID, start, cfg.Attention),
		Objects:   NewObjectEmitter(sessionID, cfg.Objects),
		Audio:     NewAudioTracker(sessionID, cfg.Audio),
	}
}

func newEvent(sessionID string, typ record.EventType, now time.Time) record.Event {
	return record.Event{
		SessionID: sessionID,
		Type:      typ,
		Timestamp: now,
	}
}
