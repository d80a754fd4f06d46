package detect

import (
	"math"
	"time"

	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

// AttentionConfig tunes the [AttentionTracker].
type AttentionConfig struct {
	// AlignThreshold is the maximum distance in pixels, on each axis, between
	// a face center and the frame center for the face to count as aligned.
	AlignThreshold float64

	// LookingAwayAfter is how long a face must stay misaligned before
	// looking_away is emitted.
	LookingAwayAfter time.Duration

	// NoFaceAfter is how long no face may be seen before no_face is emitted.
	// It also spaces repeated no_face events during a long absence.
	NoFaceAfter time.Duration
}

// DefaultAttentionConfig returns the stock attention tuning.
func DefaultAttentionConfig() AttentionConfig {
	return AttentionConfig{
		AlignThreshold:   100,
		LookingAwayAfter: 5 * time.Second,
		NoFaceAfter:      10 * time.Second,
	}
}

// AttentionTracker is the face presence and gaze hysteresis state machine.
//
// Both timers start at the session start, which gives the grace periods: no
// no_face in the first NoFaceAfter and no looking_away before LookingAwayAfter
// of continuous misalignment.
type AttentionTracker struct {
	sessionID string
	cfg       AttentionConfig

	lastFaceSeenAt time.Time
	lastAlignedAt  time.Time
	aligned        bool
}

var _ Detector = (*AttentionTracker)(nil)

// NewAttentionTracker returns a tracker whose timers start at start.
func NewAttentionTracker(sessionID string, start time.Time, cfg AttentionConfig) *AttentionTracker {
	return &AttentionTracker{
		sessionID:      sessionID,
		cfg:            cfg,
		lastFaceSeenAt: start,
		lastAlignedAt:  start,
		aligned:        true,
	}
}

// Name implements [Detector].
func (t *AttentionTracker) Name() string { return "attention" }

// Aligned reports whether the tracker currently considers the gaze aligned.
func (t *AttentionTracker) Aligned() bool { return t.aligned }

// LastFaceSeenAt returns the last instant a face was seen, or the session
// start when none has been.
func (t *AttentionTracker) LastFaceSeenAt() time.Time { return t.lastFaceSeenAt }

// Observe implements [Detector].
func (t *AttentionTracker) Observe(now time.Time, snap signal.Snapshot) []record.Event {
	var out []record.Event

	if len(snap.Faces) == 0 {
		if now.Sub(t.lastFaceSeenAt) >= t.cfg.NoFaceAfter {
			e := newEvent(t.sessionID, record.EventNoFace, now)
			e.Duration = record.Seconds(t.cfg.NoFaceAfter)
			out = append(out, e)
			t.lastFaceSeenAt = now
		}
		return out
	}

	t.lastFaceSeenAt = now

	if len(snap.Faces) > 1 {
		e := newEvent(t.sessionID, record.EventMultipleFaces, now)
		e.Details = map[string]any{"count": len(snap.Faces)}
		out = append(out, e)
	}

	w, h := snap.FrameSize()
	cx, cy := float64(w)/2, float64(h)/2
	for _, face := range snap.Faces {
		fx, fy := face.Center()
		if math.Abs(fx-cx) < t.cfg.AlignThreshold && math.Abs(fy-cy) < t.cfg.AlignThreshold {
			if !t.aligned {
				out = append(out, newEvent(t.sessionID, record.EventLookingAgain, now))
			}
			t.aligned = true
			t.lastAlignedAt = now
			continue
		}
		if t.aligned && now.Sub(t.lastAlignedAt) >= t.cfg.LookingAwayAfter {
			e := newEvent(t.sessionID, record.EventLookingAway, now)
			e.Duration = record.Seconds(t.cfg.LookingAwayAfter)
			out = append(out, e)
			t.aligned = false
		}
	}
	return out
}
