package detect

import (
	"strings"
	"time"

	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

// ObjectConfig tunes the [ObjectEmitter].
type ObjectConfig struct {
	// Restricted lists the normalised labels that produce an event.
	Restricted []string

	// Aliases maps classifier vocabulary onto normalised labels before the
	// Restricted check, e.g. "cell phone" → "phone".
	Aliases map[string]string
}

// DefaultObjectConfig returns the stock restricted object list.
func DefaultObjectConfig() ObjectConfig {
	return ObjectConfig{
		Restricted: []string{"phone", "book", "laptop"},
		Aliases:    map[string]string{"cell phone": "phone", "mobile phone": "phone"},
	}
}

// ObjectEmitter reports restricted objects on every tick they are visible.
// It has no cooldown: a phone held up for ten ticks yields ten events, and
// scoring collapses them by presence.
type ObjectEmitter struct {
	sessionID  string
	restricted map[string]bool
	aliases    map[string]string
}

var _ Detector = (*ObjectEmitter)(nil)

// NewObjectEmitter builds an emitter for cfg. Labels are matched
// case-insensitively.
func NewObjectEmitter(sessionID string, cfg ObjectConfig) *ObjectEmitter {
	e := &ObjectEmitter{
		sessionID:  sessionID,
		restricted: make(map[string]bool, len(cfg.Restricted)),
		aliases:    make(map[string]string, len(cfg.Aliases)),
	}
	for _, l := range cfg.Restricted {
		e.restricted[normalise(l)] = true
	}
	for from, to := range cfg.Aliases {
		e.aliases[normalise(from)] = normalise(to)
	}
	return e
}

// Name implements [Detector].
func (e *ObjectEmitter) Name() string { return "objects" }

// Label returns the normalised label for a classifier output and whether it
// is restricted.
func (e *ObjectEmitter) Label(name string) (string, bool) {
	l := normalise(name)
	if alias, ok := e.aliases[l]; ok {
		l = alias
	}
	return l, e.restricted[l]
}

// Observe implements [Detector]. Each restricted label yields at most one
// event per tick carrying the highest confidence seen for it.
func (e *ObjectEmitter) Observe(now time.Time, snap signal.Snapshot) []record.Event {
	var (
		order []string
		best  map[string]float64
	)
	for _, obj := range snap.Labels {
		l, ok := e.Label(obj.Name)
		if !ok {
			continue
		}
		if best == nil {
			best = make(map[string]float64)
		}
		prev, seen := best[l]
		if !seen {
			order = append(order, l)
		}
		if !seen || obj.Confidence > prev {
			best[l] = obj.Confidence
		}
	}

	out := make([]record.Event, 0, len(order))
	for _, l := range order {
		ev := newEvent(e.sessionID, record.DetectedType(l), now)
		ev.Details = map[string]any{"confidence": best[l]}
		out = append(out, ev)
	}
	return out
}

func normalise(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
