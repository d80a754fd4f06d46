package detect_test

import (
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/detect"
	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

func TestObjectEmitter_Observe(t *testing.T) {
	t.Parallel()

	e := detect.NewObjectEmitter("s1", detect.DefaultObjectConfig())
	snap := signal.Snapshot{Labels: []signal.Label{
		{Name: "cell phone", Confidence: 0.6},
		{Name: "person", Confidence: 0.99},
		{Name: "Cell Phone", Confidence: 0.9},
		{Name: "book", Confidence: 0.5},
		{Name: "cup", Confidence: 0.8},
	}}

	got := e.Observe(t0, snap)
	want := []record.EventType{record.EventPhoneDetected, record.EventBookDetected}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", types(got), want)
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Errorf("events[%d].Type: got %q, want %q", i, got[i].Type, want[i])
		}
		if got[i].SessionID != "s1" {
			t.Errorf("events[%d].SessionID: got %q", i, got[i].SessionID)
		}
	}
	if c := got[0].Details["confidence"]; c != 0.9 {
		t.Errorf("phone confidence: got %v, want 0.9", c)
	}
}

func TestObjectEmitter_NoCooldown(t *testing.T) {
	t.Parallel()

	e := detect.NewObjectEmitter("s1", detect.DefaultObjectConfig())
	snap := signal.Snapshot{Labels: []signal.Label{{Name: "laptop", Confidence: 0.7}}}

	total := 0
	for i := range 10 {
		got := e.Observe(t0.Add(time.Duration(i)*100*time.Millisecond), snap)
		if len(got) != 1 || got[0].Type != record.EventLaptopDetected {
			t.Fatalf("tick %d: got %v", i, types(got))
		}
		total += len(got)
	}
	if total != 10 {
		t.Errorf("total events: got %d, want 10", total)
	}
}

func TestObjectEmitter_EmptyAndUnrestricted(t *testing.T) {
	t.Parallel()

	e := detect.NewObjectEmitter("s1", detect.ObjectConfig{Restricted: []string{"book"}})
	if got := e.Observe(t0, signal.Snapshot{}); len(got) != 0 {
		t.Errorf("empty snapshot: got %v", types(got))
	}
	if got := e.Observe(t0, signal.Snapshot{Labels: []signal.Label{{Name: "cell phone", Confidence: 1}}}); len(got) != 0 {
		t.Errorf("phone without alias or restriction: got %v", types(got))
	}
	if l, ok := e.Label("  BOOK "); !ok || l != "book" {
		t.Errorf("Label: got (%q, %v), want (book, true)", l, ok)
	}
}
