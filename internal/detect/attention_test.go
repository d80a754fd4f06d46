package detect_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/detect"
	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// centered is a face whose center coincides with the 640x480 frame center.
var centered = signal.Region{X: 270, Y: 190, Width: 100, Height: 100}

// offside is a face far in the top-left corner.
var offside = signal.Region{X: 0, Y: 0, Width: 100, Height: 100}

func at(d time.Duration) time.Time { return t0.Add(d) }

func faces(r ...signal.Region) signal.Snapshot { return signal.Snapshot{Faces: r} }

func types(events []record.Event) []record.EventType {
	out := make([]record.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func newAttention() *detect.AttentionTracker {
	return detect.NewAttentionTracker("s1", t0, detect.DefaultAttentionConfig())
}

func TestAttention_LookingAwayThreshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		misaligned time.Duration
		wantEvent  bool
	}{
		{name: "just below", misaligned: 4999 * time.Millisecond, wantEvent: false},
		{name: "exactly at", misaligned: 5 * time.Second, wantEvent: true},
		{name: "well past", misaligned: 8 * time.Second, wantEvent: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := newAttention()
			if got := tr.Observe(at(time.Second), faces(centered)); len(got) != 0 {
				t.Fatalf("aligned tick: got %v, want no events", types(got))
			}
			got := tr.Observe(at(time.Second+tc.misaligned), faces(offside))
			if tc.wantEvent {
				if len(got) != 1 || got[0].Type != record.EventLookingAway {
					t.Fatalf("got %v, want [looking_away]", types(got))
				}
				if got[0].Duration == nil || *got[0].Duration != 5 {
					t.Errorf("Duration: got %v, want 5", got[0].Duration)
				}
				if tr.Aligned() {
					t.Error("Aligned() = true after looking_away")
				}
				return
			}
			if len(got) != 0 {
				t.Fatalf("got %v, want no events", types(got))
			}
		})
	}
}

func TestAttention_LookingAwayOncePerEpisode(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	var all []record.Event
	for i := 0; i <= 30; i++ {
		all = append(all, tr.Observe(at(time.Duration(i)*time.Second), faces(offside))...)
	}
	if len(all) != 1 || all[0].Type != record.EventLookingAway {
		t.Fatalf("30s misaligned: got %v, want a single looking_away", types(all))
	}
	if !all[0].Timestamp.Equal(at(5 * time.Second)) {
		t.Errorf("looking_away at %v, want %v", all[0].Timestamp, at(5*time.Second))
	}

	got := tr.Observe(at(31*time.Second), faces(centered))
	if len(got) != 1 || got[0].Type != record.EventLookingAgain {
		t.Fatalf("realign: got %v, want [looking_again]", types(got))
	}
	if got := tr.Observe(at(32*time.Second), faces(centered)); len(got) != 0 {
		t.Errorf("staying aligned: got %v, want no events", types(got))
	}
}

func TestAttention_GracePeriodAtStart(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	if got := tr.Observe(at(4*time.Second), faces(offside)); len(got) != 0 {
		t.Errorf("misaligned at 4s: got %v, want no events", types(got))
	}
	if got := tr.Observe(at(9*time.Second), signal.Snapshot{}); len(got) != 0 {
		t.Errorf("no face at 9s: got %v, want no events", types(got))
	}
}

func TestAttention_NoFaceRecurs(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	var all []record.Event
	for ms := 0; ms <= 20000; ms += 500 {
		all = append(all, tr.Observe(at(time.Duration(ms)*time.Millisecond), signal.Snapshot{})...)
	}
	if len(all) != 2 {
		t.Fatalf("20s absence: got %v, want two no_face events", types(all))
	}
	for i, want := range []time.Time{at(10 * time.Second), at(20 * time.Second)} {
		if all[i].Type != record.EventNoFace {
			t.Errorf("events[%d].Type: got %q", i, all[i].Type)
		}
		if !all[i].Timestamp.Equal(want) {
			t.Errorf("events[%d].Timestamp: got %v, want %v", i, all[i].Timestamp, want)
		}
		if all[i].Duration == nil || *all[i].Duration != 10 {
			t.Errorf("events[%d].Duration: got %v, want 10", i, all[i].Duration)
		}
	}
}

func TestAttention_FaceResetsAbsenceTimer(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	tr.Observe(at(8*time.Second), faces(centered))
	if !tr.LastFaceSeenAt().Equal(at(8 * time.Second)) {
		t.Fatalf("LastFaceSeenAt: got %v", tr.LastFaceSeenAt())
	}
	if got := tr.Observe(at(17*time.Second), signal.Snapshot{}); len(got) != 0 {
		t.Errorf("9s after last face: got %v, want no events", types(got))
	}
	if got := tr.Observe(at(18*time.Second), signal.Snapshot{}); len(got) != 1 {
		t.Errorf("10s after last face: got %v, want [no_face]", types(got))
	}
}

func TestAttention_MultipleFacesEveryTick(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	for i := range 5 {
		got := tr.Observe(at(time.Duration(i)*100*time.Millisecond), faces(centered, centered))
		if len(got) != 1 || got[0].Type != record.EventMultipleFaces {
			t.Fatalf("tick %d: got %v, want [multiple_faces_detected]", i, types(got))
		}
		if got[0].Details["count"] != 2 {
			t.Errorf("tick %d: count = %v, want 2", i, got[0].Details["count"])
		}
	}
}

func TestAttention_AlignmentIsStrictPerAxis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		face    signal.Region
		aligned bool
	}{
		// Center at (419, 240): dx = 99.
		{name: "dx 99", face: signal.Region{X: 369, Y: 190, Width: 100, Height: 100}, aligned: true},
		// Center at (420, 240): dx = 100.
		{name: "dx 100", face: signal.Region{X: 370, Y: 190, Width: 100, Height: 100}, aligned: false},
		// Center at (320, 140): dy = 100.
		{name: "dy 100", face: signal.Region{X: 270, Y: 90, Width: 100, Height: 100}, aligned: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := newAttention()
			got := tr.Observe(at(6*time.Second), faces(tc.face))
			lookedAway := len(got) == 1 && got[0].Type == record.EventLookingAway
			if lookedAway == tc.aligned {
				t.Errorf("aligned=%v: got events %v", tc.aligned, types(got))
			}
		})
	}
}

func TestAttention_CustomFrameSize(t *testing.T) {
	t.Parallel()

	tr := newAttention()
	// Centered on a 1280x720 frame, far off-center on the default frame.
	snap := signal.Snapshot{
		Faces:       []signal.Region{{X: 590, Y: 310, Width: 100, Height: 100}},
		FrameWidth:  1280,
		FrameHeight: 720,
	}
	if got := tr.Observe(at(6*time.Second), snap); len(got) != 0 {
		t.Errorf("centered on custom frame: got %v, want no events", types(got))
	}
}

func TestAttention_StaleSourceStopsMultipleFaces(t *testing.T) {
	t.Parallel()

	now := t0
	src := signal.NewLatest(signal.WithLatestClock(func() time.Time { return now }))
	src.Publish(faces(centered, offside))
	tr := newAttention()

	// The client publishes once, then goes quiet with the socket open.
	var multi, noFace int
	for i := 0; i <= 120; i++ {
		now = at(time.Duration(i) * 100 * time.Millisecond)
		snap, err := src.Sample(context.Background())
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		for _, e := range tr.Observe(now, snap) {
			switch e.Type {
			case record.EventMultipleFaces:
				multi++
			case record.EventNoFace:
				noFace++
			}
		}
	}

	// Ticks 0s..2s still see the published frame; the stale frame counts as
	// no face from then on, so no_face fires 10s after the last fresh one.
	if multi != 21 {
		t.Errorf("multiple_faces events: got %d, want 21", multi)
	}
	if noFace != 1 {
		t.Errorf("no_face events: got %d, want 1", noFace)
	}
}
