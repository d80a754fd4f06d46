// Package recordtest provides a behavioural test suite shared by every
// [record.Store] implementation.
package recordtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/vigil/pkg/record"
)

// Run exercises store against the [record.Store] contract. newStore must
// return an empty store; it is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) record.Store) {
	t.Helper()

	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, newStore(t)) })
	t.Run("EventsOrderedByTimestamp", func(t *testing.T) { testEventsOrdered(t, newStore(t)) })
	t.Run("AppendUnknownSession", func(t *testing.T) { testAppendUnknownSession(t, newStore(t)) })
	t.Run("ReportWrittenOnce", func(t *testing.T) { testReportOnce(t, newStore(t)) })
	t.Run("ListReportsNewestFirst", func(t *testing.T) { testListReports(t, newStore(t)) })
	t.Run("ReportsCarryRecordingRef", func(t *testing.T) { testReportRecordingRef(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func mustSession(t *testing.T, s record.Store, name string) record.Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), record.Session{
		CandidateName:  name,
		CandidateEmail: name + "@example.com",
		StartTime:      base,
	})
	if err != nil {
		t.Fatalf("CreateSession: unexpected error: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("CreateSession: empty ID")
	}
	return sess
}

func mustAppend(t *testing.T, s record.Store, sessionID string, typ record.EventType, at time.Duration) record.Event {
	t.Helper()
	e, err := s.Append(context.Background(), record.Event{
		SessionID: sessionID,
		Type:      typ,
		Timestamp: base.Add(at),
	})
	if err != nil {
		t.Fatalf("Append(%s): unexpected error: %v", typ, err)
	}
	return e
}

func testSessionRoundTrip(t *testing.T, s record.Store) {
	ctx := context.Background()
	sess := mustSession(t, s, "ada")

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: unexpected error: %v", err)
	}
	if got.Ended() {
		t.Error("new session reports Ended() = true")
	}
	if got.CandidateEmail != "ada@example.com" {
		t.Errorf("CandidateEmail: got %q", got.CandidateEmail)
	}

	end := base.Add(30 * time.Minute)
	got.EndTime = &end
	got.RecordingRef = "rec-1"
	if err := s.EndSession(ctx, got); err != nil {
		t.Fatalf("EndSession: unexpected error: %v", err)
	}
	got, err = s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession after end: unexpected error: %v", err)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("EndTime: got %v, want %v", got.EndTime, end)
	}
	if got.RecordingRef != "rec-1" {
		t.Errorf("RecordingRef: got %q", got.RecordingRef)
	}

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("GetSession(missing): got %v, want ErrNotFound", err)
	}
	if err := s.EndSession(ctx, record.Session{ID: "missing", EndTime: &end}); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("EndSession(missing): got %v, want ErrNotFound", err)
	}
}

func testEventsOrdered(t *testing.T, s record.Store) {
	ctx := context.Background()
	sess := mustSession(t, s, "grace")

	mustAppend(t, s, sess.ID, record.EventNoFace, 20*time.Second)
	first := mustAppend(t, s, sess.ID, record.EventLookingAway, 5*time.Second)
	mustAppend(t, s, sess.ID, record.EventPhoneDetected, 20*time.Second)

	if _, err := s.Append(ctx, record.Event{
		SessionID: sess.ID,
		Type:      record.EventMultipleFaces,
		Timestamp: base.Add(time.Second),
		Details:   map[string]any{"count": 2},
	}); err != nil {
		t.Fatalf("Append with details: unexpected error: %v", err)
	}

	events, err := s.EventsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("EventsBySession: unexpected error: %v", err)
	}
	want := []record.EventType{
		record.EventMultipleFaces,
		record.EventLookingAway,
		record.EventNoFace,
		record.EventPhoneDetected,
	}
	if len(events) != len(want) {
		t.Fatalf("EventsBySession: got %d events, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Errorf("events[%d].Type: got %q, want %q", i, e.Type, want[i])
		}
		if e.SessionID != sess.ID {
			t.Errorf("events[%d].SessionID: got %q", i, e.SessionID)
		}
	}
	if events[1].ID != first.ID {
		t.Errorf("events[1].ID: got %q, want %q", events[1].ID, first.ID)
	}
	if events[0].Details["count"] == nil {
		t.Error("events[0].Details: count missing")
	}

	empty, err := s.EventsBySession(ctx, "missing")
	if err != nil {
		t.Fatalf("EventsBySession(missing): unexpected error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("EventsBySession(missing): got %v, want empty non-nil slice", empty)
	}
}

func testAppendUnknownSession(t *testing.T, s record.Store) {
	_, err := s.Append(context.Background(), record.Event{
		SessionID: "missing",
		Type:      record.EventNoFace,
		Timestamp: base,
	})
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("Append(unknown session): got %v, want ErrNotFound", err)
	}
}

func testReportOnce(t *testing.T, s record.Store) {
	ctx := context.Background()
	sess := mustSession(t, s, "linus")

	if _, err := s.GetReport(ctx, sess.ID); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("GetReport before save: got %v, want ErrNotFound", err)
	}

	r := record.Report{
		SessionID:        sess.ID,
		Duration:         60,
		TotalEvents:      2,
		SuspiciousCounts: record.SuspiciousCounts{FocusLost: 1, NoFace: 1},
		IntegrityScore:   90,
		RawEventCount:    3,
		EventDigest:      "abc",
		CreatedAt:        base.Add(time.Hour),
	}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("SaveReport: unexpected error: %v", err)
	}
	if err := s.SaveReport(ctx, r); !errors.Is(err, record.ErrConflict) {
		t.Errorf("second SaveReport: got %v, want ErrConflict", err)
	}

	got, err := s.GetReport(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetReport: unexpected error: %v", err)
	}
	if got.IntegrityScore != 90 || got.SuspiciousCounts != r.SuspiciousCounts || got.EventDigest != "abc" {
		t.Errorf("GetReport: got %+v, want %+v", got, r)
	}

	if err := s.SaveReport(ctx, record.Report{SessionID: "missing", CreatedAt: base}); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("SaveReport(unknown session): got %v, want ErrNotFound", err)
	}
}

func testListReports(t *testing.T, s record.Store) {
	ctx := context.Background()
	older := mustSession(t, s, "old")
	newer := mustSession(t, s, "new")

	for i, id := range []string{older.ID, newer.ID} {
		if err := s.SaveReport(ctx, record.Report{
			SessionID:      id,
			IntegrityScore: 100,
			EventDigest:    "d",
			CreatedAt:      base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("SaveReport: unexpected error: %v", err)
		}
	}

	reports, err := s.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("ListReports: got %d reports, want 2", len(reports))
	}
	if reports[0].SessionID != newer.ID {
		t.Errorf("ListReports[0]: got %q, want newest %q", reports[0].SessionID, newer.ID)
	}
}

func testReportRecordingRef(t *testing.T, s record.Store) {
	ctx := context.Background()
	recorded := mustSession(t, s, "grace")
	bare := mustSession(t, s, "alan")

	for _, id := range []string{recorded.ID, bare.ID} {
		if err := s.SaveReport(ctx, record.Report{SessionID: id, IntegrityScore: 95, EventDigest: "d", CreatedAt: base}); err != nil {
			t.Fatalf("SaveReport: unexpected error: %v", err)
		}
	}
	// The reference arrives after the report was saved.
	ended := base.Add(time.Hour)
	recorded.EndTime = &ended
	recorded.RecordingRef = "recordings/grace.webm"
	if err := s.EndSession(ctx, recorded); err != nil {
		t.Fatalf("EndSession: unexpected error: %v", err)
	}

	got, err := s.GetReport(ctx, recorded.ID)
	if err != nil {
		t.Fatalf("GetReport: unexpected error: %v", err)
	}
	if got.RecordingRef != "recordings/grace.webm" {
		t.Errorf("GetReport RecordingRef: got %q", got.RecordingRef)
	}

	reports, err := s.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: unexpected error: %v", err)
	}
	refs := make(map[string]string, len(reports))
	for _, r := range reports {
		refs[r.SessionID] = r.RecordingRef
	}
	if refs[recorded.ID] != "recordings/grace.webm" || refs[bare.ID] != "" || len(refs) != 2 {
		t.Errorf("ListReports recording refs: got %v", refs)
	}
}

func testCascadeDelete(t *testing.T, s record.Store) {
	ctx := context.Background()
	a := mustSession(t, s, "a")
	b := mustSession(t, s, "b")

	for i := range 3 {
		mustAppend(t, s, a.ID, record.EventNoFace, time.Duration(i)*time.Second)
	}
	mustAppend(t, s, b.ID, record.EventLookingAway, time.Second)
	if err := s.SaveReport(ctx, record.Report{SessionID: a.ID, EventDigest: "d", CreatedAt: base}); err != nil {
		t.Fatalf("SaveReport: unexpected error: %v", err)
	}

	p, err := s.PreviewDelete(ctx, a.ID)
	if err != nil {
		t.Fatalf("PreviewDelete: unexpected error: %v", err)
	}
	if p.Events != 3 || p.Reports != 1 {
		t.Errorf("PreviewDelete: got %+v, want 3 events and 1 report", p)
	}

	// Preview must not delete anything.
	if _, err := s.GetSession(ctx, a.ID); err != nil {
		t.Fatalf("GetSession after preview: unexpected error: %v", err)
	}

	deleted, err := s.DeleteSession(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteSession: unexpected error: %v", err)
	}
	if deleted != p {
		t.Errorf("DeleteSession: got %+v, want %+v", deleted, p)
	}

	if _, err := s.GetSession(ctx, a.ID); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("GetSession after delete: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetReport(ctx, a.ID); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("GetReport after delete: got %v, want ErrNotFound", err)
	}
	events, err := s.EventsBySession(ctx, a.ID)
	if err != nil {
		t.Fatalf("EventsBySession after delete: unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("EventsBySession after delete: got %d events, want 0", len(events))
	}

	// Session b is untouched.
	if _, err := s.GetSession(ctx, b.ID); err != nil {
		t.Errorf("GetSession(b): unexpected error: %v", err)
	}
	bEvents, err := s.EventsBySession(ctx, b.ID)
	if err != nil {
		t.Fatalf("EventsBySession(b): unexpected error: %v", err)
	}
	if len(bEvents) != 1 {
		t.Errorf("EventsBySession(b): got %d events, want 1", len(bEvents))
	}

	if _, err := s.DeleteSession(ctx, a.ID); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("second DeleteSession: got %v, want ErrNotFound", err)
	}
	if _, err := s.PreviewDelete(ctx, a.ID); !errors.Is(err, record.ErrNotFound) {
		t.Errorf("PreviewDelete after delete: got %v, want ErrNotFound", err)
	}
}
