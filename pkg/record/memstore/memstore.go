// Package memstore is an in-memory [record.Store]. It is used when no
// database is configured and throughout the tests.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/vigil/pkg/record"
)

// Compile-time assertion that Store satisfies record.Store.
var _ record.Store = (*Store)(nil)

// Store is a thread-safe, in-memory implementation of [record.Store].
// The zero value is ready to use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]record.Session
	events   map[string][]record.Event
	reports  map[string]record.Report
}

// New returns an initialised [Store].
func New() *Store {
	return &Store{
		sessions: make(map[string]record.Session),
		events:   make(map[string][]record.Event),
		reports:  make(map[string]record.Report),
	}
}

func (s *Store) init() {
	if s.sessions == nil {
		s.sessions = make(map[string]record.Session)
		s.events = make(map[string][]record.Event)
		s.reports = make(map[string]record.Report)
	}
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [record.SessionStore].
func (s *Store) CreateSession(_ context.Context, sess record.Session) (record.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if _, ok := s.sessions[sess.ID]; ok {
		return record.Session{}, record.ErrConflict
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

// GetSession implements [record.SessionStore].
func (s *Store) GetSession(_ context.Context, id string) (record.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return record.Session{}, record.ErrNotFound
	}
	return sess, nil
}

// EndSession implements [record.SessionStore].
func (s *Store) EndSession(_ context.Context, sess record.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return record.ErrNotFound
	}
	cur.EndTime = sess.EndTime
	cur.RecordingRef = sess.RecordingRef
	s.sessions[sess.ID] = cur
	return nil
}

// ── Events ───────────────────────────────────────────────────────────────────

// Append implements [record.EventLog].
func (s *Store) Append(_ context.Context, e record.Event) (record.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[e.SessionID]; !ok {
		return record.Event{}, record.ErrNotFound
	}
	s.events[e.SessionID] = append(s.events[e.SessionID], e)
	return e, nil
}

// EventsBySession implements [record.EventLog].
func (s *Store) EventsBySession(_ context.Context, sessionID string) ([]record.Event, error) {
	s.mu.RLock()
	out := slices.Clone(s.events[sessionID])
	s.mu.RUnlock()

	if out == nil {
		out = []record.Event{}
	}
	slices.SortStableFunc(out, func(a, b record.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

// ── Reports ──────────────────────────────────────────────────────────────────

// SaveReport implements [record.ReportStore].
func (s *Store) SaveReport(_ context.Context, r record.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[r.SessionID]; !ok {
		return record.ErrNotFound
	}
	if _, ok := s.reports[r.SessionID]; ok {
		return record.ErrConflict
	}
	s.reports[r.SessionID] = r
	return nil
}

// GetReport implements [record.ReportStore].
func (s *Store) GetReport(_ context.Context, sessionID string) (record.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[sessionID]
	if !ok {
		return record.Report{}, record.ErrNotFound
	}
	r.RecordingRef = s.sessions[sessionID].RecordingRef
	return r, nil
}

// ListReports implements [record.ReportStore].
func (s *Store) ListReports(_ context.Context) ([]record.Report, error) {
	s.mu.RLock()
	out := make([]record.Report, 0, len(s.reports))
	for id, r := range s.reports {
		r.RecordingRef = s.sessions[id].RecordingRef
		out = append(out, r)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b record.Report) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out, nil
}

// ── Cascade delete ───────────────────────────────────────────────────────────

// PreviewDelete implements [record.Store].
func (s *Store) PreviewDelete(_ context.Context, sessionID string) (record.DeletePreview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previewLocked(sessionID)
}

// DeleteSession implements [record.Store]. The whole cascade happens under
// one write lock, so readers never observe a partially deleted session.
func (s *Store) DeleteSession(_ context.Context, sessionID string) (record.DeletePreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.previewLocked(sessionID)
	if err != nil {
		return record.DeletePreview{}, err
	}
	delete(s.events, sessionID)
	delete(s.reports, sessionID)
	delete(s.sessions, sessionID)
	return p, nil
}

func (s *Store) previewLocked(sessionID string) (record.DeletePreview, error) {
	if _, ok := s.sessions[sessionID]; !ok {
		return record.DeletePreview{}, record.ErrNotFound
	}
	p := record.DeletePreview{SessionID: sessionID, Events: len(s.events[sessionID])}
	if _, ok := s.reports[sessionID]; ok {
		p.Reports = 1
	}
	return p, nil
}

// Ping implements [record.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
