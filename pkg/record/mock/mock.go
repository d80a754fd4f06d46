// Package mock provides a [record.Store] test double.
//
// Store delegates to an in-memory store so reads see earlier writes, records
// every Append, and lets tests inject failures per operation:
//
//	st := mock.New()
//	st.AppendErr = errors.New("disk full")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/record/memstore"
)

// Store is a mock implementation of record.Store.
type Store struct {
	mu    sync.Mutex
	inner *memstore.Store

	// AppendErr, if non-nil, is returned by every Append call and the event
	// is not stored.
	AppendErr error

	// EventsErr, if non-nil, is returned by every EventsBySession call.
	EventsErr error

	// SaveReportErr, if non-nil, is returned by every SaveReport call.
	SaveReportErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// AppendCalls records every event passed to Append, including failed ones.
	AppendCalls []record.Event

	// EventsCallCount is the number of EventsBySession calls.
	EventsCallCount int

	// SaveReportCallCount is the number of SaveReport calls.
	SaveReportCallCount int
}

// New returns an empty mock store.
func New() *Store {
	return &Store{inner: memstore.New()}
}

var _ record.Store = (*Store)(nil)

// SetAppendErr replaces AppendErr. Thread-safe.
func (s *Store) SetAppendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AppendErr = err
}

// SetEventsErr replaces EventsErr. Thread-safe.
func (s *Store) SetEventsErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EventsErr = err
}

// Appended returns a copy of AppendCalls. Thread-safe.
func (s *Store) Appended() []record.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Event, len(s.AppendCalls))
	copy(out, s.AppendCalls)
	return out
}

// EventsCalls returns EventsCallCount. Thread-safe.
func (s *Store) EventsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCallCount
}

// Append implements record.EventLog.
func (s *Store) Append(ctx context.Context, e record.Event) (record.Event, error) {
	s.mu.Lock()
	s.AppendCalls = append(s.AppendCalls, e)
	err := s.AppendErr
	s.mu.Unlock()
	if err != nil {
		return record.Event{}, err
	}
	return s.inner.Append(ctx, e)
}

// EventsBySession implements record.EventLog.
func (s *Store) EventsBySession(ctx context.Context, sessionID string) ([]record.Event, error) {
	s.mu.Lock()
	s.EventsCallCount++
	err := s.EventsErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.EventsBySession(ctx, sessionID)
}

// CreateSession implements record.SessionStore.
func (s *Store) CreateSession(ctx context.Context, sess record.Session) (record.Session, error) {
	return s.inner.CreateSession(ctx, sess)
}

// GetSession implements record.SessionStore.
func (s *Store) GetSession(ctx context.Context, id string) (record.Session, error) {
	return s.inner.GetSession(ctx, id)
}

// EndSession implements record.SessionStore.
func (s *Store) EndSession(ctx context.Context, sess record.Session) error {
	return s.inner.EndSession(ctx, sess)
}

// SaveReport implements record.ReportStore.
func (s *Store) SaveReport(ctx context.Context, r record.Report) error {
	s.mu.Lock()
	s.SaveReportCallCount++
	err := s.SaveReportErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.SaveReport(ctx, r)
}

// SaveReportCalls returns SaveReportCallCount. Thread-safe.
func (s *Store) SaveReportCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SaveReportCallCount
}

// GetReport implements record.ReportStore.
func (s *Store) GetReport(ctx context.Context, sessionID string) (record.Report, error) {
	return s.inner.GetReport(ctx, sessionID)
}

// ListReports implements record.ReportStore.
func (s *Store) ListReports(ctx context.Context) ([]record.Report, error) {
	return s.inner.ListReports(ctx)
}

// PreviewDelete implements record.Store.
func (s *Store) PreviewDelete(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	return s.inner.PreviewDelete(ctx, sessionID)
}

// DeleteSession implements record.Store.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	return s.inner.DeleteSession(ctx, sessionID)
}

// Ping implements record.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}
