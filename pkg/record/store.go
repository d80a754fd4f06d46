package record

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested session or report does not exist.
var ErrNotFound = errors.New("record: not found")

// ErrConflict is returned by [ReportStore.SaveReport] when the session
// already has a report. Reports are computed once and never replaced.
var ErrConflict = errors.New("record: already exists")

// EventLog is the append-only store of integrity events.
//
// All implementations must be safe for concurrent use.
type EventLog interface {
	// Append persists e and returns it with its ID populated. An empty ID is
	// assigned by the log.
	Append(ctx context.Context, e Event) (Event, error)

	// EventsBySession returns every event of the session ordered by
	// timestamp ascending, ties in insertion order. An unknown session
	// yields an empty slice.
	EventsBySession(ctx context.Context, sessionID string) ([]Event, error)
}

// SessionStore persists session records.
type SessionStore interface {
	// CreateSession persists s. An empty ID is assigned by the store.
	CreateSession(ctx context.Context, s Session) (Session, error)

	// GetSession returns the session with the given ID or [ErrNotFound].
	GetSession(ctx context.Context, id string) (Session, error)

	// EndSession sets the end time and recording reference of an existing
	// session. Returns [ErrNotFound] for an unknown session.
	EndSession(ctx context.Context, s Session) error
}

// ReportStore persists derived reports, at most one per session.
type ReportStore interface {
	// SaveReport persists r. Returns [ErrConflict] when the session already
	// has a report and [ErrNotFound] when the session does not exist.
	SaveReport(ctx context.Context, r Report) error

	// GetReport returns the report of the session or [ErrNotFound].
	GetReport(ctx context.Context, sessionID string) (Report, error)

	// ListReports returns every report, newest first.
	ListReports(ctx context.Context) ([]Report, error)
}

// Store is the full persistence surface used by the session lifecycle.
type Store interface {
	EventLog
	SessionStore
	ReportStore

	// PreviewDelete counts what [Store.DeleteSession] would remove.
	// Returns [ErrNotFound] for an unknown session.
	PreviewDelete(ctx context.Context, sessionID string) (DeletePreview, error)

	// DeleteSession atomically removes the session together with all of
	// its events and reports and returns what was removed. Either
	// everything is deleted or nothing is. Returns [ErrNotFound] when the
	// session does not exist, so repeating a successful delete is safe.
	DeleteSession(ctx context.Context, sessionID string) (DeletePreview, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
