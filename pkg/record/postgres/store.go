// Package postgres is the PostgreSQL-backed [record.Store].
//
// Schema is managed by goose migrations embedded in the binary and applied by
// [NewStore]. The cascading delete runs in a single transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/vigil/pkg/record"
)

var _ record.Store = (*Store)(nil)

// PostgreSQL error codes mapped to record sentinels.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Store implements [record.Store] on a [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [record.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// mapErr translates constraint violations into record sentinels.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", record.ErrNotFound, pgErr.ConstraintName)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", record.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}

// ── Sessions ─────────────────────────────────────────────────────────────────

// CreateSession implements [record.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess record.Session) (record.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO sessions (id, candidate_name, candidate_email, start_time, end_time, recording_ref)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, q,
		sess.ID, sess.CandidateName, sess.CandidateEmail, sess.StartTime, sess.EndTime, sess.RecordingRef)
	if err != nil {
		return record.Session{}, fmt.Errorf("postgres store: create session: %w", mapErr(err))
	}
	return sess, nil
}

// GetSession implements [record.SessionStore].
func (s *Store) GetSession(ctx context.Context, id string) (record.Session, error) {
	const q = `
		SELECT id, candidate_name, candidate_email, start_time, end_time, recording_ref
		FROM   sessions
		WHERE  id = $1`
	var sess record.Session
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.CandidateName, &sess.CandidateEmail, &sess.StartTime, &sess.EndTime, &sess.RecordingRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Session{}, record.ErrNotFound
	}
	if err != nil {
		return record.Session{}, fmt.Errorf("postgres store: get session: %w", err)
	}
	return sess, nil
}

// EndSession implements [record.SessionStore].
func (s *Store) EndSession(ctx context.Context, sess record.Session) error {
	const q = `UPDATE sessions SET end_time = $2, recording_ref = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, sess.ID, sess.EndTime, sess.RecordingRef)
	if err != nil {
		return fmt.Errorf("postgres store: end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return record.ErrNotFound
	}
	return nil
}

// ── Events ───────────────────────────────────────────────────────────────────

// Append implements [record.EventLog].
func (s *Store) Append(ctx context.Context, e record.Event) (record.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO events (id, session_id, type, timestamp, duration, details)
		VALUES ($1, $2, $3, $4, $5, $6)`
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	_, err := s.pool.Exec(ctx, q, e.ID, e.SessionID, string(e.Type), e.Timestamp, e.Duration, details)
	if err != nil {
		return record.Event{}, fmt.Errorf("postgres store: append event: %w", mapErr(err))
	}
	return e, nil
}

// EventsBySession implements [record.EventLog].
func (s *Store) EventsBySession(ctx context.Context, sessionID string) ([]record.Event, error) {
	const q = `
		SELECT id, session_id, type, timestamp, duration, details
		FROM   events
		WHERE  session_id = $1
		ORDER  BY timestamp, seq`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: events by session: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (record.Event, error) {
		var (
			e   record.Event
			typ string
		)
		if err := row.Scan(&e.ID, &e.SessionID, &typ, &e.Timestamp, &e.Duration, &e.Details); err != nil {
			return record.Event{}, err
		}
		e.Type = record.EventType(typ)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: events by session: %w", err)
	}
	if events == nil {
		events = []record.Event{}
	}
	return events, nil
}

// ── Reports ──────────────────────────────────────────────────────────────────

const reportColumns = `session_id, candidate_name, candidate_email, duration, total_events,
	focus_lost, no_face, multiple_faces, restricted_object, notes_or_books,
	integrity_score, raw_event_count, event_digest, created_at`

// reportQuery reads reports joined to their session's recording reference.
const reportQuery = `SELECT r.session_id, r.candidate_name, r.candidate_email, r.duration,
	r.total_events, r.focus_lost, r.no_face, r.multiple_faces, r.restricted_object,
	r.notes_or_books, r.integrity_score, r.raw_event_count, r.event_digest, r.created_at,
	s.recording_ref
	FROM reports r JOIN sessions s ON s.id = r.session_id`

// SaveReport implements [record.ReportStore].
func (s *Store) SaveReport(ctx context.Context, r record.Report) error {
	q := `INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	c := r.SuspiciousCounts
	_, err := s.pool.Exec(ctx, q,
		r.SessionID, r.CandidateName, r.CandidateEmail, r.Duration, r.TotalEvents,
		c.FocusLost, c.NoFace, c.MultipleFaces, c.RestrictedObject, c.NotesOrBooks,
		r.IntegrityScore, r.RawEventCount, r.EventDigest, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save report: %w", mapErr(err))
	}
	return nil
}

// GetReport implements [record.ReportStore].
func (s *Store) GetReport(ctx context.Context, sessionID string) (record.Report, error) {
	q := reportQuery + ` WHERE r.session_id = $1`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return record.Report{}, fmt.Errorf("postgres store: get report: %w", err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanReport)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Report{}, record.ErrNotFound
	}
	if err != nil {
		return record.Report{}, fmt.Errorf("postgres store: get report: %w", err)
	}
	return r, nil
}

// ListReports implements [record.ReportStore].
func (s *Store) ListReports(ctx context.Context) ([]record.Report, error) {
	q := reportQuery + ` ORDER BY r.created_at DESC, r.session_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list reports: %w", err)
	}
	reports, err := pgx.CollectRows(rows, scanReport)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list reports: %w", err)
	}
	if reports == nil {
		reports = []record.Report{}
	}
	return reports, nil
}

func scanReport(row pgx.CollectableRow) (record.Report, error) {
	var r record.Report
	c := &r.SuspiciousCounts
	err := row.Scan(
		&r.SessionID, &r.CandidateName, &r.CandidateEmail, &r.Duration, &r.TotalEvents,
		&c.FocusLost, &c.NoFace, &c.MultipleFaces, &c.RestrictedObject, &c.NotesOrBooks,
		&r.IntegrityScore, &r.RawEventCount, &r.EventDigest, &r.CreatedAt,
		&r.RecordingRef)
	return r, err
}

// ── Cascade delete ───────────────────────────────────────────────────────────

// PreviewDelete implements [record.Store].
func (s *Store) PreviewDelete(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	p, err := preview(ctx, s.pool, sessionID)
	if err != nil {
		return record.DeletePreview{}, fmt.Errorf("postgres store: preview delete: %w", err)
	}
	return p, nil
}

// DeleteSession implements [record.Store]. Events, reports and the session
// row are removed in one transaction; the session row is locked first so a
// concurrent delete of the same session sees [record.ErrNotFound].
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	var p record.DeletePreview
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return record.ErrNotFound
		}
		if err != nil {
			return err
		}

		p = record.DeletePreview{SessionID: sessionID}
		tag, err := tx.Exec(ctx, `DELETE FROM events WHERE session_id = $1`, sessionID)
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		p.Events = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `DELETE FROM reports WHERE session_id = $1`, sessionID)
		if err != nil {
			return fmt.Errorf("delete reports: %w", err)
		}
		p.Reports = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if errors.Is(err, record.ErrNotFound) {
		return record.DeletePreview{}, record.ErrNotFound
	}
	if err != nil {
		return record.DeletePreview{}, fmt.Errorf("postgres store: delete session: %w", err)
	}
	return p, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func preview(ctx context.Context, q querier, sessionID string) (record.DeletePreview, error) {
	const stmt = `
		SELECT (SELECT count(*) FROM events  WHERE session_id = s.id),
		       (SELECT count(*) FROM reports WHERE session_id = s.id)
		FROM   sessions s
		WHERE  s.id = $1`
	var events, reports int64
	err := q.QueryRow(ctx, stmt, sessionID).Scan(&events, &reports)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.DeletePreview{}, record.ErrNotFound
	}
	if err != nil {
		return record.DeletePreview{}, err
	}
	return record.DeletePreview{SessionID: sessionID, Events: int(events), Reports: int(reports)}, nil
}
