// Package monitor owns the lifecycle of proctored sessions.
//
// A [Manager] starts sessions, attaches a [signal.Source] to run the three
// detector loops against it, and ends sessions by scoring the persisted
// event log exactly once. Detector events are persisted fire-and-forget
// through a per-session sink guarded by a shared circuit breaker; a failed
// write never interrupts detection.
//
// Lifecycle of a session:
//
//	Start ──▶ Attach ──▶ End ──▶ (report)
//	  │                   ▲
//	  └───────────────────┘   Attach is optional; End works either way.
//
// All exported methods are safe for concurrent use.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/vigil/internal/detect"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/internal/resilience"
	"github.com/MrWong99/vigil/internal/scoring"
	"github.com/MrWong99/vigil/pkg/record"
	"github.com/MrWong99/vigil/pkg/signal"
)

var (
	// ErrInvalidCandidate is returned by Start when the candidate name or
	// email is missing.
	ErrInvalidCandidate = errors.New("monitor: invalid candidate")

	// ErrSessionEnded is returned by Attach for a session that has ended.
	ErrSessionEnded = errors.New("monitor: session ended")

	// ErrScoring is returned when the event log could not be read or scored.
	// The session stays ended without a report; a later End retries.
	ErrScoring = errors.New("monitor: scoring failed")
)

// Candidate identifies the person being monitored.
type Candidate struct {
	Name  string
	Email string
}

// EndOptions carries optional data recorded when a session ends.
type EndOptions struct {
	// RecordingRef is an opaque reference to an external recording.
	RecordingRef string
}

// Tuning is the detector configuration captured by each session at Start.
type Tuning struct {
	Detectors     detect.Config
	VideoInterval time.Duration
	AudioInterval time.Duration
}

// DefaultTuning returns the stock detector tuning and sampling cadence.
func DefaultTuning() Tuning {
	return Tuning{
		Detectors:     detect.DefaultConfig(),
		VideoInterval: 100 * time.Millisecond,
		AudioInterval: 50 * time.Millisecond,
	}
}

// SinkConfig tunes event persistence.
type SinkConfig struct {
	// Buffer is the per-session event queue length.
	Buffer int

	// WriteTimeout bounds a single append.
	WriteTimeout time.Duration

	// Breaker tunes the circuit breaker shared by all sessions.
	Breaker resilience.BreakerConfig
}

// entry is the in-memory state of a session that has not been released.
type entry struct {
	// endMu serialises End and Delete for this session.
	endMu sync.Mutex

	sess   record.Session
	state  *detect.State
	tuning Tuning

	// runner and sink are set while attached.
	runner *runner
	sink   *sink
}

// Manager manages proctored sessions.
type Manager struct {
	store   record.Store
	metrics *observe.Metrics
	now     func() time.Time
	sinkCfg SinkConfig
	breaker *resilience.Breaker

	mu       sync.Mutex
	tuning   Tuning
	sessions map[string]*entry
}

// Option is a functional option for [New].
type Option func(*Manager)

// WithClock overrides the clock used for session and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithTuning sets the initial detector tuning.
func WithTuning(t Tuning) Option {
	return func(m *Manager) { m.tuning = t }
}

// WithSink sets the event persistence tuning.
func WithSink(c SinkConfig) Option {
	return func(m *Manager) { m.sinkCfg = c }
}

// New creates a Manager backed by store.
func New(store record.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		now:    time.Now,
		tuning: DefaultTuning(),
		sinkCfg: SinkConfig{
			Buffer:       256,
			WriteTimeout: 2 * time.Second,
		},
		sessions: make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.sinkCfg.WriteTimeout <= 0 {
		m.sinkCfg.WriteTimeout = 2 * time.Second
	}
	if m.sinkCfg.Buffer < 0 {
		m.sinkCfg.Buffer = 0
	}

	bc := m.sinkCfg.Breaker
	if bc.Name == "" {
		bc.Name = "event-writes"
	}
	if bc.IsFailure == nil {
		// A session deleted while attached says nothing about store health.
		bc.IsFailure = func(err error) bool { return !errors.Is(err, record.ErrNotFound) }
	}
	userHook := bc.OnStateChange
	bc.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("monitor: event write breaker changed state", "breaker", name, "from", from, "to", to)
		m.metrics.RecordBreakerTransition(context.Background(), to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	m.breaker = resilience.NewBreaker(bc)
	return m
}

// SetTuning replaces the detector tuning for sessions started afterwards.
// Running sessions keep the tuning they started with.
func (m *Manager) SetTuning(t Tuning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuning = t
}

// WritesOpen reports whether the event write breaker is currently rejecting
// writes.
func (m *Manager) WritesOpen() bool {
	return m.breaker.State() == resilience.StateOpen
}

// ── Start ────────────────────────────────────────────────────────────────────

// Start persists a new session for c and prepares its detector state.
func (m *Manager) Start(ctx context.Context, c Candidate) (record.Session, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	if c.Name == "" || c.Email == "" {
		return record.Session{}, fmt.Errorf("monitor: start: %w: name and email are required", ErrInvalidCandidate)
	}
	if !strings.Contains(c.Email, "@") {
		return record.Session{}, fmt.Errorf("monitor: start: %w: malformed email %q", ErrInvalidCandidate, c.Email)
	}

	sess, err := m.store.CreateSession(ctx, record.Session{
		CandidateName:  c.Name,
		CandidateEmail: c.Email,
		StartTime:      m.now().UTC(),
	})
	if err != nil {
		return record.Session{}, fmt.Errorf("monitor: start: %w", err)
	}

	m.mu.Lock()
	tuning := m.tuning
	m.sessions[sess.ID] = &entry{
		sess:   sess,
		state:  detect.NewState(sess.ID, sess.StartTime, tuning.Detectors),
		tuning: tuning,
	}
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(observe.WithSessionID(ctx, sess.ID)).Info("session started",
		"candidate", sess.CandidateName,
	)
	return sess, nil
}

// ── Attach ───────────────────────────────────────────────────────────────────

// Attach starts the detector loops of an active session against src. The
// loops outlive ctx; they stop when the session ends, is deleted, or the
// manager shuts down, or when src returns [signal.ErrClosed].
//
// A session accepts one attachment; a second Attach returns
// [record.ErrConflict].
func (m *Manager) Attach(ctx context.Context, sessionID string, src signal.Source) error {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("monitor: attach %s: %w", sessionID, m.unknownSessionErr(ctx, sessionID))
	}

	e.endMu.Lock()
	defer e.endMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.sess.Ended() {
		return fmt.Errorf("monitor: attach %s: %w", sessionID, ErrSessionEnded)
	}
	if m.sessions[sessionID] != e {
		// Deleted while we waited for endMu.
		return fmt.Errorf("monitor: attach %s: %w", sessionID, record.ErrNotFound)
	}
	if e.runner != nil {
		return fmt.Errorf("monitor: attach %s: %w", sessionID, record.ErrConflict)
	}

	base := context.WithoutCancel(observe.WithSessionID(ctx, sessionID))
	e.sink = newSink(base, sessionID, m.store, m.breaker, m.metrics, m.sinkCfg.Buffer, m.sinkCfg.WriteTimeout)
	e.runner = &runner{
		sessionID: sessionID,
		src:       src,
		state:     e.state,
		sink:      e.sink,
		metrics:   m.metrics,
		now:       m.now,
		tuning:    e.tuning,
	}
	e.runner.start(base)

	m.metrics.AttachedSessions.Add(ctx, 1)
	slog.Info("signal source attached", "session_id", sessionID)
	return nil
}

// unknownSessionErr explains why a session has no in-memory state: it has
// ended, it was started by another process, or it does not exist.
func (m *Manager) unknownSessionErr(ctx context.Context, sessionID string) error {
	sess, err := m.store.GetSession(ctx, sessionID)
	switch {
	case err != nil:
		return err
	case sess.Ended():
		return ErrSessionEnded
	default:
		return record.ErrNotFound
	}
}

// detach stops the loops and drains the sink. Callers hold e.endMu.
func (m *Manager) detach(ctx context.Context, e *entry) {
	m.mu.Lock()
	r, s := e.runner, e.sink
	e.runner, e.sink = nil, nil
	m.mu.Unlock()
	if r == nil {
		return
	}
	_ = r.stop()
	s.Close()
	m.metrics.AttachedSessions.Add(ctx, -1)
}

// ── End ──────────────────────────────────────────────────────────────────────

// End stops the session's detector loops, records its end time, and scores
// the full persisted event log into a report.
//
// End is idempotent. Ending a session that already has a report returns that
// report unchanged; ending a session that ended without a report retries
// scoring. Sessions unknown to this process are ended from the store.
func (m *Manager) End(ctx context.Context, sessionID string, opts EndOptions) (record.Session, record.Report, error) {
	ctx = observe.WithSessionID(ctx, sessionID)

	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return m.endPersisted(ctx, sessionID, opts)
	}

	e.endMu.Lock()
	defer e.endMu.Unlock()

	m.detach(ctx, e)

	m.mu.Lock()
	sess := e.sess
	m.mu.Unlock()
	if !sess.Ended() {
		var err error
		if sess, err = m.markEnded(ctx, sess, opts); err != nil {
			return record.Session{}, record.Report{}, fmt.Errorf("monitor: end %s: %w", sessionID, err)
		}
		// Retries after a scoring failure go through the store.
		m.mu.Lock()
		e.sess = sess
		m.mu.Unlock()
		m.forget(ctx, sessionID)
	}

	report, err := m.finalize(ctx, sess)
	if err != nil {
		return sess, record.Report{}, fmt.Errorf("monitor: end %s: %w", sessionID, err)
	}
	return sess, report, nil
}

func (m *Manager) endPersisted(ctx context.Context, sessionID string, opts EndOptions) (record.Session, record.Report, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return record.Session{}, record.Report{}, fmt.Errorf("monitor: end %s: %w", sessionID, err)
	}
	if !sess.Ended() {
		if sess, err = m.markEnded(ctx, sess, opts); err != nil {
			return record.Session{}, record.Report{}, fmt.Errorf("monitor: end %s: %w", sessionID, err)
		}
	}
	report, err := m.finalize(ctx, sess)
	if err != nil {
		return sess, record.Report{}, fmt.Errorf("monitor: end %s: %w", sessionID, err)
	}
	return sess, report, nil
}

func (m *Manager) markEnded(ctx context.Context, sess record.Session, opts EndOptions) (record.Session, error) {
	end := m.now().UTC()
	sess.EndTime = &end
	if opts.RecordingRef != "" {
		sess.RecordingRef = opts.RecordingRef
	}
	if err := m.store.EndSession(ctx, sess); err != nil {
		return record.Session{}, fmt.Errorf("persist end: %w", err)
	}
	observe.Logger(ctx).Info("session ended", "duration", end.Sub(sess.StartTime).Round(time.Second))
	return sess, nil
}

// finalize returns the session's report, computing and persisting it when
// none exists yet. The event log is read once.
func (m *Manager) finalize(ctx context.Context, sess record.Session) (record.Report, error) {
	existing, err := m.store.GetReport(ctx, sess.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, record.ErrNotFound) {
		return record.Report{}, fmt.Errorf("load report: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "monitor.score")
	defer span.End()

	events, err := m.store.EventsBySession(ctx, sess.ID)
	if err != nil {
		span.RecordError(err)
		return record.Report{}, fmt.Errorf("%w: read events: %w", ErrScoring, err)
	}
	report, err := scoring.BuildReport(sess, events, m.now().UTC())
	if err != nil {
		span.RecordError(err)
		return record.Report{}, fmt.Errorf("%w: %w", ErrScoring, err)
	}
	span.SetAttributes(
		attribute.Int("vigil.events", report.RawEventCount),
		attribute.Int("vigil.integrity_score", report.IntegrityScore),
	)

	if err := m.store.SaveReport(ctx, report); err != nil {
		if errors.Is(err, record.ErrConflict) {
			// A concurrent End won the race; its report is authoritative.
			return m.store.GetReport(ctx, sess.ID)
		}
		return record.Report{}, fmt.Errorf("save report: %w", err)
	}

	m.metrics.RecordScore(ctx, report.IntegrityScore)
	observe.Logger(ctx).Info("report created",
		"integrity_score", report.IntegrityScore,
		"total_events", report.TotalEvents,
		"raw_events", report.RawEventCount,
	)
	return report, nil
}

// forget drops the in-memory state of sessionID, if any, and updates the
// active gauge. The caller holds the entry's endMu.
func (m *Manager) forget(ctx context.Context, sessionID string) {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if ok {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// ── Reports and deletion ─────────────────────────────────────────────────────

// Preview returns what Delete would remove for sessionID.
func (m *Manager) Preview(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	p, err := m.store.PreviewDelete(ctx, sessionID)
	if err != nil {
		return record.DeletePreview{}, fmt.Errorf("monitor: preview %s: %w", sessionID, err)
	}
	return p, nil
}

// Delete removes the session with its events and report in one atomic
// cascade and releases any in-memory state. A missing session yields
// [record.ErrNotFound], so retries are safe.
func (m *Manager) Delete(ctx context.Context, sessionID string) (record.DeletePreview, error) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		e.endMu.Lock()
		defer e.endMu.Unlock()
		m.detach(ctx, e)
	}

	p, err := m.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return record.DeletePreview{}, fmt.Errorf("monitor: delete %s: %w", sessionID, err)
	}
	if ok {
		m.forget(ctx, sessionID)
	}
	slog.Info("session deleted", "session_id", sessionID, "events", p.Events, "reports", p.Reports)
	return p, nil
}

// Rescore recomputes the report of sessionID from its persisted event log
// without storing it. Sessions that have not ended are scored up to now.
func (m *Manager) Rescore(ctx context.Context, sessionID string) (record.Report, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return record.Report{}, fmt.Errorf("monitor: rescore %s: %w", sessionID, err)
	}
	events, err := m.store.EventsBySession(ctx, sessionID)
	if err != nil {
		return record.Report{}, fmt.Errorf("monitor: rescore %s: %w: %w", sessionID, ErrScoring, err)
	}
	report, err := scoring.BuildReport(sess, events, m.now().UTC())
	if err != nil {
		return record.Report{}, fmt.Errorf("monitor: rescore %s: %w: %w", sessionID, ErrScoring, err)
	}
	return report, nil
}

// Report returns the persisted report of sessionID.
func (m *Manager) Report(ctx context.Context, sessionID string) (record.Report, error) {
	r, err := m.store.GetReport(ctx, sessionID)
	if err != nil {
		return record.Report{}, fmt.Errorf("monitor: report %s: %w", sessionID, err)
	}
	return r, nil
}

// Events returns the persisted event log of sessionID, oldest first. It is
// the log a report's score and digest are computed from.
func (m *Manager) Events(ctx context.Context, sessionID string) ([]record.Event, error) {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("monitor: events %s: %w", sessionID, err)
	}
	events, err := m.store.EventsBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("monitor: events %s: %w", sessionID, err)
	}
	return events, nil
}

// Reports returns all persisted reports, newest first.
func (m *Manager) Reports(ctx context.Context) ([]record.Report, error) {
	rs, err := m.store.ListReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: list reports: %w", err)
	}
	return rs, nil
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Active returns the IDs of sessions started by this process that have not
// ended.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, e := range m.sessions {
		if !e.sess.Ended() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shutdown stops every detector loop and drains all sinks. Sessions are not
// ended; they can be ended later from the store. Shutdown returns ctx.Err()
// if ctx expires first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, e := range entries {
			wg.Go(func() {
				e.endMu.Lock()
				defer e.endMu.Unlock()
				m.detach(ctx, e)
			})
		}
		wg.Wait()
	}()

	select {
	case <-done:
		slog.Info("monitor: shutdown complete", "sessions", len(entries))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor: shutdown: %w", ctx.Err())
	}
}
