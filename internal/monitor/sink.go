package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/internal/resilience"
	"github.com/MrWong99/vigil/pkg/record"
)

// sink persists one session's events in the background. Submit never
// blocks the detector loop: events that do not fit the buffer, fail to
// write, or meet an open breaker are dropped and counted, never retried.
type sink struct {
	sessionID string
	log       record.EventLog
	breaker   *resilience.Breaker
	metrics   *observe.Metrics
	timeout   time.Duration

	// base carries request-scoped values for writes but is never cancelled,
	// so Close can drain after the session context is gone.
	base context.Context

	mu     sync.RWMutex
	closed bool
	ch     chan record.Event
	done   chan struct{}
}

func newSink(ctx context.Context, sessionID string, log record.EventLog, breaker *resilience.Breaker, metrics *observe.Metrics, buffer int, timeout time.Duration) *sink {
	s := &sink{
		sessionID: sessionID,
		log:       log,
		breaker:   breaker,
		metrics:   metrics,
		timeout:   timeout,
		base:      context.WithoutCancel(ctx),
		ch:        make(chan record.Event, buffer),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit queues e for persistence and reports whether it was accepted.
func (s *sink) Submit(ctx context.Context, e record.Event) bool {
	s.metrics.RecordEventEmitted(ctx, string(e.Type))

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(ctx, e, observe.DropClosed, nil)
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		s.drop(ctx, e, observe.DropBufferFull, nil)
		return false
	}
}

// Close stops accepting events and blocks until every queued event has been
// written or dropped. Safe to call more than once.
func (s *sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *sink) run() {
	defer close(s.done)
	for e := range s.ch {
		s.write(e)
	}
}

func (s *sink) write(e record.Event) {
	start := time.Now()
	err := s.breaker.Do(s.base, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_, err := s.log.Append(ctx, e)
		return err
	})
	s.metrics.EventWriteDuration.Record(s.base, time.Since(start).Seconds())

	switch {
	case errors.Is(err, resilience.ErrOpen):
		s.drop(s.base, e, observe.DropCircuitOpen, err)
	case err != nil:
		s.drop(s.base, e, observe.DropWriteFailed, err)
	}
}

func (s *sink) drop(ctx context.Context, e record.Event, reason string, err error) {
	s.metrics.RecordEventDropped(ctx, reason)
	attrs := []any{"session_id", s.sessionID, "type", e.Type, "reason", reason}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	slog.Warn("monitor: event dropped", attrs...)
}
