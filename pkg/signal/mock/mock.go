// Package mock provides a scripted [signal.Source] for tests.
//
// Source returns Snapshots in order, one per Sample call, and keeps returning
// the final snapshot once the script is exhausted unless CloseAfter is set.
//
//	src := &mock.Source{Snapshots: []signal.Snapshot{{Faces: nil}}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vigil/pkg/signal"
)

// Source is a mock implementation of signal.Source.
type Source struct {
	mu sync.Mutex

	// Snapshots is the script returned by successive Sample calls.
	Snapshots []signal.Snapshot

	// CloseAfter makes Sample return signal.ErrClosed once the script is
	// exhausted instead of repeating the last snapshot.
	CloseAfter bool

	// SampleErr, if non-nil, is returned by every Sample call.
	SampleErr error

	// SampleCallCount is the number of times Sample was called.
	SampleCallCount int

	next int
}

// Sample records the call and returns the next scripted snapshot.
func (s *Source) Sample(ctx context.Context) (signal.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SampleCallCount++
	if err := ctx.Err(); err != nil {
		return signal.Snapshot{}, err
	}
	if s.SampleErr != nil {
		return signal.Snapshot{}, s.SampleErr
	}
	if s.next >= len(s.Snapshots) {
		if s.CloseAfter || len(s.Snapshots) == 0 {
			return signal.Snapshot{}, signal.ErrClosed
		}
		return s.Snapshots[len(s.Snapshots)-1], nil
	}
	snap := s.Snapshots[s.next]
	s.next++
	return snap, nil
}

// Calls returns the number of Sample calls so far. Thread-safe.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SampleCallCount
}

var _ signal.Source = (*Source)(nil)
