package signal

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxAge is how long a published snapshot stays current when nothing
// newer arrives.
const DefaultMaxAge = 2 * time.Second

// Latest is a [Source] that returns the most recently published snapshot.
// Publishers push whenever a new observation arrives; detector loops read at
// their own cadence and may see the same snapshot twice or skip some
// entirely.
//
// A snapshot older than the max age is sampled as an empty frame of the same
// size: a client that stops publishing is treated as showing nothing, not
// as frozen on its last frame. Sample blocks until the first snapshot is
// published.
type Latest struct {
	maxAge time.Duration
	now    func() time.Time

	mu          sync.Mutex
	cur         Snapshot
	publishedAt time.Time
	ready       chan struct{}
	readyOK     bool
	done        chan struct{}
	once        sync.Once
}

var _ Source = (*Latest)(nil)

// LatestOption configures a [Latest].
type LatestOption func(*Latest)

// WithMaxAge sets how long a snapshot stays current. Zero or negative keeps
// the last snapshot forever. Default: [DefaultMaxAge].
func WithMaxAge(d time.Duration) LatestOption {
	return func(l *Latest) { l.maxAge = d }
}

// WithLatestClock overrides the clock used to age snapshots.
func WithLatestClock(now func() time.Time) LatestOption {
	return func(l *Latest) { l.now = now }
}

// NewLatest returns an empty Latest source.
func NewLatest(opts ...LatestOption) *Latest {
	l := &Latest{
		maxAge: DefaultMaxAge,
		now:    time.Now,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Publish replaces the current snapshot. Publishing after Close is a no-op.
func (l *Latest) Publish(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.done:
		return
	default:
	}
	l.cur = s
	l.publishedAt = l.now()
	if !l.readyOK {
		l.readyOK = true
		close(l.ready)
	}
}

// Close marks the source exhausted. Pending and future Sample calls return
// [ErrClosed].
func (l *Latest) Close() {
	l.once.Do(func() { close(l.done) })
}

// Sample implements [Source].
func (l *Latest) Sample(ctx context.Context) (Snapshot, error) {
	select {
	case <-l.done:
		return Snapshot{}, ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-l.done:
		return Snapshot{}, ErrClosed
	case <-l.ready:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.maxAge > 0 && l.now().Sub(l.publishedAt) > l.maxAge {
		return Snapshot{FrameWidth: l.cur.FrameWidth, FrameHeight: l.cur.FrameHeight}, nil
	}
	return l.cur, nil
}
