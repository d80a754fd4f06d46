package resilience_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/vigil/internal/resilience"
)

var errWrite = errors.New("write failed")

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail(context.Context) error    { return errWrite }
func succeed(context.Context) error { return nil }

func newBreaker(clk *fakeClock, transitions *[]string) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Name:         "events",
		MaxFailures:  3,
		ResetTimeout: 10 * time.Second,
		Now:          clk.Now,
		OnStateChange: func(_ string, from, to resilience.State) {
			if transitions != nil {
				*transitions = append(*transitions, from.String()+"->"+to.String())
			}
		},
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(0, 0)}
	b := newBreaker(clk, nil)
	ctx := context.Background()

	for i := range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errWrite) {
			t.Fatalf("call %d: got %v, want errWrite", i, err)
		}
	}
	if b.State() != resilience.StateOpen {
		t.Fatalf("State: got %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("open breaker: got %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker invoked fn")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{now: time.Unix(0, 0)}, nil)
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != resilience.StateClosed {
		t.Fatalf("State: got %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func(context.Context) error
		want  resilience.State
		trans []string
	}{
		{
			name:  "probe succeeds",
			probe: succeed,
			want:  resilience.StateClosed,
			trans: []string{"closed->open", "open->half-open", "half-open->closed"},
		},
		{
			name:  "probe fails",
			probe: fail,
			want:  resilience.StateOpen,
			trans: []string{"closed->open", "open->half-open", "half-open->open"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clk := &fakeClock{now: time.Unix(0, 0)}
			var trans []string
			b := newBreaker(clk, &trans)
			ctx := context.Background()
			for range 3 {
				_ = b.Do(ctx, fail)
			}

			clk.Advance(9 * time.Second)
			if b.State() != resilience.StateOpen {
				t.Fatalf("before timeout: got %v, want open", b.State())
			}
			clk.Advance(time.Second)
			if b.State() != resilience.StateHalfOpen {
				t.Fatalf("after timeout: got %v, want half-open", b.State())
			}

			_ = b.Do(ctx, tc.probe)
			if b.State() != tc.want {
				t.Errorf("after probe: got %v, want %v", b.State(), tc.want)
			}
			if len(trans) != len(tc.trans) {
				t.Fatalf("transitions: got %v, want %v", trans, tc.trans)
			}
			for i := range trans {
				if trans[i] != tc.trans[i] {
					t.Errorf("transition %d: got %q, want %q", i, trans[i], tc.trans[i])
				}
			}
		})
	}
}

func TestBreaker_ContextErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	b := newBreaker(&fakeClock{now: time.Unix(0, 0)}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		_ = b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	}
	if b.State() != resilience.StateOpen {
		t.Errorf("State: got %v, want open", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	var trans []string
	b := newBreaker(&fakeClock{now: time.Unix(0, 0)}, &trans)
	for range 3 {
		_ = b.Do(context.Background(), fail)
	}
	b.Reset()
	if b.State() != resilience.StateClosed {
		t.Fatalf("State after Reset: got %v", b.State())
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("Do after Reset: unexpected error: %v", err)
	}
	if trans[len(trans)-1] != "open->closed" {
		t.Errorf("last transition: got %q, want open->closed", trans[len(trans)-1])
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[resilience.State]string{
		resilience.StateClosed:   "closed",
		resilience.StateOpen:     "open",
		resilience.StateHalfOpen: "half-open",
		resilience.State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String(): got %q, want %q", s, got, want)
		}
	}
}

func TestBreaker_IsFailureFiltersErrors(t *testing.T) {
	t.Parallel()

	errGone := errors.New("gone")
	b := resilience.NewBreaker(resilience.BreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errGone) },
	})

	for range 3 {
		if err := b.Do(context.Background(), func(context.Context) error { return errGone }); !errors.Is(err, errGone) {
			t.Fatalf("Do: got %v, want the error from fn", err)
		}
	}
	if b.State() != resilience.StateClosed {
		t.Fatalf("State after ignored errors: got %v, want closed", b.State())
	}

	_ = b.Do(context.Background(), fail)
	if b.State() != resilience.StateOpen {
		t.Errorf("State after a counted failure: got %v, want open", b.State())
	}
}
