package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vigil/internal/detect"
	"github.com/MrWong99/vigil/internal/observe"
	"github.com/MrWong99/vigil/pkg/signal"
)

// runner drives the three detector loops of one attached session. Each loop
// owns its detector exclusively; the loops share only the source and the
// sink.
type runner struct {
	sessionID string
	src       signal.Source
	state     *detect.State
	sink      *sink
	metrics   *observe.Metrics
	now       func() time.Time
	tuning    Tuning

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// start launches the loops under ctx and returns immediately.
func (r *runner) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.loop(gctx, r.state.Attention, r.tuning.VideoInterval) })
	g.Go(func() error { return r.loop(gctx, r.state.Objects, r.tuning.VideoInterval) })
	g.Go(func() error { return r.loop(gctx, r.state.Audio, r.tuning.AudioInterval) })

	go func() {
		defer close(r.done)
		r.err = g.Wait()
		if r.err != nil {
			observe.Logger(ctx).Warn("monitor: detector loops stopped", "err", r.err)
			return
		}
		observe.Logger(ctx).Debug("monitor: detector loops stopped")
	}()
}

// stop cancels the loops and waits for them to return.
func (r *runner) stop() error {
	r.cancel()
	<-r.done
	return r.err
}

func (r *runner) loop(ctx context.Context, d detect.Detector, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		snap, err := r.src.Sample(ctx)
		switch {
		case errors.Is(err, signal.ErrClosed):
			slog.Debug("monitor: signal source closed", "session_id", r.sessionID, "detector", d.Name())
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			return fmt.Errorf("monitor: sample %s: %w", d.Name(), err)
		}
		r.metrics.RecordSample(ctx, d.Name())

		for _, e := range d.Observe(r.now(), snap) {
			r.sink.Submit(ctx, e)
		}
	}
}
