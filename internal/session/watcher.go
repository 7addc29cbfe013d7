package session

import (
	"context"
	"sync/atomic"
	"time"
)

// Watcher drives a Guard with real time. A ticker exists only while the
// guard is in GracePeriod or Reconnecting and is stopped on every exit.
type Watcher struct {
	Guard *Guard
	Now   func() time.Time

	ticking atomic.Bool
}

// Ticking reports whether the poll ticker is currently running.
func (w *Watcher) Ticking() bool {
	return w.ticking.Load()
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	now := w.Now
	if now == nil {
		now = time.Now
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
			w.ticking.Store(false)
		}
	}
	reconcile := func() {
		switch {
		case w.Guard.Timed() && ticker == nil:
			ticker = time.NewTicker(w.Guard.Config().PollInterval)
			tick = ticker.C
			w.ticking.Store(true)
		case !w.Guard.Timed():
			stopTicker()
		}
	}
	defer stopTicker()

	reconcile()
	for {
		select {
		case <-w.Guard.Changed():
			reconcile()
		case <-tick:
			w.Guard.Tick(ctx, now())
			reconcile()
		case <-ctx.Done():
			return
		}
	}
}
