// Package datahooks implements network-first data hooks: try the backend,
// fall back to the last good cached list, and re-sync when connectivity
// returns.
package datahooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/expcache"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

// FetchFunc loads the current rows from the backend.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Snapshot is the result of a refresh.
type Snapshot[T any] struct {
	Items     []T       `json:"items"`
	FromCache bool      `json:"fromCache"`
	SyncedAt  time.Time `json:"syncedAt,omitzero"`
	Fresh     bool      `json:"fresh"`
}

// Option configures a Hook.
type Option[T any] func(*Hook[T])

// WithClock overrides the hook and cache clock.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(h *Hook[T]) { h.now = now }
}

// WithOnUpdate registers a callback invoked with every applied snapshot.
func WithOnUpdate[T any](fn func(Snapshot[T])) Option[T] {
	return func(h *Hook[T]) { h.onUpdate = fn }
}

// Hook serves one resource for one entity.
type Hook[T any] struct {
	resource string
	id       string
	fetch    FetchFunc[T]
	monitor  *netstatus.Monitor
	cache    *expcache.Cache[[]T]
	now      func() time.Time
	onUpdate func(Snapshot[T])
	log      *zap.Logger

	mu       sync.Mutex
	snap     Snapshot[T]
	started  bool
	stopped  bool
	stop     chan struct{}
	unsub    func()
	loopDone chan struct{}
}

// New creates a hook for resource/id backed by store.
func New[T any](resource, id string, store kvstore.Store, ttl time.Duration,
	monitor *netstatus.Monitor, fetch FetchFunc[T], opts ...Option[T]) *Hook[T] {
	h := &Hook[T]{
		resource: resource,
		id:       id,
		fetch:    fetch,
		monitor:  monitor,
		now:      time.Now,
		snap:     Snapshot[T]{Items: []T{}},
		log:      logging.Named("datahooks").With(zap.String("resource", resource), zap.String("id", id)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.cache = expcache.New[[]T](store, resource, ttl, expcache.WithClock(h.now))
	return h
}

// Cache exposes the underlying expiring cache.
func (h *Hook[T]) Cache() *expcache.Cache[[]T] {
	return h.cache
}

// ID returns the entity key the hook is bound to.
func (h *Hook[T]) ID() string {
	return h.id
}

// Refresh loads data network-first and applies the result unless the hook
// has been stopped. It never returns an error: failures degrade to the
// cached list, or to an empty list when nothing is cached.
func (h *Hook[T]) Refresh(ctx context.Context) Snapshot[T] {
	start := time.Now()
	ctx = logging.WithSyncID(ctx, "")
	log := h.log.With(zap.String("sync_id", logging.SyncID(ctx)))

	var snap Snapshot[T]
	outcome := "network"

	if h.monitor == nil || h.monitor.IsOnline() {
		items, err := h.safeFetch(ctx)
		if items == nil {
			items = []T{}
		}
		stale, isStale := remote.Stale(err)
		switch {
		case err == nil:
			h.cache.Save(h.id, items)
			snap = Snapshot[T]{Items: items, SyncedAt: h.now(), Fresh: true}
		case isStale:
			// A stored HTTP response keeps its own age and is not re-cached.
			log.Warn("fetch failed, using stored response", zap.Error(stale.Err))
			snap = Snapshot[T]{Items: items, FromCache: true, SyncedAt: stale.StoredAt}
			outcome = "stored_response"
		default:
			log.Warn("fetch failed, falling back to cache", zap.Error(err))
			snap, outcome = h.fromCache()
		}
	} else {
		snap, outcome = h.fromCache()
	}

	metrics.RecordHookRefresh(h.resource, outcome, time.Since(start))
	log.Debug("refresh complete",
		zap.String("outcome", outcome),
		zap.Int("items", len(snap.Items)))

	h.apply(snap)
	return snap
}

// Snapshot returns the last applied result.
func (h *Hook[T]) Snapshot() Snapshot[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Start mounts the hook: one refresh now and one on every "back online"
// signal until Stop. Start on a started or stopped hook is a no-op.
func (h *Hook[T]) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started || h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.stop = make(chan struct{})
	h.loopDone = make(chan struct{})
	var signals <-chan struct{}
	if h.monitor != nil {
		signals, h.unsub = h.monitor.Subscribe()
	}
	stop, done := h.stop, h.loopDone
	h.mu.Unlock()

	go func() {
		defer close(done)
		h.Refresh(ctx)
		for {
			select {
			case <-signals:
				h.log.Info("Back online, re-syncing")
				h.Refresh(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unmounts the hook. An in-flight refresh is not cancelled; it may
// still write the cache but its result is no longer applied.
func (h *Hook[T]) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	if h.unsub != nil {
		h.unsub()
	}
	if h.stop != nil {
		close(h.stop)
	}
}

// Done is closed when the background loop started by Start has exited.
func (h *Hook[T]) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loopDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.loopDone
}

func (h *Hook[T]) fromCache() (Snapshot[T], string) {
	items, ok := h.cache.Read(h.id)
	if !ok {
		return Snapshot[T]{Items: []T{}}, "empty"
	}
	if items == nil {
		items = []T{}
	}
	snap := Snapshot[T]{Items: items, FromCache: true, Fresh: h.cache.IsFresh(h.id, h.now())}
	if ts, ok := h.cache.Timestamp(h.id); ok {
		snap.SyncedAt = ts
	}
	return snap, "cache"
}

func (h *Hook[T]) safeFetch(ctx context.Context) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return h.fetch(ctx)
}

func (h *Hook[T]) apply(snap Snapshot[T]) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.snap = snap
	fn := h.onUpdate
	h.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}
