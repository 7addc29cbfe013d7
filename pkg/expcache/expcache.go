// Package expcache is a typed cache-with-expiry over a kvstore.Store.
//
// Expiry never hides data: Read returns the last saved value no matter how
// old it is, so an offline screen always has something to render. Freshness
// is reported separately through IsFresh and Timestamp, which UI code uses
// for "cached" badges and "last synced at" labels.
package expcache

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

// KeyPrefix is the namespace every expiring cache key lives under.
// Safe mode clears it wholesale.
const KeyPrefix = "cache:"

// Key builds the persisted key for a resource and entity ID.
// The format is stable across releases; changing it orphans existing caches.
func Key(resource, id string) string {
	return KeyPrefix + resource + ":" + id
}

// Cache stores values of type T for one resource.
type Cache[T any] struct {
	store    kvstore.Store
	resource string
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache for resource with the given TTL.
func New[T any](store kvstore.Store, resource string, ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		store:    store,
		resource: resource,
		ttl:      ttl,
		now:      o.now,
		log:      logging.Named("expcache").With(zap.String("resource", resource)),
	}
}

// Resource returns the resource name the cache is bound to.
func (c *Cache[T]) Resource() string {
	return c.resource
}

// Key returns the persisted key for id.
func (c *Cache[T]) Key(id string) string {
	return Key(c.resource, id)
}

// Save overwrites the entry for id. Failures are logged and swallowed.
func (c *Cache[T]) Save(id string, data T) {
	now := c.now()
	entry := models.CacheEntry[T]{
		Data:      data,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(c.ttl).UnixMilli(),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn("cache entry not serializable", zap.String("id", id), zap.Error(err))
		metrics.RecordCacheWriteError(c.resource)
		return
	}
	if err := c.store.Set(c.Key(id), raw); err != nil {
		c.log.Warn("cache write failed", zap.String("id", id), zap.Error(err))
		metrics.RecordCacheWriteError(c.resource)
	}
}

// Read returns the stored data for id regardless of expiry. Absent and
// corrupt entries both read as absent; a corrupt entry is left in place
// until the next Save shadows it.
func (c *Cache[T]) Read(id string) (T, bool) {
	entry, ok := c.entry(id)
	if !ok {
		var zero T
		return zero, false
	}
	if entry.FreshAt(c.now()) {
		metrics.RecordCacheRead(c.resource, "hit")
	} else {
		metrics.RecordCacheRead(c.resource, "stale")
	}
	return entry.Data, true
}

// IsFresh reports whether an entry exists for id and now <= expiresAt.
func (c *Cache[T]) IsFresh(id string, now time.Time) bool {
	entry, ok := c.entry(id)
	return ok && entry.FreshAt(now)
}

// Timestamp returns the creation time of the current entry.
func (c *Cache[T]) Timestamp(id string) (time.Time, bool) {
	entry, ok := c.entry(id)
	if !ok {
		return time.Time{}, false
	}
	return entry.CreatedAt(), true
}

// Clear removes the entry for id.
func (c *Cache[T]) Clear(id string) {
	if err := c.store.Delete(c.Key(id)); err != nil {
		c.log.Warn("cache clear failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *Cache[T]) entry(id string) (models.CacheEntry[T], bool) {
	var entry models.CacheEntry[T]

	raw, err := c.store.Get(c.Key(id))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			metrics.RecordCacheRead(c.resource, "miss")
		} else {
			c.log.Warn("cache read failed", zap.String("id", id), zap.Error(err))
			metrics.RecordCacheRead(c.resource, "corrupt")
		}
		return entry, false
	}

	if err := json.Unmarshal(raw, &entry); err != nil {
		c.log.Debug("corrupt cache entry treated as absent", zap.String("id", id), zap.Error(err))
		metrics.RecordCacheRead(c.resource, "corrupt")
		return entry, false
	}
	return entry, true
}
