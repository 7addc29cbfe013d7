// Package license keeps an offline copy of agent licenses so access can be
// gated when the network cannot confirm a license.
package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

// Storage keys.
const (
	EnvelopeKey = "offline-licenses"
	LastSyncKey = "offline-licenses-last-sync"
)

// Envelope is the persisted form of the cache.
type Envelope struct {
	Licenses []models.OfflineLicense `json:"licenses"`
	LastSync *int64                  `json:"lastSync"` // unix ms
	Version  int64                   `json:"version"`
}

// OfflineCache maps normalized document numbers to license records.
type OfflineCache struct {
	store kvstore.Store
	now   func() time.Time
	log   *zap.Logger

	mu  sync.RWMutex
	env Envelope
}

// Option configures an OfflineCache.
type Option func(*OfflineCache)

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(c *OfflineCache) { c.now = now }
}

// NewOfflineCache loads the envelope from store. A missing or corrupt
// envelope starts an empty cache.
func NewOfflineCache(store kvstore.Store, opts ...Option) *OfflineCache {
	c := &OfflineCache{
		store: store,
		now:   time.Now,
		log:   logging.Named("license"),
	}
	for _, opt := range opts {
		opt(c)
	}

	raw, err := store.Get(EnvelopeKey)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		c.log.Warn("offline license cache unreadable", zap.Error(err))
	default:
		if err := json.Unmarshal(raw, &c.env); err != nil {
			c.log.Warn("offline license cache corrupt, starting empty", zap.Error(err))
			c.env = Envelope{}
		}
	}
	metrics.SetLicenseCacheSize(len(c.env.Licenses))
	return c
}

// UpdateLicenses replaces the whole set. Duplicate document numbers
// collapse to the last occurrence.
func (c *OfflineCache) UpdateLicenses(list []models.OfflineLicense) error {
	now := c.now()
	nowMs := now.UnixMilli()

	index := make(map[string]int, len(list))
	licenses := make([]models.OfflineLicense, 0, len(list))
	for _, lic := range list {
		lic.DocumentNumber = models.NormalizeDocument(lic.DocumentNumber)
		lic.CachedAt = nowMs
		if i, ok := index[lic.DocumentNumber]; ok {
			licenses[i] = lic
			continue
		}
		index[lic.DocumentNumber] = len(licenses)
		licenses = append(licenses, lic)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := Envelope{Licenses: licenses, LastSync: &nowMs, Version: c.env.Version + 1}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode license envelope: %w", err)
	}
	if err := c.store.Set(EnvelopeKey, data); err != nil {
		return fmt.Errorf("save license envelope: %w", err)
	}
	if err := c.store.Set(LastSyncKey, []byte(strconv.FormatInt(nowMs, 10))); err != nil {
		c.log.Warn("last-sync marker not saved", zap.Error(err))
	}

	c.env = next
	metrics.SetLicenseCacheSize(len(licenses))
	c.log.Info("Offline licenses updated",
		zap.Int("count", len(licenses)),
		zap.Int64("version", next.Version))
	return nil
}

// GetLicenseByCPF finds a license by document number in any format.
func (c *OfflineCache) GetLicenseByCPF(doc string) (*models.OfflineLicense, bool) {
	key := models.NormalizeDocument(doc)
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := range c.env.Licenses {
		if c.env.Licenses[i].DocumentNumber == key {
			lic := c.env.Licenses[i]
			return &lic, true
		}
	}
	return nil, false
}

// IsLicenseValid evaluates lic at the cache clock's current time.
func (c *OfflineCache) IsLicenseValid(lic models.OfflineLicense) bool {
	return IsValid(lic, c.now())
}

// ClearCache removes the envelope and the last-sync marker.
func (c *OfflineCache) ClearCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Delete(EnvelopeKey); err != nil {
		return fmt.Errorf("clear license envelope: %w", err)
	}
	if err := c.store.Delete(LastSyncKey); err != nil {
		return fmt.Errorf("clear last-sync marker: %w", err)
	}
	c.env = Envelope{}
	metrics.SetLicenseCacheSize(0)
	return nil
}

// LastSync returns the time of the last successful update.
func (c *OfflineCache) LastSync() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.env.LastSync == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*c.env.LastSync), true
}

// Version returns the write counter.
func (c *OfflineCache) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.env.Version
}

// Licenses returns a copy of the cached set.
func (c *OfflineCache) Licenses() []models.OfflineLicense {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.OfflineLicense(nil), c.env.Licenses...)
}

// Now returns the cache clock's current time.
func (c *OfflineCache) Now() time.Time {
	return c.now()
}
