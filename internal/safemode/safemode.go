// Package safemode is the escape hatch for a corrupted offline layer: it
// takes the response cache out of the request path, purges cached data and
// clears the app's local cache keys for a limited time, without touching
// the authenticated session.
package safemode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/auth"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
)

// Storage keys.
const (
	FlagKey   = "safe-mode"
	ExpiryKey = "safe-mode-expiry"
)

// DefaultDuration is how long safe mode stays on.
const DefaultDuration = 30 * time.Minute

// DefaultPrefixes are the local cache namespaces cleared on Enable.
var DefaultPrefixes = []string{"cache:", "offline-licenses"}

// ErrInactive is returned when an operation requires active safe mode.
var ErrInactive = errors.New("safe mode is not active")

// Worker is a background cache layer that can be taken out of service.
type Worker interface {
	Name() string
	Unregister(ctx context.Context) error
}

// CacheStorage is a cache whose contents can be dropped wholesale.
type CacheStorage interface {
	Name() string
	Purge(ctx context.Context) error
}

// Config configures a Controller.
type Config struct {
	Duration     time.Duration
	Prefixes     []string
	PollInterval time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithWorkers adds workers to unregister while safe mode is on.
func WithWorkers(w ...Worker) Option {
	return func(c *Controller) { c.workers = append(c.workers, w...) }
}

// WithCacheStorage adds response caches to purge on Enable.
func WithCacheStorage(s ...CacheStorage) Option {
	return func(c *Controller) { c.caches = append(c.caches, s...) }
}

// WithClock overrides the controller clock.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// OnEnable is called after safe mode has been switched on.
func OnEnable(fn func()) Option {
	return func(c *Controller) { c.onEnable = fn }
}

// OnExpire is called when the poll finds safe mode expired.
func OnExpire(fn func()) Option {
	return func(c *Controller) { c.onExpire = fn }
}

// WithReload sets the action Disable uses to restart the client.
func WithReload(fn func()) Option {
	return func(c *Controller) { c.reload = fn }
}

// Controller owns the safe-mode flag.
type Controller struct {
	store    kvstore.Store
	cfg      Config
	workers  []Worker
	caches   []CacheStorage
	now      func() time.Time
	onEnable func()
	onExpire func()
	reload   func()
	log      *zap.Logger

	mu        sync.Mutex
	activated chan struct{}
}

// New creates a controller over store.
func New(store kvstore.Store, cfg Config, opts ...Option) *Controller {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Prefixes == nil {
		cfg.Prefixes = DefaultPrefixes
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	c := &Controller{
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		onEnable:  func() {},
		onExpire:  func() {},
		reload:    func() {},
		log:       logging.Named("safemode"),
		activated: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enable switches safe mode on: workers are unregistered, cache storages
// purged and local cache keys deleted (auth keys excluded), then the flag
// and expiry are persisted. Cleanup failures are logged and do not stop
// the switch; only a failure to persist the flag is returned.
func (c *Controller) Enable(ctx context.Context) error {
	for _, w := range c.workers {
		if err := w.Unregister(ctx); err != nil {
			c.log.Warn("worker unregister failed", zap.String("worker", w.Name()), zap.Error(err))
		}
	}
	for _, s := range c.caches {
		if err := s.Purge(ctx); err != nil {
			c.log.Warn("cache purge failed", zap.String("cache", s.Name()), zap.Error(err))
		}
	}
	removed, err := c.clearLocalKeys()
	if err != nil {
		c.log.Warn("local cache cleanup incomplete", zap.Error(err))
	}

	expiresAt := c.now().Add(c.cfg.Duration)
	if err := c.store.Set(ExpiryKey, []byte(strconv.FormatInt(expiresAt.UnixMilli(), 10))); err != nil {
		return fmt.Errorf("persist safe mode expiry: %w", err)
	}
	if err := c.store.Set(FlagKey, []byte("true")); err != nil {
		return fmt.Errorf("persist safe mode flag: %w", err)
	}

	metrics.RecordSafeMode(true)
	c.log.Info("Safe mode enabled",
		zap.Time("expires_at", expiresAt),
		zap.Int("keys_removed", removed),
		zap.Int("workers", len(c.workers)),
		zap.Int("caches", len(c.caches)))

	select {
	case c.activated <- struct{}{}:
	default:
	}
	c.onEnable()
	return nil
}

// Disable clears the flag and reloads so workers register again.
func (c *Controller) Disable(ctx context.Context) error {
	if err := c.clearState(); err != nil {
		return err
	}
	c.log.Info("Safe mode disabled")
	c.reload()
	return nil
}

// IsActive reports whether safe mode is on. An expired flag is cleared.
func (c *Controller) IsActive() bool {
	exp, ok := c.stored()
	if !ok {
		return false
	}
	if !c.now().Before(exp) {
		if err := c.clearState(); err != nil {
			c.log.Warn("expired safe mode flag not cleared", zap.Error(err))
		}
		return false
	}
	return true
}

// TimeRemaining returns max(0, expiresAt-now). ok is false when safe mode
// is not on.
func (c *Controller) TimeRemaining() (time.Duration, bool) {
	exp, ok := c.stored()
	if !ok {
		return 0, false
	}
	d := exp.Sub(c.now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// ExpiresAt returns the persisted expiry.
func (c *Controller) ExpiresAt() (time.Time, error) {
	exp, ok := c.stored()
	if !ok {
		return time.Time{}, ErrInactive
	}
	return exp, nil
}

// Run polls while safe mode is active and clears it once expired, calling
// OnExpire. No ticker runs while safe mode is off.
func (c *Controller) Run(ctx context.Context) {
	for {
		if !c.IsActive() {
			select {
			case <-c.activated:
				continue
			case <-ctx.Done():
				return
			}
		}
		if !c.poll(ctx) {
			return
		}
	}
}

// poll ticks until safe mode ends; false means ctx is done.
func (c *Controller) poll(ctx context.Context) bool {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, ok := c.stored(); !ok {
				// Disabled by the user.
				return true
			}
			if !c.IsActive() {
				c.log.Info("Safe mode expired")
				c.onExpire()
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Controller) stored() (time.Time, bool) {
	flag, err := c.store.Get(FlagKey)
	if err != nil || string(flag) != "true" {
		return time.Time{}, false
	}
	raw, err := c.store.Get(ExpiryKey)
	if err != nil {
		// Flag without expiry: treat as already expired.
		return time.Time{}, true
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, true
	}
	return time.UnixMilli(ms), true
}

func (c *Controller) clearState() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Delete(FlagKey); err != nil {
		return fmt.Errorf("clear safe mode flag: %w", err)
	}
	if err := c.store.Delete(ExpiryKey); err != nil {
		return fmt.Errorf("clear safe mode expiry: %w", err)
	}
	metrics.RecordSafeMode(false)
	return nil
}

func (c *Controller) clearLocalKeys() (int, error) {
	keys, err := c.store.Keys()
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	removed := 0
	var errs []error
	for _, k := range keys {
		if auth.IsAuthKey(k) || !c.inNamespace(k) {
			continue
		}
		if err := c.store.Delete(k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (c *Controller) inNamespace(key string) bool {
	for _, p := range c.cfg.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
