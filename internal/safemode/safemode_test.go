package safemode

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
)

type fakeWorker struct{ unregistered atomic.Bool }

func (w *fakeWorker) Name() string { return "fake-worker" }
func (w *fakeWorker) Unregister(context.Context) error {
	w.unregistered.Store(true)
	return nil
}

type fakeCache struct {
	purged atomic.Bool
	err    error
}

func (f *fakeCache) Name() string { return "fake-cache" }
func (f *fakeCache) Purge(context.Context) error {
	f.purged.Store(true)
	return f.err
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func seed(t *testing.T, s kvstore.Store) {
	t.Helper()
	for _, k := range []string{
		"auth-token", "master-session", "auth:device",
		"cache:shifts:a1", "cache:team:u1:alfa", "offline-licenses", "offline-licenses-last-sync",
		"unrelated-pref",
	} {
		if err := s.Set(k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestEnable_PreservesAuthAndClearsCaches(t *testing.T) {
	store := kvstore.NewMemory()
	seed(t, store)

	w := &fakeWorker{}
	// A failing purge must not stop the switch.
	rc := &fakeCache{err: errors.New("disk busy")}
	enabled := false
	c := New(store, Config{}, WithWorkers(w), WithCacheStorage(rc), OnEnable(func() { enabled = true }))

	if err := c.Enable(context.Background()); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	for _, k := range []string{"auth-token", "master-session", "auth:device", "unrelated-pref"} {
		if _, err := store.Get(k); err != nil {
			t.Errorf("%s removed: %v", k, err)
		}
	}
	cached, _ := kvstore.KeysWithPrefix(store, "cache:")
	if len(cached) != 0 {
		t.Errorf("cache keys left: %v", cached)
	}
	if _, err := store.Get("offline-licenses"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("offline-licenses not cleared")
	}
	if !w.unregistered.Load() || !rc.purged.Load() {
		t.Error("worker or cache storage not reset")
	}
	if !enabled {
		t.Error("OnEnable not called")
	}
	if !c.IsActive() {
		t.Error("IsActive = false after Enable")
	}
}

func TestTimeRemainingAndLazyExpiry(t *testing.T) {
	clk := &clock{t: time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemory()
	c := New(store, Config{Duration: 10 * time.Minute}, WithClock(clk.Now))

	if _, ok := c.TimeRemaining(); ok {
		t.Fatal("TimeRemaining ok while inactive")
	}
	c.Enable(context.Background())

	clk.Advance(4 * time.Minute)
	if d, ok := c.TimeRemaining(); !ok || d != 6*time.Minute {
		t.Errorf("TimeRemaining = %v, %v", d, ok)
	}

	clk.Advance(7 * time.Minute)
	if d, ok := c.TimeRemaining(); !ok || d != 0 {
		t.Errorf("TimeRemaining after expiry = %v, %v; want 0", d, ok)
	}
	if c.IsActive() {
		t.Error("expired flag still active")
	}
	if _, err := store.Get(FlagKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Error("expired flag not cleared on read")
	}
	if _, err := c.ExpiresAt(); !errors.Is(err, ErrInactive) {
		t.Errorf("ExpiresAt err = %v", err)
	}
}

func TestDisableReloads(t *testing.T) {
	reloads := 0
	c := New(kvstore.NewMemory(), Config{}, WithReload(func() { reloads++ }))
	c.Enable(context.Background())

	if err := c.Disable(context.Background()); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if c.IsActive() || reloads != 1 {
		t.Errorf("active = %v, reloads = %d", c.IsActive(), reloads)
	}
}

func TestRunAutoExpires(t *testing.T) {
	expired := make(chan struct{}, 1)
	c := New(kvstore.NewMemory(), Config{Duration: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond},
		OnExpire(func() { expired <- struct{}{} }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Enable(context.Background())

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("OnExpire not called")
	}
	if c.IsActive() {
		t.Error("still active after expiry")
	}
	if d, ok := c.TimeRemaining(); ok || d != 0 {
		t.Errorf("TimeRemaining = %v, %v after expiry", d, ok)
	}
}

func TestFlagWithoutExpiryIsExpired(t *testing.T) {
	store := kvstore.NewMemory()
	store.Set(FlagKey, []byte("true"))
	c := New(store, Config{})
	if c.IsActive() {
		t.Error("flag without expiry treated as active")
	}
}
