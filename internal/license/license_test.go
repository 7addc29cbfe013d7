package license

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

func strp(s string) *string { return &s }

func TestIsValid(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	at := func(s string) time.Time {
		tm, err := time.ParseInLocation("2006-01-02T15:04", s, loc)
		if err != nil {
			t.Fatal(err)
		}
		return tm
	}

	tests := []struct {
		name    string
		status  models.LicenseStatus
		expires *string
		now     time.Time
		want    bool
	}{
		{"date-only same evening", models.LicenseActive, strp("2025-01-10"), at("2025-01-10T22:00"), true},
		{"date-only last minute", models.LicenseActive, strp("2025-01-10"), at("2025-01-10T23:59"), true},
		{"date-only next day", models.LicenseActive, strp("2025-01-10"), at("2025-01-11T00:01"), false},
		{"blocked with future date", models.LicenseBlocked, strp("2099-12-31"), at("2025-01-10T12:00"), false},
		{"expired status", models.LicenseExpired, nil, at("2025-01-10T12:00"), false},
		{"no expiry", models.LicenseActive, nil, at("2025-01-10T12:00"), true},
		{"empty expiry", models.LicensePending, strp(""), at("2025-01-10T12:00"), true},
		{"timestamp in future", models.LicenseActive, strp("2025-01-10T15:00:00Z"), at("2025-01-10T11:00"), true},
		{"timestamp in past", models.LicenseActive, strp("2025-01-10T15:00:00Z"), at("2025-01-10T12:30"), false},
		{"postgres text timestamp", models.LicenseActive, strp("2025-01-10 15:00:00+00"), at("2025-01-10T12:30"), false},
		{"malformed fails open", models.LicenseActive, strp("next tuesday"), at("2025-01-10T12:00"), true},
		{"impossible date fails open", models.LicenseActive, strp("2025-13-45"), at("2025-01-10T12:00"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lic := models.OfflineLicense{LicenseStatus: tt.status, LicenseExpiresAt: tt.expires}
			if got := IsValid(lic, tt.now); got != tt.want {
				t.Errorf("IsValid = %v, want %v", got, tt.want)
			}
		})
	}
}

func sample() []models.OfflineLicense {
	return []models.OfflineLicense{
		{AgentID: "a1", DocumentNumber: "123.456.789-01", Name: "Ana", LicenseStatus: models.LicenseActive},
		{AgentID: "a2", DocumentNumber: "98765432100", Name: "Bruno", LicenseStatus: models.LicenseBlocked},
		{AgentID: "a1b", DocumentNumber: "12345678901", Name: "Ana (renewed)", LicenseStatus: models.LicenseActive},
	}
}

func TestOfflineCache_UpdateAndLookup(t *testing.T) {
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	store := kvstore.NewMemory()
	c := NewOfflineCache(store, WithClock(func() time.Time { return now }))

	if _, ok := c.LastSync(); ok {
		t.Fatal("LastSync set on empty cache")
	}
	if err := c.UpdateLicenses(sample()); err != nil {
		t.Fatalf("UpdateLicenses: %v", err)
	}

	if got := len(c.Licenses()); got != 2 {
		t.Fatalf("len = %d, want duplicates collapsed to 2", got)
	}
	lic, ok := c.GetLicenseByCPF("123 456 789 01")
	if !ok || lic.Name != "Ana (renewed)" {
		t.Errorf("lookup = %+v, %v; want last duplicate", lic, ok)
	}
	if lic.CachedAt != now.UnixMilli() {
		t.Errorf("CachedAt = %d", lic.CachedAt)
	}
	if ts, ok := c.LastSync(); !ok || !ts.Equal(now) {
		t.Errorf("LastSync = %v, %v", ts, ok)
	}
	if _, err := store.Get(LastSyncKey); err != nil {
		t.Errorf("last-sync marker missing: %v", err)
	}
	if _, ok := c.GetLicenseByCPF(""); ok {
		t.Error("empty document matched")
	}

	c.UpdateLicenses(nil)
	if c.Version() != 2 {
		t.Errorf("Version = %d, want 2", c.Version())
	}
}

func TestOfflineCache_PersistsAcrossInstances(t *testing.T) {
	store := kvstore.NewMemory()
	NewOfflineCache(store).UpdateLicenses(sample())

	reloaded := NewOfflineCache(store)
	if reloaded.Version() != 1 || len(reloaded.Licenses()) != 2 {
		t.Errorf("reloaded version %d, %d licenses", reloaded.Version(), len(reloaded.Licenses()))
	}
}

func TestOfflineCache_CorruptEnvelopeStartsEmpty(t *testing.T) {
	store := kvstore.NewMemory()
	store.Set(EnvelopeKey, []byte("{broken"))
	c := NewOfflineCache(store)
	if len(c.Licenses()) != 0 || c.Version() != 0 {
		t.Error("corrupt envelope not treated as empty")
	}
}

func TestOfflineCache_Clear(t *testing.T) {
	store := kvstore.NewMemory()
	c := NewOfflineCache(store)
	c.UpdateLicenses(sample())

	if err := c.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	for _, k := range []string{EnvelopeKey, LastSyncKey} {
		if _, err := store.Get(k); !errors.Is(err, kvstore.ErrNotFound) {
			t.Errorf("%s still present", k)
		}
	}
	if _, ok := c.LastSync(); ok {
		t.Error("LastSync survived ClearCache")
	}
}

type fakeSource struct {
	list []models.OfflineLicense
	err  error
}

func (f *fakeSource) ListLicenses(context.Context) ([]models.OfflineLicense, error) {
	return f.list, f.err
}

func (f *fakeSource) LicenseByCPF(_ context.Context, cpf string) (*models.OfflineLicense, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc := models.NormalizeDocument(cpf)
	for i := range f.list {
		if models.NormalizeDocument(f.list[i].DocumentNumber) == doc {
			return &f.list[i], nil
		}
	}
	return nil, remote.ErrNotFound
}

func TestSyncer_FailureKeepsPreviousCache(t *testing.T) {
	c := NewOfflineCache(kvstore.NewMemory())
	src := &fakeSource{list: sample()}
	s := &Syncer{Cache: c, Source: src}

	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	src.err = errors.New("gateway timeout")
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected sync error")
	}
	if c.Version() != 1 || len(c.Licenses()) != 2 {
		t.Errorf("cache changed after failed sync: version %d", c.Version())
	}
}

func TestSyncer_RunResyncsOnReconnect(t *testing.T) {
	c := NewOfflineCache(kvstore.NewMemory())
	m := netstatus.New(false)
	s := &Syncer{Cache: c, Source: &fakeSource{list: sample()}, Monitor: m}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Offline at start: nothing synced until the monitor flips.
	time.Sleep(20 * time.Millisecond)
	if c.Version() != 0 {
		t.Fatal("synced while offline")
	}
	m.SetOnline(true)

	deadline := time.Now().Add(2 * time.Second)
	for c.Version() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no sync after reconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGate(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	c := NewOfflineCache(kvstore.NewMemory(), WithClock(func() time.Time { return now }))
	c.UpdateLicenses(sample())

	src := &fakeSource{list: []models.OfflineLicense{
		{AgentID: "a1", DocumentNumber: "12345678901", LicenseStatus: models.LicenseBlocked},
	}}
	m := netstatus.New(true)
	g := &Gate{Cache: c, Remote: src, Monitor: m}
	ctx := context.Background()

	d := g.Check(ctx, "123.456.789-01")
	if d.Source != SourceNetwork || d.Allowed {
		t.Errorf("online decision = %+v, want network deny", d)
	}

	d = g.Check(ctx, "11111111111")
	if d.Source != SourceNetwork || d.Allowed || d.Reason != ReasonNotFound {
		t.Errorf("unknown online = %+v", d)
	}

	src.err = errors.New("connection refused")
	d = g.Check(ctx, "123.456.789-01")
	if d.Source != SourceOffline || !d.Allowed {
		t.Errorf("fallback decision = %+v, want offline allow", d)
	}

	src.err = nil
	m.SetOnline(false)
	d = g.Check(ctx, "98765432100")
	if d.Source != SourceOffline || d.Allowed || d.Reason != ReasonBlocked {
		t.Errorf("offline blocked = %+v", d)
	}
	d = g.Check(ctx, "00000000000")
	if d.Allowed || d.Reason != ReasonNotInOffline {
		t.Errorf("offline unknown = %+v", d)
	}
}
