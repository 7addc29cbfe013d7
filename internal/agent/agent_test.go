package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/auth"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/config"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/license"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/session"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
)

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/shifts":
			w.Write([]byte(`[{"id":"s1","agent_id":"a1","shift_date":"2025-01-10","shift_type":"day","status":"scheduled"},
				{"id":"s2","agent_id":"a1","shift_date":"2025-01-12","shift_type":"night","status":"scheduled"}]`))
		case "/rest/v1/agent_events":
			w.Write([]byte(`[]`))
		case "/rest/v1/agents":
			if r.URL.Query().Get("cpf") == "eq.12345678901" {
				w.Write([]byte(`[{"id":"a1","cpf":"123.456.789-01","name":"Ana","license_status":"active","license_expires_at":"2099-12-31"}]`))
				return
			}
			if r.URL.Query().Has("cpf") {
				w.Write([]byte(`[]`))
				return
			}
			w.Write([]byte(`[{"id":"a1","cpf":"123.456.789-01","name":"Ana","license_status":"active","license_expires_at":"2099-12-31"},
				{"id":"a2","cpf":"98765432100","name":"Bruno","license_status":"blocked"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		APIURL:           apiURL,
		APIKey:           "anon",
		RequestTimeout:   2 * time.Second,
		StoreBackend:     "file",
		StorePath:        filepath.Join(dir, "kv"),
		ResponseCacheDir: filepath.Join(dir, "responses"),
		ResponseCacheMax: 1 << 20,
		ShiftsTTL:        time.Hour,
		TeamTTL:          time.Hour,
		EventsTTL:        time.Hour,
		GracePeriod:      20 * time.Millisecond,
		MaxWait:          time.Second,
		PollInterval:     5 * time.Millisecond,
		HomeRoute:        "/",
		SafeModeDuration: time.Minute,
	}
}

func newAgent(t *testing.T) *Agent {
	t.Helper()
	a, err := New(context.Background(), testConfig(t, backend(t).URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStart_HooksAndLicenseSync(t *testing.T) {
	a := newAgent(t)
	a.Start(context.Background(), Subject{AgentID: "a1"})

	waitFor(t, "hooks to load", func() bool {
		for _, h := range a.Status().Hooks {
			if h.Resource == "shifts" && h.Items == 2 && h.Fresh {
				return true
			}
		}
		return false
	})
	waitFor(t, "license sync", func() bool { return a.Licenses.Version() > 0 })

	if _, err := a.Store.Get("cache:shifts:a1"); err != nil {
		t.Errorf("shifts not cached: %v", err)
	}
	if n := len(a.Licenses.Licenses()); n != 2 {
		t.Errorf("licenses cached = %d, want 2", n)
	}

	a.Stop()
	if hooks := a.Status().Hooks; len(hooks) != 0 {
		t.Errorf("hooks after Stop = %+v", hooks)
	}
}

func TestAuthChangeDrivesGuard(t *testing.T) {
	a := newAgent(t)
	a.Start(context.Background(), Subject{})

	if a.Guard.State() != session.Unauthenticated {
		t.Fatalf("state = %s", a.Guard.State())
	}
	if err := a.Auth.SaveSession(&auth.Session{AccessToken: "t", User: auth.User{ID: "u1"}}); err != nil {
		t.Fatal(err)
	}
	if a.Guard.State() != session.Authenticated {
		t.Errorf("state after login = %s", a.Guard.State())
	}

	// The stored token is gone and cannot be refreshed: grace, then reconnecting.
	a.Store.Delete(auth.SessionKey)
	a.Guard.Observe(time.Now(), a.Auth.Current())
	if a.Guard.State() != session.GracePeriod {
		t.Fatalf("state after loss = %s", a.Guard.State())
	}
	waitFor(t, "reconnecting", func() bool { return a.Guard.State() == session.Reconnecting })
}

func TestHandler_SafeModeRoundTrip(t *testing.T) {
	a := newAgent(t)
	a.Store.Set(auth.SessionKey, []byte(`{"access_token":"t"}`))
	a.Store.Set("cache:shifts:a1", []byte(`{}`))
	a.Store.Set(license.EnvelopeKey, []byte(`{}`))

	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/safe-mode", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable = %d: %s", rec.Code, rec.Body)
	}
	var sm SafeModeStatus
	json.NewDecoder(rec.Body).Decode(&sm)
	if !sm.Active || sm.ExpiresAt == nil {
		t.Errorf("safe mode status = %+v", sm)
	}
	if a.REST.Registered() {
		t.Error("response cache still registered in safe mode")
	}
	if _, err := a.Store.Get(auth.SessionKey); err != nil {
		t.Error("session removed by safe mode")
	}
	for _, k := range []string{"cache:shifts:a1", license.EnvelopeKey} {
		if _, err := a.Store.Get(k); !errors.Is(err, kvstore.ErrNotFound) {
			t.Errorf("%s not cleared", k)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/safe-mode", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable = %d", rec.Code)
	}
	if a.SafeMode.IsActive() || !a.REST.Registered() {
		t.Error("disable did not restore the response cache")
	}
}

func TestHandler_LicenseCheck(t *testing.T) {
	a := newAgent(t)
	h := a.Handler()

	tests := []struct {
		doc    string
		code   int
		source string
	}{
		{"123.456.789-01", http.StatusOK, license.SourceNetwork},
		{"00000000000", http.StatusForbidden, license.SourceNetwork},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/licenses/"+tt.doc, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: code = %d, want %d", tt.doc, rec.Code, tt.code)
		}
		var d license.Decision
		json.NewDecoder(rec.Body).Decode(&d)
		if d.Source != tt.source {
			t.Errorf("%s: source = %s", tt.doc, d.Source)
		}
	}
}

func TestHandler_SessionRetryOutsideTimeout(t *testing.T) {
	a := newAgent(t)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/session/retry", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("code = %d, want 409", rec.Code)
	}
}

func TestClearCaches(t *testing.T) {
	a := newAgent(t)
	a.Store.Set("cache:shifts:a1", []byte(`{}`))
	a.Store.Set("cache:events:a1", []byte(`{}`))
	a.Store.Set(auth.SessionKey, []byte(`{}`))

	n, err := a.ClearCaches(context.Background())
	if err != nil {
		t.Fatalf("ClearCaches: %v", err)
	}
	if n != 2 {
		t.Errorf("removed = %d, want 2", n)
	}
	if _, err := a.Store.Get(auth.SessionKey); err != nil {
		t.Error("auth key removed")
	}
}

func TestOpenStore_Sealed(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.StoreBackend = "sqlite"
	cfg.StoreKey = make([]byte, 32)

	s, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*kvstore.Sealed); !ok {
		t.Errorf("store = %T, want sealed", s)
	}
	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("k")
	if err != nil || string(got) != "v" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestSafeModeStopsAndRestartsHooks(t *testing.T) {
	a := newAgent(t)
	ctx := context.Background()
	a.Start(ctx, Subject{AgentID: "a1"})
	waitFor(t, "hooks", func() bool { return len(a.Status().Hooks) == 2 })

	if err := a.SafeMode.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Status().Hooks); n != 0 {
		t.Errorf("hooks in safe mode = %d", n)
	}

	if err := a.SafeMode.Disable(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "hooks restarted", func() bool { return len(a.Status().Hooks) == 2 })
}

func TestSafeModeDropsOfflineLicenses(t *testing.T) {
	a := newAgent(t)
	ctx := context.Background()
	if err := a.Syncer.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	a.Monitor.SetOnline(false)
	if d := a.Gate.Check(ctx, "123.456.789-01"); !d.Allowed {
		t.Fatalf("before safe mode: %+v", d)
	}

	if err := a.SafeMode.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	d := a.Gate.Check(ctx, "123.456.789-01")
	if d.Allowed || d.Reason != license.ReasonNotInOffline {
		t.Errorf("after safe mode: %+v, want denied with %q", d, license.ReasonNotInOffline)
	}
	if st := a.Status().Licenses; st.Count != 0 || st.Version != 0 {
		t.Errorf("license status after safe mode = %+v", st)
	}
}

func TestPostgresSourceGetsProber(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.DatabaseURL = "postgres://plantao@127.0.0.1:1/plantao?sslmode=disable&connect_timeout=1"
	cfg.HealthInterval = time.Second
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	if a.Prober == nil || a.Prober.Check == nil {
		t.Fatal("postgres source has no database prober")
	}
	a.Monitor.SetOnline(true)
	if err := a.Prober.Ping(context.Background()); err == nil {
		t.Fatal("ping to closed port succeeded")
	}
	if a.Monitor.IsOnline() {
		t.Error("monitor online after failed database ping")
	}
}
