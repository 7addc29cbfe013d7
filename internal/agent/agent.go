// Package agent wires the offline layer together: local storage, the
// connectivity monitor, remote sources, auth, data hooks, the license cache,
// the session guard and safe mode. It owns the background loops.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/auth"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/config"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/datahooks"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/license"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote/postgres"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote/rest"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote/s3"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/safemode"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/session"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/expcache"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/respcache"
)

// Subject selects whose data the hooks follow. Empty fields disable the
// corresponding hook.
type Subject struct {
	AgentID string
	UnitID  string
	Team    string
}

// Agent holds the wired components. Optional components are nil when not
// configured.
type Agent struct {
	Config     *config.Config
	InstanceID string

	Store         kvstore.Store
	Monitor       *netstatus.Monitor
	Prober        *netstatus.Prober
	ResponseCache *respcache.Cache // nil with the memory store
	REST          *rest.Client     // nil when DATABASE_URL selects Postgres
	Postgres      *postgres.Store
	Snapshot      *s3.SnapshotSource
	Source        remote.Source

	Auth     *auth.Client
	Licenses *license.OfflineCache
	Syncer   *license.Syncer
	Gate     *license.Gate
	Guard    *session.Guard
	Watcher  *session.Watcher
	SafeMode *safemode.Controller

	log *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	runCtx  context.Context
	subject Subject
	wg      sync.WaitGroup
	hooks   []hookHandle
}

// New builds every component from cfg. Nothing touches the network until
// Start or an explicit operation.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	a := &Agent{
		Config:     cfg,
		InstanceID: uuid.NewString(),
		log:        logging.Named("agent"),
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	// Assume online until the first request or probe says otherwise.
	a.Monitor = netstatus.New(true)

	if cfg.ResponseCacheDir != "" && cfg.StoreBackend != "memory" {
		rc, err := respcache.New(cfg.ResponseCacheDir, cfg.ResponseCacheMax)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open response cache: %w", err)
		}
		a.ResponseCache = rc
	}

	a.Auth = auth.New(ctx, auth.Config{
		BaseURL:      cfg.APIURL,
		APIKey:       cfg.APIKey,
		Timeout:      cfg.RequestTimeout,
		JWTSecret:    cfg.JWTSecret,
		OIDCIssuer:   cfg.OIDCIssuer,
		OIDCClientID: cfg.OIDCClientID,
	}, store)

	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL, a.Monitor)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.Postgres = pg
		a.Source = pg
	} else {
		a.REST = rest.New(rest.Config{
			BaseURL:       cfg.APIURL,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.RequestTimeout,
			Token:         a.Auth.AccessToken,
			Monitor:       a.Monitor,
			ResponseCache: a.ResponseCache,
		})
		a.Source = a.REST
	}

	if cfg.S3Bucket != "" {
		snap, err := s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3SnapshotKey,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		})
		if err != nil {
			a.closeSources()
			store.Close()
			return nil, err
		}
		a.Snapshot = snap
	}

	switch {
	case a.Postgres != nil:
		// Offline hooks stop querying, so only the ping can bring the monitor back.
		a.Prober = &netstatus.Prober{
			Interval: cfg.HealthInterval,
			Monitor:  a.Monitor,
			Check:    a.Postgres.Ping,
		}
	case cfg.HealthURL != "":
		a.Prober = &netstatus.Prober{
			URL:      cfg.HealthURL,
			APIKey:   cfg.APIKey,
			Interval: cfg.HealthInterval,
			Monitor:  a.Monitor,
		}
	}

	a.Licenses = license.NewOfflineCache(store)
	a.Syncer = &license.Syncer{Cache: a.Licenses, Source: a.licenseListSource(), Monitor: a.Monitor}
	a.Gate = &license.Gate{Cache: a.Licenses, Remote: a.Source, Monitor: a.Monitor}

	a.Guard = session.NewGuard(a.Auth, session.Config{
		GracePeriod:  cfg.GracePeriod,
		MaxWait:      cfg.MaxWait,
		PollInterval: cfg.PollInterval,
		HomeRoute:    cfg.HomeRoute,
	},
		session.WithReload(a.Reload),
		session.WithNavigate(func(route string) {
			a.log.Info("Navigate", zap.String("route", route))
		}),
	)
	a.Watcher = &session.Watcher{Guard: a.Guard}
	a.Auth.OnChange(func(st auth.State) { a.Guard.Observe(time.Now(), st) })

	var smOpts []safemode.Option
	if a.REST != nil {
		smOpts = append(smOpts, safemode.WithWorkers(a.REST))
	}
	if a.ResponseCache != nil {
		smOpts = append(smOpts, safemode.WithCacheStorage(a.ResponseCache))
	}
	smOpts = append(smOpts,
		safemode.WithReload(a.Reload),
		safemode.OnExpire(a.Reload),
		safemode.OnEnable(a.onSafeModeEnable),
	)
	a.SafeMode = safemode.New(store, safemode.Config{
		Duration: cfg.SafeModeDuration,
		Prefixes: []string{expcache.KeyPrefix, license.EnvelopeKey},
	}, smOpts...)

	// A previous run may have left safe mode on.
	if a.REST != nil && a.SafeMode.IsActive() {
		a.REST.Unregister(ctx)
	}

	metrics.SetLicenseCacheSize(len(a.Licenses.Licenses()))
	a.log.Info("Agent initialized",
		zap.String("instance_id", a.InstanceID),
		zap.String("source", a.sourceName()),
		zap.String("store", cfg.StoreBackend),
		zap.Bool("sealed", len(cfg.StoreKey) > 0),
		zap.Bool("response_cache", a.ResponseCache != nil),
		zap.Bool("snapshot", a.Snapshot != nil))
	return a, nil
}

func openStore(cfg *config.Config) (kvstore.Store, error) {
	var (
		store kvstore.Store
		err   error
	)
	switch cfg.StoreBackend {
	case "memory":
		store = kvstore.NewMemory()
	case "sqlite":
		var s *kvstore.SQLite
		s, err = kvstore.NewSQLite(cfg.StorePath + ".db")
		store = s
	default:
		var f *kvstore.File
		f, err = kvstore.NewFile(cfg.StorePath)
		store = f
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	if len(cfg.StoreKey) > 0 {
		sealed, err := kvstore.NewSealed(store, cfg.StoreKey)
		if err != nil {
			store.Close()
			return nil, err
		}
		return sealed, nil
	}
	return store, nil
}

// licenseListSource prefers the published snapshot for bulk syncs.
func (a *Agent) licenseListSource() remote.LicenseSource {
	if a.Snapshot != nil {
		return a.Snapshot
	}
	return a.Source
}

func (a *Agent) sourceName() string {
	if a.Postgres != nil {
		return "postgres"
	}
	return "rest"
}

// Start launches the background loops: health probing, license sync,
// the session watcher, safe-mode expiry and the data hooks for subject.
func (a *Agent) Start(ctx context.Context, subject Subject) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.runCtx, a.subject = ctx, subject

	a.Guard.Observe(time.Now(), a.Auth.Current())

	if a.Prober != nil {
		a.goLoop(func() { a.Prober.Run(ctx) })
	}
	a.goLoop(func() { a.Syncer.Run(ctx) })
	a.goLoop(func() { a.Watcher.Run(ctx) })
	a.goLoop(func() { a.SafeMode.Run(ctx) })

	if !a.SafeMode.IsActive() {
		a.startHooksLocked(ctx, subject)
	} else {
		a.log.Warn("Safe mode active, data hooks not started")
	}
	a.log.Info("Background loops started", zap.Int("hooks", len(a.hooks)))
}

func (a *Agent) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *Agent) startHooksLocked(ctx context.Context, subject Subject) {
	if subject.AgentID != "" {
		h := a.ShiftsHook(subject.AgentID)
		h.Start(ctx)
		a.hooks = append(a.hooks, trackedHook[models.Shift]{h})

		e := a.EventsHook(subject.AgentID)
		e.Start(ctx)
		a.hooks = append(a.hooks, trackedHook[models.Event]{e})
	}
	if subject.UnitID != "" && subject.Team != "" {
		t := a.TeamHook(subject.UnitID, subject.Team)
		t.Start(ctx)
		a.hooks = append(a.hooks, trackedHook[models.TeamMember]{t})
	}
}

// Stop cancels the background loops and waits for them to exit.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel, a.runCtx = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	a.stopHooks()
	cancel()
	a.wg.Wait()
	a.log.Info("Background loops stopped")
}

func (a *Agent) stopHooks() {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()
	for _, h := range hooks {
		h.Stop()
	}
}

// onSafeModeEnable stops the hooks and drops the in-memory license set
// whose stored envelope safe mode has just deleted.
func (a *Agent) onSafeModeEnable() {
	a.stopHooks()
	if err := a.Licenses.ClearCache(); err != nil {
		a.log.Warn("Offline licenses not cleared", zap.Error(err))
	}
}

// Close stops the agent and releases storage and database handles.
func (a *Agent) Close() error {
	a.Stop()
	return errors.Join(a.closeSources(), a.Store.Close())
}

func (a *Agent) closeSources() error {
	if a.Postgres != nil {
		return a.Postgres.Close()
	}
	return nil
}

// Reload re-registers the response cache, restarts data hooks stopped by
// safe mode and resets the session guard to the stored auth state, as a
// restart would.
func (a *Agent) Reload() {
	if !a.SafeMode.IsActive() {
		if a.REST != nil {
			a.REST.Register()
		}
		a.mu.Lock()
		if a.runCtx != nil && len(a.hooks) == 0 {
			a.startHooksLocked(a.runCtx, a.subject)
		}
		a.mu.Unlock()
	}
	a.Guard.Reset()
	a.Guard.Observe(time.Now(), a.Auth.Current())
	a.log.Info("Reloaded", zap.Stringer("session", a.Guard.State()))
}

// ShiftsHook returns a hook over agentID's shifts.
func (a *Agent) ShiftsHook(agentID string) *datahooks.Hook[models.Shift] {
	return datahooks.NewShifts(a.Source, a.Store, a.Config.ShiftsTTL, a.Monitor, agentID)
}

// TeamHook returns a hook over the active members of unitID/team.
func (a *Agent) TeamHook(unitID, team string) *datahooks.Hook[models.TeamMember] {
	return datahooks.NewTeamMembers(a.Source, a.Store, a.Config.TeamTTL, a.Monitor, unitID, team)
}

// EventsHook returns a hook over agentID's events.
func (a *Agent) EventsHook(agentID string) *datahooks.Hook[models.Event] {
	return datahooks.NewEvents(a.Source, a.Store, a.Config.EventsTTL, a.Monitor, agentID)
}

// PublishLicenses copies the full license list from the primary source to
// the snapshot bucket.
func (a *Agent) PublishLicenses(ctx context.Context) (int, error) {
	if a.Snapshot == nil {
		return 0, errors.New("no snapshot bucket configured")
	}
	list, err := a.Source.ListLicenses(ctx)
	if err != nil {
		return 0, fmt.Errorf("list licenses: %w", err)
	}
	if err := a.Snapshot.Publish(ctx, list, time.Now()); err != nil {
		return 0, err
	}
	return len(list), nil
}

// ClearCaches removes every cached resource entry and purges the response
// cache. Auth keys and the license cache are left alone.
func (a *Agent) ClearCaches(ctx context.Context) (int, error) {
	keys, err := kvstore.KeysWithPrefix(a.Store, expcache.KeyPrefix)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, k := range keys {
		if err := a.Store.Delete(k); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if a.ResponseCache != nil {
		errs = append(errs, a.ResponseCache.Purge(ctx))
	}
	return removed, errors.Join(errs...)
}
