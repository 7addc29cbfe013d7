// Package session implements the session-loss guard: a state machine that
// absorbs short session gaps (token rotation races) before concluding the
// user is logged out.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/auth"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
)

// State is a guard state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	GracePeriod
	Reconnecting
	TimedOut
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case GracePeriod:
		return "grace_period"
	case Reconnecting:
		return "reconnecting"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Route is what the protected page should render.
type Route string

const (
	RouteContent      Route = "content"
	RouteReconnecting Route = "reconnecting"
	RouteTimedOut     Route = "timed_out"
	RouteLogin        Route = "login"
)

// ErrNotTimedOut is returned by Retry outside the TimedOut state.
var ErrNotTimedOut = errors.New("guard is not timed out")

// Config holds the guard timings.
type Config struct {
	GracePeriod  time.Duration
	MaxWait      time.Duration
	PollInterval time.Duration
	HomeRoute    string
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		GracePeriod:  3 * time.Second,
		MaxWait:      15 * time.Second,
		PollInterval: 500 * time.Millisecond,
		HomeRoute:    "/",
	}
}

// View is the render model of the guard.
type View struct {
	State            State   `json:"-"`
	StateName        string  `json:"state"`
	ShowReconnecting bool    `json:"showReconnecting"`
	Progress         float64 `json:"progress"`
	TimedOut         bool    `json:"timedOut"`
	Route            Route   `json:"route"`
}

// Option configures a Guard.
type Option func(*Guard)

// WithReload sets the last-resort reload action used when Retry fails.
func WithReload(fn func()) Option {
	return func(g *Guard) { g.reload = fn }
}

// WithNavigate sets the navigation action used by GoHome.
func WithNavigate(fn func(route string)) Option {
	return func(g *Guard) { g.navigate = fn }
}

// Guard is the session-loss state machine. Time is always supplied by the
// caller; the guard owns no timers.
type Guard struct {
	cfg      Config
	provider auth.Provider
	reload   func()
	navigate func(string)
	log      *zap.Logger

	mu               sync.Mutex
	state            State
	wasAuthenticated bool
	lossAt           time.Time
	waitStart        time.Time
	epoch            uint64
	changed          chan struct{}
}

// NewGuard creates a guard in the Unauthenticated state.
func NewGuard(provider auth.Provider, cfg Config, opts ...Option) *Guard {
	def := DefaultConfig()
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.HomeRoute == "" {
		cfg.HomeRoute = def.HomeRoute
	}
	g := &Guard{
		cfg:      cfg,
		provider: provider,
		reload:   func() {},
		navigate: func(string) {},
		log:      logging.Named("session"),
		changed:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the guard timings.
func (g *Guard) Config() Config {
	return g.cfg
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Changed delivers a signal after every state transition. Signals coalesce.
func (g *Guard) Changed() <-chan struct{} {
	return g.changed
}

// Timed reports whether the guard is in a state that needs ticks.
func (g *Guard) Timed() bool {
	s := g.State()
	return s == GracePeriod || s == Reconnecting
}

// Observe feeds the passively supplied auth context.
func (g *Guard) Observe(now time.Time, st auth.State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if st.Present() {
		g.wasAuthenticated = true
		if g.state != TimedOut || st.Master {
			g.setLocked(Authenticated)
		}
		return
	}

	switch {
	case g.state == Authenticated:
		g.lossAt = now
		g.setLocked(GracePeriod)
	case !g.wasAuthenticated:
		g.setLocked(Unauthenticated)
	}
}

// Tick advances timed states. At the end of the grace period, and on every
// tick while reconnecting, the session is re-verified with the provider.
func (g *Guard) Tick(ctx context.Context, now time.Time) {
	g.mu.Lock()
	state, epoch := g.state, g.epoch
	switch state {
	case GracePeriod:
		if now.Sub(g.lossAt) < g.cfg.GracePeriod {
			g.mu.Unlock()
			return
		}
	case Reconnecting:
		if now.Sub(g.waitStart) >= g.cfg.MaxWait {
			g.setLocked(TimedOut)
			g.mu.Unlock()
			g.log.Warn("Session did not recover, giving up", zap.Duration("max_wait", g.cfg.MaxWait))
			return
		}
	default:
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	found := g.verify(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != epoch {
		// Observe moved the machine while we were verifying.
		return
	}
	switch {
	case found:
		g.setLocked(Authenticated)
	case state == GracePeriod:
		g.waitStart = now
		g.setLocked(Reconnecting)
	}
}

// View returns the render model at now.
func (g *Guard) View(now time.Time) View {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := View{State: g.state, StateName: g.state.String()}
	switch g.state {
	case Authenticated, GracePeriod:
		v.Route = RouteContent
	case Reconnecting:
		v.Route = RouteReconnecting
		v.ShowReconnecting = true
		v.Progress = float64(now.Sub(g.waitStart)) / float64(g.cfg.MaxWait)
		if v.Progress > 1 {
			v.Progress = 1
		}
		if v.Progress < 0 {
			v.Progress = 0
		}
	case TimedOut:
		v.Route = RouteTimedOut
		v.TimedOut = true
		v.Progress = 1
	default:
		v.Route = RouteLogin
	}
	return v
}

// Retry attempts an explicit session refresh from TimedOut. On failure the
// reload action runs as a last resort and the error is returned.
func (g *Guard) Retry(ctx context.Context) error {
	if g.State() != TimedOut {
		return ErrNotTimedOut
	}

	s, err := g.provider.RefreshSession(ctx)
	if err == nil && s != nil {
		g.mu.Lock()
		g.wasAuthenticated = true
		g.setLocked(Authenticated)
		g.mu.Unlock()
		g.log.Info("Session restored by retry")
		return nil
	}
	if err == nil {
		err = auth.ErrNoSession
	}
	g.log.Warn("Retry failed, reloading", zap.Error(err))
	g.reload()
	return err
}

// GoHome abandons the wait: the sticky authenticated bit is cleared and the
// navigate action is sent to the home route.
func (g *Guard) GoHome() {
	g.Reset()
	g.navigate(g.cfg.HomeRoute)
}

// Reset returns the guard to its initial state, as after a fresh start.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.wasAuthenticated = false
	g.lossAt, g.waitStart = time.Time{}, time.Time{}
	g.setLocked(Unauthenticated)
	g.mu.Unlock()
}

func (g *Guard) verify(ctx context.Context) bool {
	s, err := g.provider.GetSession(ctx)
	if err != nil && !errors.Is(err, auth.ErrNoSession) {
		g.log.Debug("session re-verification failed", zap.Error(err))
	}
	return err == nil && s != nil
}

// setLocked must be called with mu held.
func (g *Guard) setLocked(to State) {
	if g.state == to {
		return
	}
	from := g.state
	g.state = to
	g.epoch++
	metrics.RecordSessionTransition(from.String(), to.String())
	g.log.Debug("session state", zap.Stringer("from", from), zap.Stringer("to", to))
	select {
	case g.changed <- struct{}{}:
	default:
	}
}
