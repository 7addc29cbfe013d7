package netstatus

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
)

// Prober periodically checks reachability and feeds the result to a
// Monitor. It pings URL over HTTP unless Check is set.
type Prober struct {
	URL      string
	APIKey   string
	Interval time.Duration
	Client   *http.Client
	Monitor  *Monitor

	// Check replaces the HTTP ping, e.g. with a database ping.
	Check func(ctx context.Context) error
}

// Ping performs a single health check and records the outcome. Any HTTP
// response below 500 counts as reachable: the REST root answers 401 without
// a token.
func (p *Prober) Ping(ctx context.Context) error {
	if p.Check != nil {
		err := p.Check(ctx)
		p.Monitor.SetOnline(err == nil)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	if p.APIKey != "" {
		req.Header.Set("apikey", p.APIKey)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		p.Monitor.SetOnline(false)
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		p.Monitor.SetOnline(false)
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	p.Monitor.SetOnline(true)
	return nil
}

// Run pings immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	if p.Interval <= 0 {
		return
	}
	if err := p.Ping(ctx); err != nil {
		logging.Debug("health check failed", logging.Err(err))
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	logging.Info("Health check enabled", logging.Duration("interval", p.Interval))
	for {
		select {
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				logging.Debug("health check failed", logging.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 5 * time.Second}
}
