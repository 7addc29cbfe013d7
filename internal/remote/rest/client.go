// Package rest implements the remote sources against the backend's
// PostgREST-style HTTP API.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/respcache"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/retry"
)

const sourceName = "rest"

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	RetryConfig retry.Config

	// Token returns the current access token. When it returns "" the API
	// key is sent as the bearer token (anonymous role).
	Token func() string

	// Monitor receives a connectivity observation for every request.
	Monitor *netstatus.Monitor

	// ResponseCache, when set, stores successful GET bodies and serves them
	// if the transport fails.
	ResponseCache *respcache.Cache
}

// Client talks to the REST API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig retry.Config
	token       func() string
	monitor     *netstatus.Monitor
	respCache   *respcache.Cache
	log         *zap.Logger

	mu           sync.RWMutex
	cacheEnabled bool
}

var _ remote.Source = (*Client)(nil)

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig:  cfg.RetryConfig,
		token:        cfg.Token,
		monitor:      cfg.Monitor,
		respCache:    cfg.ResponseCache,
		log:          logging.Named("rest"),
		cacheEnabled: cfg.ResponseCache != nil,
	}
}

// Name identifies the client in logs.
func (c *Client) Name() string {
	return "rest-response-cache"
}

// Unregister stops the client from reading or writing the response cache
// until Register is called. Safe mode calls it to take cached responses out
// of the request path.
func (c *Client) Unregister(ctx context.Context) error {
	c.mu.Lock()
	c.cacheEnabled = false
	c.mu.Unlock()
	c.log.Info("Response caching disabled")
	return nil
}

// Register re-enables the response cache if one is configured.
func (c *Client) Register() {
	c.mu.Lock()
	c.cacheEnabled = c.respCache != nil
	c.mu.Unlock()
}

// Registered reports whether the response cache is in use.
func (c *Client) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cacheEnabled
}

// ListShifts returns an agent's shifts ordered by date.
func (c *Client) ListShifts(ctx context.Context, agentID string) ([]models.Shift, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("agent_id", "eq."+agentID)
	q.Set("order", "shift_date.asc")

	var rows []models.Shift
	err := c.list(ctx, "shifts", "shifts", q, &rows)
	return rows, err
}

// ListTeamMembers returns the active members of a team ordered by name.
func (c *Client) ListTeamMembers(ctx context.Context, unitID, team string) ([]models.TeamMember, error) {
	q := url.Values{}
	q.Set("select", "id,name,team,unit_id,role,phone,avatar_url,is_active")
	q.Set("unit_id", "eq."+unitID)
	q.Set("team", "eq."+team)
	q.Set("is_active", "eq.true")
	q.Set("order", "name.asc")

	var rows []models.TeamMember
	err := c.list(ctx, "team", "agents", q, &rows)
	return rows, err
}

// ListEvents returns an agent's calendar events ordered by date.
func (c *Client) ListEvents(ctx context.Context, agentID string) ([]models.Event, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("agent_id", "eq."+agentID)
	q.Set("order", "event_date.asc")

	var rows []models.Event
	err := c.list(ctx, "events", "agent_events", q, &rows)
	return rows, err
}

const licenseColumns = "id,cpf,name,team,unit_id,license_status,license_expires_at"

// ListLicenses returns the license projection of every agent.
func (c *Client) ListLicenses(ctx context.Context) ([]models.OfflineLicense, error) {
	q := url.Values{}
	q.Set("select", licenseColumns)
	q.Set("order", "name.asc")

	var rows []remote.LicenseRow
	if err := c.get(ctx, "licenses", "agents", q, &rows); err != nil {
		return nil, err
	}
	return remote.Offline(rows), nil
}

// LicenseByCPF looks up one agent's license by document number.
func (c *Client) LicenseByCPF(ctx context.Context, cpf string) (*models.OfflineLicense, error) {
	q := url.Values{}
	q.Set("select", licenseColumns)
	q.Set("cpf", "eq."+models.NormalizeDocument(cpf))
	q.Set("limit", "1")

	var rows []remote.LicenseRow
	if err := c.get(ctx, "licenses", "agents", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, remote.ErrNotFound
	}
	lic := rows[0].Offline()
	return &lic, nil
}

// list is get for row lists: a stored response still fills out, and the
// returned error is a *remote.StaleError.
func (c *Client) list(ctx context.Context, resource, table string, q url.Values, out any) error {
	return c.fetch(ctx, resource, table, q, out, true)
}

// get fetches /rest/v1/<table> and decodes the JSON body into out. Stored
// responses are not used.
func (c *Client) get(ctx context.Context, resource, table string, q url.Values, out any) error {
	return c.fetch(ctx, resource, table, q, out, false)
}

func (c *Client) fetch(ctx context.Context, resource, table string, q url.Values, out any, allowStored bool) error {
	reqURL := c.baseURL + "/rest/v1/" + table + "?" + q.Encode()

	body, err := retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		return c.do(ctx, resource, reqURL)
	})
	if err != nil {
		if !allowStored {
			return fmt.Errorf("get %s: %w", table, err)
		}
		cached, storedAt, ok := c.fromResponseCache(reqURL, err)
		if !ok {
			return fmt.Errorf("get %s: %w", table, err)
		}
		if derr := json.Unmarshal(cached, out); derr != nil {
			return fmt.Errorf("decode stored %s: %w", table, derr)
		}
		return &remote.StaleError{StoredAt: storedAt, Err: fmt.Errorf("get %s: %w", table, err)}
	}

	if allowStored {
		c.storeResponse(reqURL, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, resource, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(sourceName, resource, 0, time.Since(start))
		c.setOnline(false)
		return nil, retry.Retryable(err)
	}
	defer resp.Body.Close()
	metrics.RecordRemoteRequest(sourceName, resource, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 500 {
		c.setOnline(false)
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, retry.Retryable(&StatusError{Code: resp.StatusCode, Body: string(data)})
	}
	c.setOnline(true)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	bearer := c.apiKey
	if c.token != nil {
		if t := c.token(); t != "" {
			bearer = t
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
}

func (c *Client) setOnline(online bool) {
	if c.monitor != nil {
		c.monitor.SetOnline(online)
	}
}

// fromResponseCache serves a cached body after a transport or server
// failure. Client errors (4xx) are answers, not outages, and are returned.
func (c *Client) fromResponseCache(reqURL string, err error) ([]byte, time.Time, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.Code < 500 {
		return nil, time.Time{}, false
	}
	if !c.Registered() {
		return nil, time.Time{}, false
	}
	body, entry, ok := c.respCache.Get(reqURL)
	if !ok {
		return nil, time.Time{}, false
	}
	metrics.RecordResponseCacheServed()
	c.log.Info("Serving cached response",
		zap.String("url", reqURL),
		zap.Time("stored_at", entry.StoredAt),
		zap.Error(err))
	return body, entry.StoredAt, true
}

func (c *Client) storeResponse(reqURL string, body []byte) {
	if !c.Registered() {
		return
	}
	if err := c.respCache.Put(reqURL, body, "application/json"); err != nil {
		c.log.Warn("response cache write failed", zap.String("url", reqURL), zap.Error(err))
	}
}
