package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
)

// Config holds auth client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// JWTSecret enables local HS256 verification of stored access tokens.
	JWTSecret string

	// OIDCIssuer enables verification of refreshed tokens against the
	// issuer's published keys. OIDCClientID is the expected audience.
	OIDCIssuer   string
	OIDCClientID string
}

// Client implements Provider against the backend token endpoint and keeps
// the session in a kvstore.
type Client struct {
	cfg        Config
	store      kvstore.Store
	httpClient *http.Client
	verifier   *oidc.IDTokenVerifier
	now        func() time.Time
	log        *zap.Logger

	mu       sync.Mutex
	onChange []func(State)
}

var _ Provider = (*Client)(nil)

// New creates an auth client. The OIDC key set is fetched lazily, so New
// works offline.
func New(ctx context.Context, cfg Config, store kvstore.Store) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
		log:        logging.Named("auth"),
	}

	if cfg.OIDCIssuer != "" {
		issuer := strings.TrimRight(cfg.OIDCIssuer, "/")
		keySet := oidc.NewRemoteKeySet(ctx, issuer+"/.well-known/jwks.json")
		c.verifier = oidc.NewVerifier(issuer, keySet, &oidc.Config{
			ClientID:          cfg.OIDCClientID,
			SkipClientIDCheck: cfg.OIDCClientID == "",
		})
		c.log.Info("OIDC verification enabled", zap.String("issuer", issuer))
	}
	return c
}

// OnChange registers a callback fired after the stored auth state changes.
func (c *Client) OnChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

// Current returns the passively observable auth state from the store.
// It never contacts the network.
func (c *Client) Current() State {
	st := State{Master: c.MasterSession()}
	if s, err := c.stored(); err == nil {
		st.Session = s
		u := s.User
		st.User = &u
	}
	return st
}

// AccessToken returns the stored access token, or "" when there is none.
func (c *Client) AccessToken() string {
	s, err := c.stored()
	if err != nil {
		return ""
	}
	return s.AccessToken
}

// GetSession returns the stored session if it is still usable. An expired
// access token is refreshed when a refresh token is available.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	s, err := c.stored()
	if err != nil {
		return nil, err
	}
	if err := c.verifyLocal(s.AccessToken); err != nil {
		c.log.Warn("stored access token rejected", zap.Error(err))
		return nil, ErrNoSession
	}
	if !s.Expired(c.now()) {
		return s, nil
	}
	if s.RefreshToken == "" {
		return nil, ErrNoSession
	}
	return c.RefreshSession(ctx)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// RefreshSession exchanges the stored refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	current, err := c.stored()
	if err != nil {
		return nil, err
	}
	if current.RefreshToken == "" {
		return nil, ErrNoSession
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": current.RefreshToken})
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/auth/v1/token?grant_type=refresh_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("refresh failed (%d): %s", resp.StatusCode, string(data))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("refresh response without access token")
	}
	if c.verifier != nil {
		if _, err := c.verifier.Verify(ctx, tr.AccessToken); err != nil {
			return nil, fmt.Errorf("verify refreshed token: %w", err)
		}
	}

	s := &Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		User:         tr.User,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(tr.AccessToken)
	}
	if s.RefreshToken == "" {
		s.RefreshToken = current.RefreshToken
	}
	if s.User.ID == "" {
		s.User = current.User
	}

	if err := c.SaveSession(s); err != nil {
		return nil, err
	}
	c.log.Info("Session refreshed", zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// SaveSession stores s. The expiry is taken from the token's exp claim when
// the caller did not set one.
func (c *Client) SaveSession(s *Session) error {
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = tokenExpiry(s.AccessToken)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.store.Set(SessionKey, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	c.notify()
	return nil
}

// SignOut removes the stored session and the master flag.
func (c *Client) SignOut() error {
	if err := c.store.Delete(SessionKey); err != nil {
		return err
	}
	if err := c.store.Delete(MasterSessionKey); err != nil {
		return err
	}
	c.notify()
	return nil
}

// MasterSession reports whether the master session flag is set.
func (c *Client) MasterSession() bool {
	v, err := c.store.Get(MasterSessionKey)
	return err == nil && string(v) == "true"
}

// SetMasterSession sets or clears the master session flag.
func (c *Client) SetMasterSession(on bool) error {
	var err error
	if on {
		err = c.store.Set(MasterSessionKey, []byte("true"))
	} else {
		err = c.store.Delete(MasterSessionKey)
	}
	if err != nil {
		return fmt.Errorf("master session flag: %w", err)
	}
	c.notify()
	return nil
}

func (c *Client) stored() (*Session, error) {
	data, err := c.store.Get(SessionKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil || s.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// verifyLocal checks the HS256 signature when a secret is configured.
// Expiry is judged separately so an expired token can still be refreshed.
func (c *Client) verifyLocal(token string) error {
	if c.cfg.JWTSecret == "" {
		return nil
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(c.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	return err
}

func (c *Client) notify() {
	c.mu.Lock()
	fns := append([]func(State){}, c.onChange...)
	c.mu.Unlock()
	if len(fns) == 0 {
		return
	}
	st := c.Current()
	for _, fn := range fns {
		fn(st)
	}
}

// tokenExpiry reads the exp claim without verifying the signature.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
