// Package auth persists the backend session, refreshes it, and exposes the
// two operations the session-loss guard depends on.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Storage keys owned by this package. Safe mode must never remove them.
const (
	SessionKey       = "auth-token"
	MasterSessionKey = "master-session"
	keyPrefix        = "auth:"
)

// ErrNoSession means no usable session exists.
var ErrNoSession = errors.New("no session")

// User is the authenticated principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Session is a token pair as issued by the auth backend.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
// A zero expiry never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider is the auth collaborator used by the session-loss guard.
type Provider interface {
	// GetSession returns the current session, or ErrNoSession.
	GetSession(ctx context.Context) (*Session, error)
	// RefreshSession rotates the tokens and returns the new session.
	RefreshSession(ctx context.Context) (*Session, error)
}

// State is the passively observed auth context.
type State struct {
	User    *User
	Session *Session
	Master  bool
}

// Present reports whether any form of authentication is observed.
func (s State) Present() bool {
	return s.Master || s.User != nil || s.Session != nil
}

// IsAuthKey reports whether a storage key holds authentication state.
func IsAuthKey(key string) bool {
	return key == SessionKey || key == MasterSessionKey || strings.HasPrefix(key, keyPrefix)
}
