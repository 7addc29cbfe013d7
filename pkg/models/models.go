// Package models contains the typed row contracts shared by the remote
// sources, the data hooks and the offline caches.
package models

import (
	"strings"
	"time"
)

// Shift is one scheduled duty for an agent.
type Shift struct {
	ID        string `json:"id" db:"id"`
	AgentID   string `json:"agent_id" db:"agent_id"`
	UnitID    string `json:"unit_id,omitempty" db:"unit_id"`
	Team      string `json:"team,omitempty" db:"team"`
	ShiftDate string `json:"shift_date" db:"shift_date"` // YYYY-MM-DD
	ShiftType string `json:"shift_type" db:"shift_type"`
	StartTime string `json:"start_time,omitempty" db:"start_time"`
	EndTime   string `json:"end_time,omitempty" db:"end_time"`
	Status    string `json:"status" db:"status"`
	Notes     string `json:"notes,omitempty" db:"notes"`
}

// TeamMember is an agent as listed on a team roster.
type TeamMember struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Team      string `json:"team" db:"team"`
	UnitID    string `json:"unit_id" db:"unit_id"`
	Role      string `json:"role,omitempty" db:"role"`
	Phone     string `json:"phone,omitempty" db:"phone"`
	AvatarURL string `json:"avatar_url,omitempty" db:"avatar_url"`
	IsActive  bool   `json:"is_active" db:"is_active"`
}

// Event is a personal calendar entry (leave, course, reminder).
type Event struct {
	ID          string `json:"id" db:"id"`
	AgentID     string `json:"agent_id" db:"agent_id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`
	EventDate   string `json:"event_date" db:"event_date"` // YYYY-MM-DD
	EventType   string `json:"event_type" db:"event_type"`
	Color       string `json:"color,omitempty" db:"color"`
	AllDay      bool   `json:"all_day" db:"all_day"`
}

// LicenseStatus is the administrative state of an agent's app license.
type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "active"
	LicenseBlocked LicenseStatus = "blocked"
	LicenseExpired LicenseStatus = "expired"
	LicensePending LicenseStatus = "pending"
)

// OfflineLicense is the cached license record used to gate access when the
// network cannot confirm a license. LicenseExpiresAt is kept as the raw
// string received from the backend (date-only or full timestamp) so the
// validity rule can tell the two apart.
type OfflineLicense struct {
	AgentID          string        `json:"agentId"`
	DocumentNumber   string        `json:"documentNumber"`
	Name             string        `json:"name"`
	Team             string        `json:"team,omitempty"`
	UnitID           string        `json:"unitId,omitempty"`
	LicenseStatus    LicenseStatus `json:"licenseStatus"`
	LicenseExpiresAt *string       `json:"licenseExpiresAt"`
	CachedAt         int64         `json:"cachedAt"` // unix ms
}

// NormalizeDocument strips everything but digits from a CPF, so
// "123.456.789-01" and "12345678901" match.
func NormalizeDocument(doc string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, doc)
}

// CacheEntry is the persisted envelope of the expiring cache.
// Timestamps are unix milliseconds.
type CacheEntry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	ExpiresAt int64 `json:"expiresAt"`
}

// CreatedAt returns the entry creation instant.
func (e CacheEntry[T]) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// FreshAt reports whether the entry is still fresh at now.
func (e CacheEntry[T]) FreshAt(now time.Time) bool {
	return now.UnixMilli() <= e.ExpiresAt
}
