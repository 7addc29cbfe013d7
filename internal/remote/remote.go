// Package remote defines the boundary to the hosted backend. Each source
// returns ordered, typed rows or fails; callers treat every failure the same
// way and fall back to local caches.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// StaleError accompanies rows answered from a stored response after the
// backend failed. List methods return the rows together with it.
type StaleError struct {
	StoredAt time.Time
	Err      error
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stored response from %s: %v", e.StoredAt.Format(time.RFC3339), e.Err)
}

func (e *StaleError) Unwrap() error { return e.Err }

// Stale returns the StaleError in err's chain.
func Stale(err error) (*StaleError, bool) {
	var se *StaleError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ShiftSource lists an agent's shifts ordered by date.
type ShiftSource interface {
	ListShifts(ctx context.Context, agentID string) ([]models.Shift, error)
}

// TeamSource lists the active members of a team within a unit, ordered by name.
type TeamSource interface {
	ListTeamMembers(ctx context.Context, unitID, team string) ([]models.TeamMember, error)
}

// EventSource lists an agent's calendar events ordered by date.
type EventSource interface {
	ListEvents(ctx context.Context, agentID string) ([]models.Event, error)
}

// LicenseSource provides agent license records.
type LicenseSource interface {
	ListLicenses(ctx context.Context) ([]models.OfflineLicense, error)
	LicenseByCPF(ctx context.Context, cpf string) (*models.OfflineLicense, error)
}

// Source is a backend that serves every resource.
type Source interface {
	ShiftSource
	TeamSource
	EventSource
	LicenseSource
}

// LicenseRow is the license projection of the agents table as served by
// every backend.
type LicenseRow struct {
	ID               string  `json:"id" db:"id"`
	CPF              string  `json:"cpf" db:"cpf"`
	Name             string  `json:"name" db:"name"`
	Team             *string `json:"team" db:"team"`
	UnitID           *string `json:"unit_id" db:"unit_id"`
	LicenseStatus    *string `json:"license_status" db:"license_status"`
	LicenseExpiresAt *string `json:"license_expires_at" db:"license_expires_at"`
}

// Offline converts the row into the cached license shape. A missing status
// is treated as pending.
func (r LicenseRow) Offline() models.OfflineLicense {
	status := models.LicensePending
	if r.LicenseStatus != nil && *r.LicenseStatus != "" {
		status = models.LicenseStatus(*r.LicenseStatus)
	}
	return models.OfflineLicense{
		AgentID:          r.ID,
		DocumentNumber:   models.NormalizeDocument(r.CPF),
		Name:             r.Name,
		Team:             deref(r.Team),
		UnitID:           deref(r.UnitID),
		LicenseStatus:    status,
		LicenseExpiresAt: r.LicenseExpiresAt,
	}
}

// Offline converts a list of rows.
func Offline(rows []LicenseRow) []models.OfflineLicense {
	out := make([]models.OfflineLicense, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Offline())
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
