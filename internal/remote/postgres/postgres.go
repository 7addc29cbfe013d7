// Package postgres implements the remote sources with direct PostgreSQL
// access, for supervisor workstations that reach the database without
// going through the REST gateway.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

const sourceName = "postgres"

// Store is a PostgreSQL-backed remote source.
type Store struct {
	db      *sqlx.DB
	monitor *netstatus.Monitor
}

var _ remote.Source = (*Store)(nil)

// New opens a connection pool. The database is not contacted until the
// first query, so an agent can start while offline.
func New(databaseURL string, monitor *netstatus.Monitor) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, monitor: monitor}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity and reports it to the monitor.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	s.observe(err)
	return err
}

const shiftsQuery = `
SELECT id, agent_id,
       COALESCE(unit_id::text, '')    AS unit_id,
       COALESCE(team, '')             AS team,
       shift_date::text               AS shift_date,
       shift_type,
       COALESCE(start_time::text, '') AS start_time,
       COALESCE(end_time::text, '')   AS end_time,
       status,
       COALESCE(notes, '')            AS notes
FROM shifts
WHERE agent_id = $1
ORDER BY shift_date ASC`

func (s *Store) ListShifts(ctx context.Context, agentID string) ([]models.Shift, error) {
	var rows []models.Shift
	if err := s.selectRows(ctx, "shifts", &rows, shiftsQuery, agentID); err != nil {
		return nil, err
	}
	return rows, nil
}

const teamQuery = `
SELECT id, name, COALESCE(team, '') AS team, unit_id::text AS unit_id,
       COALESCE(role, '')       AS role,
       COALESCE(phone, '')      AS phone,
       COALESCE(avatar_url, '') AS avatar_url,
       is_active
FROM agents
WHERE unit_id = $1 AND team = $2 AND is_active
ORDER BY name ASC`

func (s *Store) ListTeamMembers(ctx context.Context, unitID, team string) ([]models.TeamMember, error) {
	var rows []models.TeamMember
	if err := s.selectRows(ctx, "team", &rows, teamQuery, unitID, team); err != nil {
		return nil, err
	}
	return rows, nil
}

const eventsQuery = `
SELECT id, agent_id, title,
       COALESCE(description, '') AS description,
       event_date::text          AS event_date,
       event_type,
       COALESCE(color, '')       AS color,
       all_day
FROM agent_events
WHERE agent_id = $1
ORDER BY event_date ASC`

func (s *Store) ListEvents(ctx context.Context, agentID string) ([]models.Event, error) {
	var rows []models.Event
	if err := s.selectRows(ctx, "events", &rows, eventsQuery, agentID); err != nil {
		return nil, err
	}
	return rows, nil
}

// license_expires_at is rendered as text so a DATE column stays date-only
// and the end-of-day rule still applies.
const licenseSelect = `
SELECT id, cpf, name, team, unit_id::text AS unit_id,
       license_status, license_expires_at::text AS license_expires_at
FROM agents`

func (s *Store) ListLicenses(ctx context.Context) ([]models.OfflineLicense, error) {
	var rows []remote.LicenseRow
	if err := s.selectRows(ctx, "licenses", &rows, licenseSelect+` ORDER BY name ASC`); err != nil {
		return nil, err
	}
	return remote.Offline(rows), nil
}

func (s *Store) LicenseByCPF(ctx context.Context, cpf string) (*models.OfflineLicense, error) {
	var row remote.LicenseRow
	start := time.Now()
	err := s.db.GetContext(ctx, &row,
		licenseSelect+` WHERE regexp_replace(cpf, '\D', '', 'g') = $1 LIMIT 1`,
		models.NormalizeDocument(cpf))
	s.record("licenses", err, start)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query license: %w", err)
	}
	lic := row.Offline()
	return &lic, nil
}

func (s *Store) selectRows(ctx context.Context, resource string, dest any, query string, args ...any) error {
	start := time.Now()
	err := s.db.SelectContext(ctx, dest, query, args...)
	s.record(resource, err, start)
	if err != nil {
		return fmt.Errorf("query %s: %w", resource, err)
	}
	return nil
}

func (s *Store) record(resource string, err error, start time.Time) {
	status := 200
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = 500
	}
	metrics.RecordRemoteRequest(sourceName, resource, status, time.Since(start))
	s.observe(err)
}

// observe feeds connectivity to the monitor. Only connection-level failures
// count as offline; a query error from a live server does not.
func (s *Store) observe(err error) {
	if s.monitor == nil {
		return
	}
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		s.monitor.SetOnline(true)
		return
	}
	if isConnError(err) {
		s.monitor.SetOnline(false)
	}
}

// isConnError reports whether err means the server could not be reached.
// Errors carrying a SQLSTATE came from a live server.
func isConnError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 is connection exception.
		return pqErr.Code.Class() == "08"
	}
	return true
}
