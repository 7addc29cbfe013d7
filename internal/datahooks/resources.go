package datahooks

import (
	"context"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/kvstore"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

// Resource names. They are part of the persisted cache keys.
const (
	ResourceShifts = "shifts"
	ResourceTeam   = "team"
	ResourceEvents = "events"
)

// NewShifts returns the hook for an agent's shifts.
func NewShifts(src remote.ShiftSource, store kvstore.Store, ttl time.Duration,
	monitor *netstatus.Monitor, agentID string, opts ...Option[models.Shift]) *Hook[models.Shift] {
	return New[models.Shift](ResourceShifts, agentID, store, ttl, monitor, func(ctx context.Context) ([]models.Shift, error) {
		return src.ListShifts(ctx, agentID)
	}, opts...)
}

// NewTeamMembers returns the hook for a team roster within a unit.
func NewTeamMembers(src remote.TeamSource, store kvstore.Store, ttl time.Duration,
	monitor *netstatus.Monitor, unitID, team string, opts ...Option[models.TeamMember]) *Hook[models.TeamMember] {
	return New[models.TeamMember](ResourceTeam, TeamKey(unitID, team), store, ttl, monitor, func(ctx context.Context) ([]models.TeamMember, error) {
		return src.ListTeamMembers(ctx, unitID, team)
	}, opts...)
}

// NewEvents returns the hook for an agent's calendar events.
func NewEvents(src remote.EventSource, store kvstore.Store, ttl time.Duration,
	monitor *netstatus.Monitor, agentID string, opts ...Option[models.Event]) *Hook[models.Event] {
	return New[models.Event](ResourceEvents, agentID, store, ttl, monitor, func(ctx context.Context) ([]models.Event, error) {
		return src.ListEvents(ctx, agentID)
	}, opts...)
}

// TeamKey is the cache entity ID of a team roster.
func TeamKey(unitID, team string) string {
	return unitID + ":" + team
}
