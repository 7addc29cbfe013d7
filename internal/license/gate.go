package license

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

// Decision sources.
const (
	SourceNetwork = "network"
	SourceOffline = "offline"
)

// Decision is the outcome of a license check.
type Decision struct {
	Allowed bool                   `json:"allowed"`
	Source  string                 `json:"source"`
	License *models.OfflineLicense `json:"license,omitempty"`
	Reason  string                 `json:"reason"`
}

// Gate checks a license online first and falls back to the offline cache.
type Gate struct {
	Cache   *OfflineCache
	Remote  remote.LicenseSource // optional
	Monitor *netstatus.Monitor   // optional; nil means always try the network
}

// Check decides whether the agent holding doc may proceed.
func (g *Gate) Check(ctx context.Context, doc string) Decision {
	d := g.check(ctx, doc)
	metrics.RecordLicenseCheck(d.Source, d.Allowed)
	return d
}

func (g *Gate) check(ctx context.Context, doc string) Decision {
	now := g.Cache.Now()

	if g.Remote != nil && (g.Monitor == nil || g.Monitor.IsOnline()) {
		lic, err := g.Remote.LicenseByCPF(ctx, doc)
		switch {
		case err == nil:
			ok, reason := Evaluate(*lic, now)
			return Decision{Allowed: ok, Source: SourceNetwork, License: lic, Reason: reason}
		case errors.Is(err, remote.ErrNotFound):
			return Decision{Source: SourceNetwork, Reason: ReasonNotFound}
		default:
			logging.Warn("online license check failed, using offline cache", zap.Error(err))
		}
	}

	lic, ok := g.Cache.GetLicenseByCPF(doc)
	if !ok {
		return Decision{Source: SourceOffline, Reason: ReasonNotInOffline}
	}
	allowed, reason := Evaluate(*lic, now)
	return Decision{Allowed: allowed, Source: SourceOffline, License: lic, Reason: reason}
}
