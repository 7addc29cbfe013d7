package license

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/remote"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/netstatus"
)

// Syncer refreshes the offline cache from a license source.
type Syncer struct {
	Cache   *OfflineCache
	Source  remote.LicenseSource
	Monitor *netstatus.Monitor
}

// Sync pulls the full license list and replaces the cache. On failure the
// previous cache is kept untouched.
func (s *Syncer) Sync(ctx context.Context) error {
	ctx = logging.WithSyncID(ctx, "")
	log := logging.WithContext(ctx)

	list, err := s.Source.ListLicenses(ctx)
	if err != nil {
		metrics.RecordLicenseSync(false)
		log.Warn("license sync failed, keeping cached licenses",
			zap.Int64("version", s.Cache.Version()),
			zap.Error(err))
		return fmt.Errorf("list licenses: %w", err)
	}
	if err := s.Cache.UpdateLicenses(list); err != nil {
		metrics.RecordLicenseSync(false)
		return err
	}
	metrics.RecordLicenseSync(true)
	return nil
}

// Run syncs once (when online) and again on every "back online" signal
// until ctx is done.
func (s *Syncer) Run(ctx context.Context) {
	var signals <-chan struct{}
	if s.Monitor != nil {
		var cancel func()
		signals, cancel = s.Monitor.Subscribe()
		defer cancel()
	}

	if s.Monitor == nil || s.Monitor.IsOnline() {
		s.Sync(ctx)
	}
	for {
		select {
		case <-signals:
			s.Sync(ctx)
		case <-ctx.Done():
			return
		}
	}
}
