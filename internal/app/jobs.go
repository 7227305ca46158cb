/**
 * @description
 * Background maintenance jobs run on a cron schedule: expiring stale signup
 * intents so their PII and duplicate locks do not linger, and purging old
 * processed-event guard rows.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
)

// Retention for processed-event guard rows. Payment providers stop
// redelivering long before this.
const processedEventRetention = 30 * 24 * time.Hour

const jobTimeout = 2 * time.Minute

// MaintenanceJobs bundles the periodic sweeps.
type MaintenanceJobs struct {
	repo      store.Repository
	logger    *slog.Logger
	intentTTL time.Duration
	now       func() time.Time
}

// NewMaintenanceJobs creates the periodic sweeps with the configured intent TTL.
func NewMaintenanceJobs(repo store.Repository, logger *slog.Logger, intentTTLHours int) *MaintenanceJobs {
	return &MaintenanceJobs{
		repo:      repo,
		logger:    logger,
		intentTTL: time.Duration(intentTTLHours) * time.Hour,
		now:       time.Now,
	}
}

// ExpireStaleIntents moves intents untouched for longer than the TTL into
// EXPIRED, releasing their email/document/phone duplicate locks.
func (j *MaintenanceJobs) ExpireStaleIntents() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.intentTTL)
	expired, err := j.repo.ExpireStaleIntents(ctx, cutoff)
	if err != nil {
		j.logger.Error("intent expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		j.logger.Info("expired stale signup intents", "count", expired, "cutoff", cutoff)
	}
}

// PurgeProcessedEvents deletes idempotency guard rows past retention.
func (j *MaintenanceJobs) PurgeProcessedEvents() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := j.now().Add(-processedEventRetention)
	purged, err := j.repo.PurgeProcessedEvents(ctx, cutoff)
	if err != nil {
		j.logger.Error("processed-event purge failed", "error", err)
		return
	}
	if purged > 0 {
		j.logger.Info("purged processed payment events", "count", purged, "cutoff", cutoff)
	}
}
