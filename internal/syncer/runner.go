package syncer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tkarlsen/mealcard/internal/realtime"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/logger"
)

const (
	defaultSyncSpec  = "@every 1m"
	defaultPurgeSpec = "@daily"
	defaultAuditSpec = "@daily"

	defaultSyncedRetention    = 7 * 24 * time.Hour
	defaultAuditRetentionDays = 90
)

// Runner drives the reconciler and housekeeping on a schedule: replaying
// queued offline operations, purging old synced queue rows, and enforcing
// audit retention.
type Runner struct {
	sync  *services.SyncService
	audit *services.AuditService
	hub   *realtime.Hub
	cron  *cron.Cron
	log   *zap.Logger

	syncSchedule  string
	purgeSchedule string
	auditSchedule string

	syncedRetention    time.Duration
	auditRetentionDays int
}

// Option customises the Runner.
type Option func(*Runner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) {
		if c != nil {
			r.cron = c
		}
	}
}

// WithSyncSchedule overrides the cron specification for reconciliation runs.
func WithSyncSchedule(spec string) Option {
	return func(r *Runner) {
		if spec != "" {
			r.syncSchedule = spec
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained.
func WithAuditRetentionDays(days int) Option {
	return func(r *Runner) {
		if days > 0 {
			r.auditRetentionDays = days
		}
	}
}

// WithSyncedRetention adjusts how long SYNCED queue rows are kept before
// purging.
func WithSyncedRetention(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.syncedRetention = d
		}
	}
}

// WithHub attaches a realtime hub so scheduled runs publish sync events.
func WithHub(hub *realtime.Hub) Option {
	return func(r *Runner) {
		r.hub = hub
	}
}

// NewRunner constructs a Runner with sensible defaults. A nil audit service
// skips audit retention.
func NewRunner(sync *services.SyncService, audit *services.AuditService, opts ...Option) *Runner {
	runner := &Runner{
		sync:               sync,
		audit:              audit,
		syncSchedule:       defaultSyncSpec,
		purgeSchedule:      defaultPurgeSpec,
		auditSchedule:      defaultAuditSpec,
		syncedRetention:    defaultSyncedRetention,
		auditRetentionDays: defaultAuditRetentionDays,
		log:                logger.WithModule("syncer"),
	}

	for _, opt := range opts {
		opt(runner)
	}

	if runner.cron == nil {
		runner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return runner
}

// Start registers the scheduled jobs and launches the scheduler.
func (r *Runner) Start() error {
	if r.sync != nil {
		if _, err := r.cron.AddFunc(r.syncSchedule, func() {
			report, err := r.sync.Run(context.Background())
			if err != nil {
				r.log.Warn("scheduled sync failed", zap.Error(err))
				return
			}
			if report.Synced+report.Failed > 0 && r.hub != nil {
				r.hub.Broadcast(realtime.StreamSync, realtime.Message{
					Event: "sync_completed",
					Data:  report,
				})
			}
		}); err != nil {
			return err
		}

		if _, err := r.cron.AddFunc(r.purgeSchedule, func() {
			if _, err := r.sync.PurgeSynced(context.Background(), r.syncedRetention); err != nil {
				r.log.Warn("queue purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if r.audit != nil && r.auditRetentionDays > 0 {
		if _, err := r.cron.AddFunc(r.auditSchedule, func() {
			if _, err := r.audit.CleanupOlderThan(context.Background(), r.auditRetentionDays); err != nil {
				r.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	r.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		return context.Background()
	}
	return r.cron.Stop()
}

// RunOnce executes every scheduled routine sequentially. Used in tests and
// during graceful shutdown so a final reconciliation pass happens before the
// process exits.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if r.sync != nil {
		if _, err := r.sync.Run(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := r.sync.PurgeSynced(ctx, r.syncedRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if r.audit != nil && r.auditRetentionDays > 0 {
		if _, err := r.audit.CleanupOlderThan(ctx, r.auditRetentionDays); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
