package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hubofallthings/hatsync/internal/cache"
	"github.com/hubofallthings/hatsync/internal/models"
	"github.com/hubofallthings/hatsync/internal/monitoring"
	"github.com/hubofallthings/hatsync/pkg/logger"
)

// Job names reported to the tracker.
const (
	JobCachePurge        = "cache_purge"
	JobSyncLogCleanup    = "sync_log_cleanup"
	JobCredentialCleanup = "credential_cleanup"
	JobRefresh           = "refresh"
)

const (
	defaultLogRetentionDays = 30
	defaultPurgeSpec        = "@hourly"
	defaultLogSpec          = "@daily"
	defaultCredentialSpec   = "@daily"
)

// LogPruner removes old sync log rows. services.SyncLogService implements it.
type LogPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// Refresher force-syncs every registered record type. services.SyncService implements it.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Cleaner coordinates background maintenance: purging expired cache entries, pruning
// the sync log, dropping expired HAT credentials and optionally refreshing every type.
type Cleaner struct {
	db        *gorm.DB
	purger    cache.Purger
	logs      LogPruner
	refresher Refresher
	tracker   *monitoring.JobTracker
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	purgeSchedule      string
	logSchedule        string
	credentialSchedule string
	refreshSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithLogRetentionDays adjusts how long sync logs are retained. Zero disables pruning.
func WithLogRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days >= 0 {
			cleaner.retention = days
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the expired cache purge.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// WithLogSchedule overrides the cron specification for sync log retention.
func WithLogSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.logSchedule = spec
		}
	}
}

// WithRefresher schedules a forced refresh of every type. An empty spec disables it.
func WithRefresher(refresher Refresher, spec string) Option {
	return func(cleaner *Cleaner) {
		if refresher != nil && spec != "" {
			cleaner.refresher = refresher
			cleaner.refreshSchedule = spec
		}
	}
}

// WithTracker reports every run to tracker.
func WithTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		cleaner.tracker = tracker
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, purger cache.Purger, logs LogPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                 db,
		purger:             purger,
		logs:               logs,
		now:                time.Now,
		retention:          defaultLogRetentionDays,
		purgeSchedule:      defaultPurgeSpec,
		logSchedule:        defaultLogSpec,
		credentialSchedule: defaultCredentialSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.purger != nil || (c.logs != nil && c.retention > 0) || c.db != nil || c.refresher != nil
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	for _, j := range c.jobs(true) {
		c.tracker.Register(j.name)
		if _, err := c.cron.AddFunc(j.spec, func() {
			if err := c.run(context.Background(), j); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes the cleanup routines sequentially. The scheduled refresh is not part of it.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs(false) {
		if err := c.run(ctx, j); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errs
}

type job struct {
	name string
	spec string
	fn   func(ctx context.Context) error
}

func (c *Cleaner) jobs(withRefresh bool) []job {
	var jobs []job

	if c.purger != nil {
		jobs = append(jobs, job{name: JobCachePurge, spec: c.purgeSchedule, fn: func(ctx context.Context) error {
			removed, err := c.purger.PurgeExpired(ctx, c.now())
			if err == nil {
				c.log.Debug("purged expired cache entries", zap.Int64("removed", removed))
			}
			return err
		}})
	}

	if c.logs != nil && c.retention > 0 {
		jobs = append(jobs, job{name: JobSyncLogCleanup, spec: c.logSchedule, fn: func(ctx context.Context) error {
			_, err := c.logs.CleanupOlderThan(ctx, c.retention)
			return err
		}})
	}

	if c.db != nil {
		jobs = append(jobs, job{name: JobCredentialCleanup, spec: c.credentialSchedule, fn: func(ctx context.Context) error {
			_, err := CleanupCredentials(ctx, c.db, c.now())
			return err
		}})
	}

	if withRefresh && c.refresher != nil {
		jobs = append(jobs, job{name: JobRefresh, spec: c.refreshSchedule, fn: c.refresher.RefreshAll})
	}

	return jobs
}

func (c *Cleaner) run(ctx context.Context, j job) error {
	started := time.Now()
	err := j.fn(ctx)
	c.tracker.Record(j.name, err, time.Since(started))
	return err
}

// CleanupCredentials removes stored HAT tokens whose expiry has passed.
func CleanupCredentials(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup credentials: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&models.Credential{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}
