package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/dto"
	"github.com/noah-isme/immigration-dms-api/internal/models"
	appErrors "github.com/noah-isme/immigration-dms-api/pkg/errors"
	"github.com/noah-isme/immigration-dms-api/pkg/jobs"
	"github.com/noah-isme/immigration-dms-api/pkg/middleware/requestid"
)

type syncRunner interface {
	Systems() []string
	Trigger(ctx context.Context, actor models.Actor, system string, req dto.SyncTriggerRequest) (interface{}, error)
}

type exportCleaner interface {
	Cleanup() ([]string, error)
}

// SyncSchedulerConfig tunes periodic runs.
type SyncSchedulerConfig struct {
	Interval        time.Duration
	Action          models.SyncAction
	Workers         int
	RunTimeout      time.Duration
	CleanupInterval time.Duration
}

// SyncScheduler triggers the configured action for every system on a fixed
// interval. Runs refused because another run holds the lease are skipped.
type SyncScheduler struct {
	runner  syncRunner
	cleaner exportCleaner
	queue   *jobs.Queue
	logger  *zap.Logger
	cfg     SyncSchedulerConfig
}

// NewSyncScheduler constructs the scheduler. cleaner may be nil.
func NewSyncScheduler(runner syncRunner, cleaner exportCleaner, logger *zap.Logger, cfg SyncSchedulerConfig) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if !cfg.Action.Valid() || cfg.Action == models.SyncActionStatus {
		cfg.Action = models.SyncActionFullSync
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	s := &SyncScheduler{runner: runner, cleaner: cleaner, logger: logger, cfg: cfg}
	s.queue = jobs.NewQueue("sync-scheduler", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: 64,
		JobTimeout: cfg.RunTimeout,
		Logger:     logger,
	})
	return s
}

// Start boots the workers and the ticker. The first tick fires after one interval.
func (s *SyncScheduler) Start(ctx context.Context) {
	s.queue.Start(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer ticker.Stop()
		var cleanup <-chan time.Time
		if s.cleaner != nil && s.cfg.CleanupInterval > 0 {
			cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
			defer cleanupTicker.Stop()
			cleanup = cleanupTicker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			case <-cleanup:
				s.cleanupExports()
			}
		}
	}()
	s.logger.Sugar().Infow("sync scheduler started", "interval", s.cfg.Interval.String(), "action", s.cfg.Action)
}

// Stop drains the worker pool.
func (s *SyncScheduler) Stop() {
	s.queue.Stop()
}

// Tick enqueues one run per configured system.
func (s *SyncScheduler) Tick() {
	for _, system := range s.runner.Systems() {
		job := jobs.Job{ID: system, Type: string(s.cfg.Action), Enqueued: time.Now().UTC()}
		if err := s.queue.TryEnqueue(job); err != nil {
			s.logger.Sugar().Warnw("scheduled sync skipped", "system", system, "error", err)
		}
	}
}

func (s *SyncScheduler) handle(ctx context.Context, job jobs.Job) error {
	ctx = requestid.WithContext(ctx, "scheduled-"+job.ID+"-"+job.Enqueued.UTC().Format("20060102T150405"))
	_, err := s.runner.Trigger(ctx, models.SystemActor, job.ID, dto.SyncTriggerRequest{Action: models.SyncAction(job.Type)})
	switch {
	case err == nil:
	case errors.Is(err, appErrors.ErrSyncAlreadyRunning):
		s.logger.Sugar().Infow("scheduled sync skipped, run in progress", "system", job.ID)
	default:
		s.logger.Sugar().Warnw("scheduled sync failed", "system", job.ID, "action", job.Type, "error", err)
	}
	return nil
}

func (s *SyncScheduler) cleanupExports() {
	removed, err := s.cleaner.Cleanup()
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup failed", "error", err)
		return
	}
	if len(removed) > 0 {
		s.logger.Sugar().Infow("expired exports removed", "count", len(removed))
	}
}
