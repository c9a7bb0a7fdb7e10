package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/immigration-dms-api/internal/models"
	"github.com/noah-isme/immigration-dms-api/pkg/jobs"
)

// NotificationSink delivers notification envelopes to one channel.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, msg models.NotificationMessage) error
}

// LogNotificationSink writes notifications to the structured log.
type LogNotificationSink struct {
	logger *zap.Logger
}

// NewLogNotificationSink constructs the sink.
func NewLogNotificationSink(logger *zap.Logger) *LogNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSink{logger: logger}
}

// Name identifies the sink in metrics.
func (s *LogNotificationSink) Name() string { return "log" }

// Deliver logs msg.
func (s *LogNotificationSink) Deliver(_ context.Context, msg models.NotificationMessage) error {
	s.logger.Info("notification", zap.String("id", msg.ID), zap.String("kind", msg.Kind), zap.Any("payload", msg.Payload))
	return nil
}

// NotificationDispatcherConfig tunes delivery.
type NotificationDispatcherConfig struct {
	Workers         int
	BufferSize      int
	MaxRetries      int
	RetryInterval   time.Duration
	DeliveryTimeout time.Duration
}

// NotificationDispatcher fans events out to sinks on a worker pool. Publishing
// never blocks the caller and never reports delivery failures back to it.
type NotificationDispatcher struct {
	queue   *jobs.Queue
	sinks   []NotificationSink
	metrics *MetricsService
	logger  *zap.Logger
	cfg     NotificationDispatcherConfig
}

// NewNotificationDispatcher constructs the dispatcher. Call Start before publishing.
func NewNotificationDispatcher(sinks []NotificationSink, metrics *MetricsService, logger *zap.Logger, cfg NotificationDispatcherConfig) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	d := &NotificationDispatcher{
		sinks:   sinks,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
	d.queue = jobs.NewQueue("notifications", d.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		JobTimeout: time.Duration(cfg.MaxRetries+1) * cfg.DeliveryTimeout * time.Duration(len(sinks)+1),
		Logger:     logger,
	})
	return d
}

// Start launches the delivery workers.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.queue.Start(ctx)
}

// Stop drains nothing; pending notifications are dropped.
func (d *NotificationDispatcher) Stop() {
	if d == nil {
		return
	}
	d.queue.Stop()
}

// PublishStatusChange enqueues a status change notification.
func (d *NotificationDispatcher) PublishStatusChange(_ context.Context, evt models.StatusChangeEvent) {
	d.publish(models.NotificationStatusChange, evt)
}

// PublishSyncFailure enqueues a sync failure notification.
func (d *NotificationDispatcher) PublishSyncFailure(_ context.Context, evt models.SyncFailureEvent) {
	d.publish(models.NotificationSyncFailure, evt)
}

func (d *NotificationDispatcher) publish(kind string, payload interface{}) {
	if d == nil {
		return
	}
	msg := models.NotificationMessage{ID: uuid.NewString(), Kind: kind, Payload: payload}
	err := d.queue.TryEnqueue(jobs.Job{ID: msg.ID, Type: kind, Payload: msg})
	if err == nil {
		return
	}
	d.metrics.ObserveNotification(kind, "queue", err)
	if errors.Is(err, jobs.ErrQueueFull) {
		d.logger.Warn("notification dropped, queue full", zap.String("kind", kind), zap.String("id", msg.ID))
		return
	}
	d.logger.Warn("notification dropped", zap.String("kind", kind), zap.String("id", msg.ID), zap.Error(err))
}

func (d *NotificationDispatcher) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(models.NotificationMessage)
	if !ok {
		d.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	for _, sink := range d.sinks {
		err := d.deliver(ctx, sink, msg)
		d.metrics.ObserveNotification(msg.Kind, sink.Name(), err)
		if err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("kind", msg.Kind),
				zap.String("id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (d *NotificationDispatcher) deliver(ctx context.Context, sink NotificationSink, msg models.NotificationMessage) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.RetryInterval), uint64(d.cfg.MaxRetries)),
		ctx,
	)
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
		return sink.Deliver(callCtx, msg)
	}, policy)
}
