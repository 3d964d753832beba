package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/pkg/jobs"
)

// NotificationSink is the delivery backend for notifications. The real
// transport (email, push) lives outside this service.
type NotificationSink interface {
	Send(ctx context.Context, notification models.Notification) error
}

// LogSink writes notifications to the application log. Used as the default
// backend in development and as a fallback when no transport is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Send logs the notification.
func (s *LogSink) Send(_ context.Context, n models.Notification) error {
	s.logger.Info("notification",
		zap.String("recipient", n.Recipient),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}

// NotificationService dispatches notifications through a background worker
// queue. Dispatch is fire-and-forget: enqueue failures and delivery failures
// are logged and counted, never propagated to the caller.
type NotificationService struct {
	queue   *jobs.Queue
	sink    NotificationSink
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NotificationConfig tunes the dispatch queue.
type NotificationConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NewNotificationService constructs the dispatcher around the provided sink.
func NewNotificationService(sink NotificationSink, metrics *MetricsService, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewLogSink(logger)
	}

	s := &NotificationService{
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		enabled: cfg.Enabled,
	}

	s.queue = jobs.NewQueue("notifications", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})

	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the dispatch workers.
func (s *NotificationService) Stop() {
	if !s.enabled {
		return
	}
	s.queue.Stop()
}

// Notify enqueues a notification for background delivery.
func (s *NotificationService) Notify(_ context.Context, recipientName, title, message string) error {
	if !s.enabled {
		return nil
	}
	job := jobs.Job{
		ID:   uuid.NewString(),
		Type: "notification",
		Payload: models.Notification{
			Recipient: recipientName,
			Title:     title,
			Message:   message,
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(false)
		s.logger.Warn("failed to enqueue notification", zap.String("recipient", recipientName), zap.Error(err))
		return err
	}
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	notification, ok := job.Payload.(models.Notification)
	if !ok {
		s.metrics.RecordNotification(false)
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}
	if err := s.sink.Send(ctx, notification); err != nil {
		s.metrics.RecordNotification(false)
		return err
	}
	s.metrics.RecordNotification(true)
	return nil
}
