package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/foursyz/policyd/internal/jobs"
)

// ExpiredCleaner deletes expired assignments and reports how many were removed.
type ExpiredCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// CleanupExpiredJob runs the periodic assignment cleanup.
type CleanupExpiredJob struct {
	Cleaner ExpiredCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCleanupExpiredJob initialises the cleanup handler.
func NewCleanupExpiredJob(cleaner ExpiredCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupExpiredJob {
	return &CleanupExpiredJob{Cleaner: cleaner, Logger: logger, Metrics: metrics}
}

// Handle executes one cleanup pass.
func (j *CleanupExpiredJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("cleanup expired: handler not configured")
	}
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskCleanupExpired)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	removed, err := j.Cleaner.CleanupExpired(ctx)
	if err != nil {
		logger.Error("cleanup expired assignments", slog.Any("error", err))
		return err
	}
	j.Metrics.AddRemoved(TaskCleanupExpired, removed)
	logger.Info("cleaned expired assignments",
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *CleanupExpiredJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
