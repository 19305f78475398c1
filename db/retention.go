package db

import (
	"context"
	"log/slog"
	"time"
)

// RetentionPolicy bounds how long collection history is kept.
type RetentionPolicy struct {
	// MaxAge: runs that finished longer ago are deleted (0 = disabled)
	MaxAge time.Duration
	// Interval: how often the cleanup runs
	Interval time.Duration
}

// StartRetentionJob prunes old runs immediately and then every policy.Interval until ctx ends.
func StartRetentionJob(ctx context.Context, store *RunStore, policy RetentionPolicy) {
	logger := slog.Default().With(slog.String("component", "run_retention"))
	if policy.MaxAge <= 0 {
		logger.Info("retention job disabled (no max age configured)")
		return
	}
	if policy.Interval <= 0 {
		policy.Interval = 6 * time.Hour
	}
	logger.Info("retention job starting",
		slog.Duration("max_age", policy.MaxAge),
		slog.Duration("interval", policy.Interval))

	prune := func() {
		n, err := store.PruneRuns(ctx, time.Now().Add(-policy.MaxAge))
		if err != nil {
			logger.Warn("retention cleanup failed", slog.Any("err", err))
			return
		}
		if n > 0 {
			logger.Info("pruned collection runs", slog.Int64("deleted", n))
		}
	}

	prune()
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention job stopped")
			return
		case <-ticker.C:
			prune()
		}
	}
}
