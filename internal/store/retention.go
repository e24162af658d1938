package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often the retention worker sweeps.
const DefaultRetentionInterval = 1 * time.Hour

// CleanupCallback is called after a sweep with the number of removed rows.
type CleanupCallback func(syncsDeleted, visitorsDeleted int64)

// StartRetentionWorker runs a background goroutine that periodically purges
// audit rows and visitors older than retention. A zero retention disables it.
func StartRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration, onCleanup CleanupCallback) {
	if retention <= 0 {
		slog.Info("Retention worker disabled")
		return
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "retention", retention)

		purgeExpired(ctx, repo, retention, time.Now(), onCleanup)
		for {
			select {
			case <-ticker.C:
				purgeExpired(ctx, repo, retention, time.Now(), onCleanup)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func purgeExpired(ctx context.Context, repo Repository, retention time.Duration, now time.Time, onCleanup CleanupCallback) {
	threshold := now.Add(-retention)

	syncs, err := repo.PurgeSyncsBefore(ctx, threshold)
	if err != nil {
		slog.Error("Retention worker failed to purge lead syncs", "error", err)
	}

	visitors, err := repo.PurgeVisitorsBefore(ctx, threshold)
	if err != nil {
		slog.Error("Retention worker failed to purge visitors", "error", err)
	}

	if syncs > 0 || visitors > 0 {
		slog.Info("Retention worker cleanup completed", "lead_syncs", syncs, "visitors", visitors)
	}
	if onCleanup != nil {
		onCleanup(syncs, visitors)
	}
}
