package availability

import (
	"context"
	"log/slog"
	"time"
)

// RunPurgeLoop periodically deletes jobs (and their results) older than
// ttl, running once immediately and then every interval until ctx is
// cancelled.
func RunPurgeLoop(ctx context.Context, store *Store, ttl, interval time.Duration, logger *slog.Logger) {
	logger.Info("availability purge loop started", "ttl", ttl, "interval", interval)

	purgeOnce(ctx, store, ttl, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("availability purge loop stopped")
			return
		case <-ticker.C:
			purgeOnce(ctx, store, ttl, logger)
		}
	}
}

func purgeOnce(ctx context.Context, store *Store, ttl time.Duration, logger *slog.Logger) {
	n, err := store.PurgeExpired(ctx, ttl)
	if err != nil {
		logger.Error("availability purge failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("purged expired availability jobs", "count", n)
	}
}
