package match

import (
	"context"
	"log/slog"
	"time"

	"github.com/peermock/peermock/internal/store"
)

const sweepInterval = time.Minute

// StartQueueSweeper runs a background goroutine that periodically flips
// stale online availability entries back to offline. Entries go stale when
// a client vanishes without leaving the queue; without the sweep they would
// keep attracting doomed match attempts.
func StartQueueSweeper(ctx context.Context, repo store.Repository, ttl time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Queue sweeper started", "interval", sweepInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				released, err := repo.ReleaseStaleAvailability(ctx, ttl)
				if err != nil {
					slog.Error("Queue sweep failed", "error", err)
					continue
				}
				if released > 0 {
					slog.Info("Queue sweep released stale entries", "count", released)
				}
			case <-ctx.Done():
				slog.Info("Queue sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
