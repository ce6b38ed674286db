package journal

import (
	"context"
	"time"
)

// Logger defines the logging interface used by the pruner.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// RunPruner deletes entries older than retention every interval until ctx
// is done. It prunes once immediately.
func RunPruner(ctx context.Context, repo Repository, retention, interval time.Duration, log Logger) {
	prune := func() {
		n, err := repo.Prune(ctx, time.Now().Add(-retention))
		switch {
		case err != nil:
			log.Error("journal prune failed", "error", err)
		case n > 0:
			log.Info("journal pruned", "deleted", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
