package reconciler

import (
	"context"
	"log/slog"
	"time"
)

// Target is implemented by *ruletable.Table.
type Target interface {
	DirtyCount() int
	Reconcile(ctx context.Context) error
}

// Run calls target.Reconcile every interval while rules are dirty, until ctx
// is done.
func Run(ctx context.Context, target Target, interval time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false

	pass := func() {
		dirty := target.DirtyCount()
		if dirty == 0 {
			return
		}

		err := target.Reconcile(ctx)
		switch {
		case err != nil:
			if !failing {
				logger.Warn("Rule store out of sync",
					slog.Int("dirty", dirty),
					slog.Any("error", err))
			}
			failing = true
		case failing:
			logger.Info("Rule store back in sync")
			failing = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopped")
			return nil

		case <-ticker.C:
			pass()
		}
	}
}
