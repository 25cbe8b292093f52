package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/obslog"
)

// RunSweeper finalizes flag-falls for rooms with live members every
// interval until ctx is done. A non-positive interval disables it, leaving
// timeouts to be detected when the next move arrives.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		obslog.L().Info("live_sweeper_disabled")
		return
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	obslog.L().Info("live_sweeper_started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("live_sweeper_stopped")
			return
		case <-ticker.Chan():
			if n := c.Sweep(ctx); n > 0 {
				obslog.L().Info("live_sweep", zap.Int("timeouts", n))
			}
		}
	}
}
