package sweep

import (
	"context"
	"time"
)

// Run sweeps once immediately and then every interval until ctx is done.
// Each run is bounded by timeout.
func (e *Engine) Run(ctx context.Context, interval, timeout time.Duration) {
	e.runOnce(ctx, timeout)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("sweep loop stopped")
			return
		case <-ticker.C:
			e.runOnce(ctx, timeout)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if _, err := e.RunStartupSweep(runCtx); err != nil {
		e.log.Error().Err(err).Dur("took", time.Since(start)).Msg("sweep run had failures")
		return
	}
	e.log.Debug().Dur("took", time.Since(start)).Msg("sweep run complete")
}
