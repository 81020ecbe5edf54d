package goIdentity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepExpired deletes reset-token records that expired or were consumed
// more than Config.ResetToken.Retention ago and reports how many went.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	cutoff := e.now().Add(-e.config.ResetToken.Retention)
	n, err := e.tokens.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		return 0, mapStoreError(err)
	}
	if n > 0 {
		if e.metrics != nil {
			e.metrics.Add(MetricSweepDeleted, uint64(n))
		}
		e.emitAudit(ctx, auditEventResetTokensSwept, true, "", "", "", nil, func() map[string]string {
			return map[string]string{"deleted": fmt.Sprint(n)}
		})
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. Sweep
// failures are logged and retried on the next tick.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be > 0")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := e.SweepExpired(ctx)
			if err != nil {
				e.logger.WarnContext(ctx, "reset token sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "reset tokens swept", slog.Int("deleted", n))
			}
		}
	}
}
