package services

import (
	"context"
	"log/slog"
	"time"

	"rosina/internal/infrastructure"
)

// ClaimSweeper periodically deletes expired claim tokens. The claim table
// only ever needs live tokens; spent and expired rows are audit noise.
type ClaimSweeper struct {
	claims   ClaimTokenStore
	interval time.Duration
	logger   *slog.Logger
}

// NewClaimSweeper creates a sweeper that runs every interval.
func NewClaimSweeper(claims ClaimTokenStore, interval time.Duration, logger *slog.Logger) *ClaimSweeper {
	return &ClaimSweeper{claims: claims, interval: interval, logger: infrastructure.WithComponent(logger, "claim_sweeper")}
}

// Run blocks until ctx is cancelled, sweeping on each tick. Sweep errors
// are logged and the loop continues; the next tick retries.
func (s *ClaimSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// Each sweep gets its own trace id so log lines correlate.
			tickCtx := infrastructure.EnsureTraceID(ctx)
			n, err := s.claims.DeleteExpiredClaimTokens(tickCtx, time.Now())
			if err != nil {
				s.logger.ErrorContext(tickCtx, "claim token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.InfoContext(tickCtx, "swept expired claim tokens", "deleted", n)
			}
		}
	}
}
