package core

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunTokenJanitor deletes expired refresh tokens every interval until ctx
// is done. Expired tokens already fail verification; this only keeps the
// session sets from growing.
func RunTokenJanitor(ctx context.Context, repo Repository, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			PurgeExpiredTokens(ctx, repo, logger)
		}
	}
}

// PurgeExpiredTokens runs one janitor pass.
func PurgeExpiredTokens(ctx context.Context, repo Repository, logger *zap.Logger) {
	count, err := repo.DeleteExpiredRefreshTokens(ctx)
	if err != nil {
		logger.Error("failed to delete expired refresh tokens", zap.Error(err))
		return
	}
	if count > 0 {
		logger.Info("expired refresh tokens deleted", zap.Int64("count", count))
	}
}
