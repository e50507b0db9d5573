package storage

import (
	"context"
	"fmt"

	"github.com/support-tools/resolution-leaderboard/internal/config"
)

// NewFromConfig opens the configured ledger backend. It returns nil when no
// ledger is configured.
func NewFromConfig(ctx context.Context, cfg *config.Config) (StorageInterface, error) {
	switch cfg.LedgerBackend {
	case config.LedgerAzure:
		azure, err := NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, err
		}
		return azure, nil
	case config.LedgerRedis:
		redis, err := NewRedisStorage(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		return redis, nil
	case config.LedgerNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
