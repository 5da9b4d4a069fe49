package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/novoin/novoin_wallet/internal/config"
)

// Backends holds the optional external stores. Either may be nil in development.
type Backends struct {
	DB    *pgxpool.Pool
	Cache *redis.Client
}

// Open connects to every configured backend. Outside development both are required.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	b := &Backends{}
	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
	} else if !cfg.IsDev() {
		return nil, fmt.Errorf("database is required when APP_ENV=%s", cfg.AppEnv)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close(logger)
			return nil, err
		}
		b.Cache = cache
	} else if !cfg.IsDev() {
		b.Close(logger)
		return nil, fmt.Errorf("redis is required when APP_ENV=%s", cfg.AppEnv)
	} else {
		logger.Warn("REDIS_URL not set, reconciliation and idempotent replay disabled")
	}
	return b, nil
}

// Close releases every open backend.
func (b *Backends) Close(logger *slog.Logger) {
	if b.DB != nil {
		b.DB.Close()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
}
