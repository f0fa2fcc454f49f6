package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// NewPostgresPool opens a pool and fails fast if the database is unreachable.
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid Postgres DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Postgres")
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		log.Error().Err(err).Msg("Failed to ping Postgres")
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	log.Info().Str("host", cfg.ConnConfig.Host).Msg("Successfully connected and pinged Postgres")
	return pool, nil
}
