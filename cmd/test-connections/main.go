package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/database"
	"github.com/cankoe/reminder-scheduler/internal/helpers"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := helpers.LoadConfig("test-connections")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	failed := false

	// Storage backend
	components, err := helpers.OpenRepository(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Storage.Driver).Msg("Storage connection failed")
		failed = true
	} else {
		log.Info().Str("driver", cfg.Storage.Driver).Msg("Storage connected successfully!")
		defer components.CloseAll(context.Background())
	}

	// Redis (run lease)
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		if cfg.Scheduler.LeaseEnabled {
			failed = true
		}
		log.Warn().Err(err).Bool("lease_enabled", cfg.Scheduler.LeaseEnabled).Msg("Redis connection failed")
	} else {
		log.Info().Msg("Redis connected successfully!")
		defer redisClient.Close()
	}

	// SMTP relay
	if err := helpers.NewMailer(cfg).Ping(ctx); err != nil {
		log.Error().Err(err).Str("host", cfg.Mail.Host).Msg("SMTP connection failed")
		failed = true
	} else {
		log.Info().Str("host", cfg.Mail.Host).Msg("SMTP connected successfully!")
	}

	if failed {
		os.Exit(1)
	}
}
