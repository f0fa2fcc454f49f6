package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/helpers"
	"github.com/cankoe/reminder-scheduler/internal/lease"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := helpers.InitializeCommonComponents(ctx, "notifier")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	var locker helpers.Locker
	if components.RedisClient != nil {
		locker = lease.NewRedisLease(components.RedisClient, cfg.Scheduler.LeaseKey, cfg.Scheduler.LeaseTTL)
		log.Info().Dur("ttl", cfg.Scheduler.LeaseTTL).Msg("Run lease enabled")
	}

	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)
	if _, err := c.AddFunc(cfg.Scheduler.Cron, helpers.ScheduledRun(ctx, components.Notifier, locker)); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.Scheduler.Cron).Msg("Invalid run schedule")
	}

	var metricsServer *http.Server
	if cfg.Scheduler.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Scheduler.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	c.Start()
	log.Info().Str("cron", cfg.Scheduler.Cron).Str("timezone", cfg.Scheduler.Timezone).Msg("Notifier started")

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received, waiting for the current run")

	// Stop returns a context that is done once running jobs finish.
	<-c.Stop().Done()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
	}
	log.Info().Msg("Notifier stopped")
}

// cronLogger routes robfig/cron logs through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
