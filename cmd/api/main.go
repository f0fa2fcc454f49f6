package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/api"
	"github.com/cankoe/reminder-scheduler/internal/helpers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := helpers.InitializeCommonComponents(ctx, "api")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}
	defer components.CloseAll(context.Background())
	cfg := components.Config

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey:  cfg.API.Key,
		Metrics: promhttp.Handler(),
	}, components.Notifier, components.Repository)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.API.Port).Msg("API server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown error")
	}
	log.Info().Msg("API server stopped")
}
