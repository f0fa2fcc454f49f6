package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

// Notifier is the orchestrator surface the HTTP layer triggers.
type Notifier interface {
	Now() time.Time
	RunOnce(ctx context.Context, now time.Time) (notifier.RunSummary, error)
	NotifyNow(ctx context.Context, eventID string) (notifier.EventResult, error)
	TestNotify(ctx context.Context, eventID, address string) (notifier.EventResult, error)
	Status(ctx context.Context, eventID string) (notifier.Status, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	APIKey  string
	Metrics http.Handler // optional
}

// NewRouter wires public endpoints and the authenticated notification API.
func NewRouter(cfg RouterConfig, n Notifier, storage Pinger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", readyHandler(storage))
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	apiGroup := r.Group("/api", APIKeyMiddleware(cfg.APIKey))
	{
		apiGroup.POST("/notifications", notificationsHandler(n))
		apiGroup.GET("/events/:id/notification-status", notificationStatusHandler(n))
	}
	return r
}

func readyHandler(storage Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := storage.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("route", "GET /ready").Msg("Storage not reachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("HTTP request")
	}
}
