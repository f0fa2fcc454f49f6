package helpers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cankoe/reminder-scheduler/internal/config"
	"github.com/cankoe/reminder-scheduler/internal/database"
	"github.com/cankoe/reminder-scheduler/internal/dispatcher"
	"github.com/cankoe/reminder-scheduler/internal/events"
	"github.com/cankoe/reminder-scheduler/internal/mail"
	"github.com/cankoe/reminder-scheduler/internal/metrics"
	"github.com/cankoe/reminder-scheduler/internal/notifier"
)

const DefaultConfigPath = "config/config.yaml"

// Repository is an event store that can also report its connectivity.
type Repository interface {
	notifier.Repository
	Ping(ctx context.Context) error
}

type AppComponents struct {
	Config      *config.Config
	Repository  Repository
	Mailer      *mail.SMTPTransport
	Notifier    *notifier.Service
	RedisClient *redis.Client // nil unless the run lease is enabled

	mongoClient *mongo.Client
	pgPool      *pgxpool.Pool
}

// LoadConfig reads the shared config file and command-line overrides and
// applies the configured log level.
func LoadConfig(serviceName string) (*config.Config, error) {
	cfg, err := config.LoadConfig(DefaultConfigPath, os.Args[1:])
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		log.Warn().Msgf("Invalid log level '%s', defaulting to info", cfg.Log.Level)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	log.Info().Msgf("Starting %s service with log level %s...", serviceName, level.String())
	return cfg, nil
}

func InitializeCommonComponents(ctx context.Context, serviceName string) (*AppComponents, error) {
	cfg, err := LoadConfig(serviceName)
	if err != nil {
		return nil, err
	}

	c := &AppComponents{Config: cfg}
	if err := c.openRepository(ctx); err != nil {
		c.CloseAll(context.Background())
		return nil, err
	}

	if cfg.Scheduler.LeaseEnabled {
		c.RedisClient, err = database.NewRedisClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			c.CloseAll(context.Background())
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}

	sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	c.Mailer = NewMailer(cfg)
	d := dispatcher.New(dispatcher.Config{
		Location:      cfg.Location(),
		SendTimeout:   cfg.Mail.SendTimeout,
		RatePerSecond: cfg.Mail.RatePerSecond,
		SubjectPrefix: cfg.Mail.SubjectPrefix,
	}, c.Mailer).WithMetrics(sink)

	c.Notifier = notifier.New(notifier.Config{
		Tolerance: cfg.Scheduler.Tolerance,
		Cooldown:  cfg.Scheduler.Cooldown,
		Workers:   cfg.Scheduler.Workers,
		Location:  cfg.Location(),
	}, c.Repository, d).WithMetrics(sink)

	return c, nil
}

// OpenRepository connects the configured storage backend and prepares its
// indexes or schema.
func OpenRepository(ctx context.Context, cfg *config.Config) (*AppComponents, error) {
	c := &AppComponents{Config: cfg}
	if err := c.openRepository(ctx); err != nil {
		c.CloseAll(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *AppComponents) openRepository(ctx context.Context) error {
	cfg := c.Config
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		c.pgPool = pool
		repo := events.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		c.Repository = repo
	default:
		client, err := database.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		c.mongoClient = client
		repo := events.NewMongoRepository(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		c.Repository = repo
	}
	log.Info().Str("driver", cfg.Storage.Driver).Msg("Event repository ready")
	return nil
}

func NewMailer(cfg *config.Config) *mail.SMTPTransport {
	return mail.NewSMTPTransport(mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		TLS:      cfg.Mail.TLS,
	})
}

func (c *AppComponents) CloseAll(ctx context.Context) {
	if c.mongoClient != nil {
		if err := c.mongoClient.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect MongoDB client")
		}
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
}
