package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`

	Mongo struct {
		URI        string `mapstructure:"uri"`
		Database   string `mapstructure:"database"`
		Collection string `mapstructure:"collection"`
	} `mapstructure:"mongo"`

	Postgres struct {
		DSN      string `mapstructure:"dsn"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"postgres"`

	Redis struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Scheduler struct {
		Tolerance    time.Duration `mapstructure:"tolerance"`
		Cooldown     time.Duration `mapstructure:"cooldown"`
		Workers      int           `mapstructure:"workers"`
		Cron         string        `mapstructure:"cron"`
		Timezone     string        `mapstructure:"timezone"`
		LeaseEnabled bool          `mapstructure:"lease_enabled"`
		LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
		LeaseKey     string        `mapstructure:"lease_key"`
		MetricsPort  int           `mapstructure:"metrics_port"`
	} `mapstructure:"scheduler"`

	Mail struct {
		Host          string        `mapstructure:"host"`
		Port          int           `mapstructure:"port"`
		Username      string        `mapstructure:"username"`
		Password      string        `mapstructure:"password"`
		From          string        `mapstructure:"from"`
		TLS           string        `mapstructure:"tls"`
		SubjectPrefix string        `mapstructure:"subject_prefix"`
		RatePerSecond float64       `mapstructure:"rate_per_second"`
		SendTimeout   time.Duration `mapstructure:"send_timeout"`
	} `mapstructure:"mail"`

	API struct {
		Port int    `mapstructure:"port"`
		Key  string `mapstructure:"key"`
	} `mapstructure:"api"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Location returns the display and recurrence time zone. validateConfig has
// already rejected unknown names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfig loads the configuration from file, environment variables, and command-line arguments.
// Order of precedence: defaults < config file < env vars < cmd flags.
func LoadConfig(configPath string, args []string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("storage.driver", DriverMongo)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "scheduler")
	v.SetDefault("mongo.collection", "events")
	v.SetDefault("postgres.dsn", "postgres://localhost:5432/scheduler?sslmode=disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("scheduler.tolerance", time.Minute)
	v.SetDefault("scheduler.cooldown", 2*time.Hour)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.cron", "@every 1m")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.lease_enabled", false)
	v.SetDefault("scheduler.lease_ttl", 5*time.Minute)
	v.SetDefault("scheduler.lease_key", "reminder-scheduler:run-lease")
	v.SetDefault("scheduler.metrics_port", 9090)
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.from", "reminders@localhost")
	v.SetDefault("mail.tls", "opportunistic")
	v.SetDefault("mail.rate_per_second", 5.0)
	v.SetDefault("mail.send_timeout", 10*time.Second)
	v.SetDefault("api.port", 8080)
	v.SetDefault("log.level", "info")

	// Read from config file if present
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("config_path", configPath).Msg("Failed to read config file, relying on defaults, env, and flags")
		}
	}

	// Explicitly bind environment variables
	bindEnvOrPanic(v, "storage.driver", "STORAGE_DRIVER")
	bindEnvOrPanic(v, "mongo.uri", "MONGO_URI")
	bindEnvOrPanic(v, "mongo.database", "MONGO_DATABASE")
	bindEnvOrPanic(v, "mongo.collection", "MONGO_COLLECTION")
	bindEnvOrPanic(v, "postgres.dsn", "POSTGRES_DSN")
	bindEnvOrPanic(v, "postgres.max_conns", "POSTGRES_MAX_CONNS")
	bindEnvOrPanic(v, "redis.host", "REDIS_HOST")
	bindEnvOrPanic(v, "redis.port", "REDIS_PORT")
	bindEnvOrPanic(v, "redis.password", "REDIS_PASSWORD")
	bindEnvOrPanic(v, "redis.db", "REDIS_DB")
	bindEnvOrPanic(v, "scheduler.tolerance", "SCHEDULER_TOLERANCE")
	bindEnvOrPanic(v, "scheduler.cooldown", "SCHEDULER_COOLDOWN")
	bindEnvOrPanic(v, "scheduler.workers", "SCHEDULER_WORKERS")
	bindEnvOrPanic(v, "scheduler.cron", "SCHEDULER_CRON")
	bindEnvOrPanic(v, "scheduler.timezone", "SCHEDULER_TIMEZONE")
	bindEnvOrPanic(v, "scheduler.lease_enabled", "SCHEDULER_LEASE_ENABLED")
	bindEnvOrPanic(v, "scheduler.lease_ttl", "SCHEDULER_LEASE_TTL")
	bindEnvOrPanic(v, "scheduler.lease_key", "SCHEDULER_LEASE_KEY")
	bindEnvOrPanic(v, "scheduler.metrics_port", "SCHEDULER_METRICS_PORT")
	bindEnvOrPanic(v, "mail.host", "MAIL_HOST")
	bindEnvOrPanic(v, "mail.port", "MAIL_PORT")
	bindEnvOrPanic(v, "mail.username", "MAIL_USERNAME")
	bindEnvOrPanic(v, "mail.password", "MAIL_PASSWORD")
	bindEnvOrPanic(v, "mail.from", "MAIL_FROM")
	bindEnvOrPanic(v, "mail.tls", "MAIL_TLS")
	bindEnvOrPanic(v, "mail.subject_prefix", "MAIL_SUBJECT_PREFIX")
	bindEnvOrPanic(v, "mail.rate_per_second", "MAIL_RATE_PER_SECOND")
	bindEnvOrPanic(v, "mail.send_timeout", "MAIL_SEND_TIMEOUT")
	bindEnvOrPanic(v, "api.port", "API_PORT")
	bindEnvOrPanic(v, "api.key", "API_KEY")
	bindEnvOrPanic(v, "log.level", "LOG_LEVEL")

	// Command-line flags only override when explicitly set
	fs := pflag.NewFlagSet("reminder-scheduler", pflag.ContinueOnError)
	fs.String("storage-driver", "", "Override storage driver (mongo or postgres)")
	fs.Duration("tolerance", 0, "Override due-time tolerance")
	fs.Duration("cooldown", 0, "Override notification cooldown")
	fs.Int("workers", 0, "Override number of concurrent event workers")
	fs.String("cron", "", "Override run schedule")
	fs.String("timezone", "", "Override display and recurrence time zone")
	fs.Int("api-port", 0, "Override API port")
	fs.String("log-level", "", "Override log level")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	bindFlagOrPanic(v, "storage.driver", fs, "storage-driver")
	bindFlagOrPanic(v, "scheduler.tolerance", fs, "tolerance")
	bindFlagOrPanic(v, "scheduler.cooldown", fs, "cooldown")
	bindFlagOrPanic(v, "scheduler.workers", fs, "workers")
	bindFlagOrPanic(v, "scheduler.cron", fs, "cron")
	bindFlagOrPanic(v, "scheduler.timezone", fs, "timezone")
	bindFlagOrPanic(v, "api.port", fs, "api-port")
	bindFlagOrPanic(v, "log.level", fs, "log-level")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindEnvOrPanic(v *viper.Viper, key, env string) {
	if err := v.BindEnv(key, env); err != nil {
		log.Fatal().Err(err).Msgf("Failed to bind environment variable %s to key %s", env, key)
	}
}

func bindFlagOrPanic(v *viper.Viper, key string, fs *pflag.FlagSet, name string) {
	if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
		log.Fatal().Err(err).Msgf("Failed to bind flag --%s to key %s", name, key)
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Storage.Driver {
	case DriverMongo:
		if cfg.Mongo.URI == "" {
			log.Warn().Msg("MONGO_URI not provided, using default")
		}
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required when storage driver is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	// Validate scheduler settings
	if cfg.Scheduler.Tolerance <= 0 {
		return fmt.Errorf("scheduler tolerance must be > 0, got %s", cfg.Scheduler.Tolerance)
	}
	if cfg.Scheduler.Cooldown <= 0 {
		return fmt.Errorf("scheduler cooldown must be > 0, got %s", cfg.Scheduler.Cooldown)
	}
	if cfg.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be > 0, got %d", cfg.Scheduler.Workers)
	}
	if _, err := cron.ParseStandard(cfg.Scheduler.Cron); err != nil {
		return fmt.Errorf("invalid scheduler cron %q: %w", cfg.Scheduler.Cron, err)
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	if cfg.Scheduler.LeaseEnabled && cfg.Scheduler.LeaseTTL <= 0 {
		return fmt.Errorf("scheduler lease_ttl must be > 0 when the lease is enabled, got %s", cfg.Scheduler.LeaseTTL)
	}

	// Validate mail settings
	switch cfg.Mail.TLS {
	case "mandatory", "opportunistic", "none":
	default:
		return fmt.Errorf("mail tls must be mandatory, opportunistic or none, got %q", cfg.Mail.TLS)
	}
	if cfg.Mail.From == "" {
		return fmt.Errorf("mail from address is required")
	}
	if cfg.Mail.SendTimeout <= 0 {
		return fmt.Errorf("mail send_timeout must be > 0, got %s", cfg.Mail.SendTimeout)
	}
	if cfg.Mail.RatePerSecond < 0 {
		return fmt.Errorf("mail rate_per_second must be >= 0, got %v", cfg.Mail.RatePerSecond)
	}

	if cfg.API.Key == "" {
		log.Warn().Msg("API_KEY not provided, the action API will reject every request")
	}

	return nil
}
