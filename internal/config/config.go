// Package config loads process configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	JobStoreMemory = "memory"
	JobStoreRedis  = "redis"
)

type Config struct {
	Env           string        `env:"APP_ENV" envDefault:"dev"`
	Port          int           `env:"PORT" envDefault:"8080"`
	JWTSecret     string        `env:"JWT_SECRET"`
	OTelEndpoint  string        `env:"OTEL_ENDPOINT"`
	LogFile       string        `env:"LOG_FILE"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"15s"`
	MaxBodyBytes  int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	DBURL         string        `env:"DB_URL"`
	DBMaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"5"`
	Redis         RedisConfig   `envPrefix:"REDIS_"`
	Jobs          JobsConfig
	Limits        LimitsConfig
	Notifications NotificationsConfig
}

type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type JobsConfig struct {
	Store            string        `env:"JOB_STORE"`
	TTL              time.Duration `env:"JOB_TTL" envDefault:"24h"`
	RemoteCacheTTL   time.Duration `env:"JOB_REMOTE_CACHE_TTL" envDefault:"2s"`
	PruneSchedule    string        `env:"JOB_PRUNE_SCHEDULE" envDefault:"@every 10m"`
	UnitTimeout      time.Duration `env:"UNIT_TIMEOUT" envDefault:"30s"`
	EmailPerMinute   int           `env:"BULK_EMAIL_RATE_PER_MINUTE" envDefault:"60"`
	EmailMinGap      time.Duration `env:"BULK_EMAIL_MIN_INTERVAL" envDefault:"250ms"`
	CheckpointPerMin int           `env:"BULK_CHECKPOINT_RATE_PER_MINUTE" envDefault:"0"`
	CheckpointMinGap time.Duration `env:"BULK_CHECKPOINT_MIN_INTERVAL" envDefault:"0"`
}

type LimitsConfig struct {
	BulkEmail            int           `env:"BULK_EMAIL_LIMIT" envDefault:"1"`
	BulkEmailWindow      time.Duration `env:"BULK_EMAIL_WINDOW" envDefault:"60s"`
	BulkCheckpoint       int           `env:"BULK_CHECKPOINT_LIMIT" envDefault:"5"`
	BulkCheckpointWindow time.Duration `env:"BULK_CHECKPOINT_WINDOW" envDefault:"60s"`
	ScanPerSecond        float64       `env:"SCAN_RATE_PER_SEC" envDefault:"10"`
	ScanBurst            int           `env:"SCAN_BURST" envDefault:"20"`
}

type NotificationsConfig struct {
	MailerTimeout  time.Duration `env:"MAILER_TIMEOUT" envDefault:"10s"`
	TelegramToken  string        `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64         `env:"TELEGRAM_CHAT_ID"`
}

// Load reads .env (best effort) and the environment, then sanitizes.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.Sanitize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Sanitize clamps values into workable ranges and fills derived defaults.
func (c *Config) Sanitize() {
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 8080
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 5
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}

	if c.Jobs.Store == "" {
		c.Jobs.Store = JobStoreMemory
		if c.Redis.Addr != "" {
			c.Jobs.Store = JobStoreRedis
		}
	}
	if c.Jobs.TTL <= 0 {
		c.Jobs.TTL = 24 * time.Hour
	}
	if c.Jobs.RemoteCacheTTL <= 0 {
		c.Jobs.RemoteCacheTTL = 2 * time.Second
	}
	if c.Jobs.PruneSchedule == "" {
		c.Jobs.PruneSchedule = "@every 10m"
	}
	if c.Jobs.UnitTimeout <= 0 {
		c.Jobs.UnitTimeout = 30 * time.Second
	}
	if c.Jobs.EmailPerMinute < 0 {
		c.Jobs.EmailPerMinute = 0
	}
	if c.Jobs.CheckpointPerMin < 0 {
		c.Jobs.CheckpointPerMin = 0
	}
	if c.Jobs.EmailMinGap < 0 {
		c.Jobs.EmailMinGap = 0
	}
	if c.Jobs.CheckpointMinGap < 0 {
		c.Jobs.CheckpointMinGap = 0
	}

	if c.Limits.BulkEmail < 1 {
		c.Limits.BulkEmail = 1
	}
	if c.Limits.BulkEmailWindow <= 0 {
		c.Limits.BulkEmailWindow = time.Minute
	}
	if c.Limits.BulkCheckpoint < 1 {
		c.Limits.BulkCheckpoint = 1
	}
	if c.Limits.BulkCheckpointWindow <= 0 {
		c.Limits.BulkCheckpointWindow = time.Minute
	}
	if c.Limits.ScanPerSecond <= 0 {
		c.Limits.ScanPerSecond = 10
	}
	if c.Limits.ScanBurst < 1 {
		c.Limits.ScanBurst = 1
	}

	if c.Notifications.MailerTimeout <= 0 {
		c.Notifications.MailerTimeout = 10 * time.Second
	}
}

// Validate rejects combinations the process cannot start with.
func (c Config) Validate() error {
	switch c.Jobs.Store {
	case JobStoreMemory:
	case JobStoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("JOB_STORE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.Jobs.Store)
	}

	if c.JWTSecret == "" && !c.IsDev() {
		return errors.New("JWT_SECRET is required outside dev")
	}

	return nil
}

func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// MaxLimiterWindow is the longest window any admin limit uses. The limiter
// sweep keeps history this long.
func (c Config) MaxLimiterWindow() time.Duration {
	return max(c.Limits.BulkEmailWindow, c.Limits.BulkCheckpointWindow)
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}
