package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the bot server and the admin CLI.
type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	HTTPAddr         string `env:"HTTP_ADDR,default=:8080"`

	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	DatabaseDSN string `env:"DATABASE_DSN,default=host=localhost user=user password=password dbname=anonchat port=5432 sslmode=disable"`

	JWTSecret   string        `env:"JWT_SECRET"`
	JWTTokenTTL time.Duration `env:"JWT_TOKEN_TTL,default=72h"`

	LogLevel        string `env:"LOG_LEVEL,default=info"`
	LogFormat       string `env:"LOG_FORMAT,default=console"`
	DefaultLanguage string `env:"DEFAULT_LANGUAGE,default=en"`

	InactivityTimeout  time.Duration `env:"INACTIVITY_TIMEOUT,default=30m"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL,default=5m"`
	EmptyRoomTTL       time.Duration `env:"EMPTY_ROOM_TTL,default=1h"`
	StoreRetryAttempts uint64        `env:"STORE_RETRY_ATTEMPTS,default=5"`

	StartReleasesContext bool `env:"START_RELEASES_CONTEXT,default=false"`
	RoomCreatorAutoJoin  bool `env:"ROOM_CREATOR_AUTO_JOIN,default=false"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom is Load with an explicit source of values.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values that would break the engine's timing or retry loops.
func (c Config) Validate() error {
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("INACTIVITY_TIMEOUT must be positive, got %s", c.InactivityTimeout)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	if c.StoreRetryAttempts == 0 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}
