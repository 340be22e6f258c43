package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"

	FanoutNone  = "none"
	FanoutRedis = "redis"
	FanoutNATS  = "nats"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreMode   string `env:"STORE_MODE" default:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" default:"data/volleyball.db"`
	RedisURL    string `env:"REDIS_URL"`
	SeedFile    string `env:"SEED_FILE"`

	FanoutMode string `env:"FANOUT_MODE" default:"none"`
	NATSURL    string `env:"NATS_URL"`

	MaxClientsPerMatch int           `env:"MAX_CLIENTS_PER_MATCH" default:"500"`
	ActorIdleTimeout   time.Duration `env:"ACTOR_IDLE_TIMEOUT" default:"5m"`
	CommandRateLimit   float64       `env:"COMMAND_RATE_LIMIT" default:"20"`
	CommandRateBurst   int           `env:"COMMAND_RATE_BURST" default:"40"`
	AllowedOrigins     string        `env:"ALLOWED_ORIGINS"`
}

// Origins splits AllowedOrigins on commas.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
}

func validate(cfg *Config) error {
	storeModes := []string{StoreMemory, StorePostgres, StoreSQLite, StoreRedis}
	if !slices.Contains(storeModes, cfg.StoreMode) {
		return fmt.Errorf("STORE_MODE must be one of %s, got %q", strings.Join(storeModes, ", "), cfg.StoreMode)
	}

	fanoutModes := []string{FanoutNone, FanoutRedis, FanoutNATS}
	if !slices.Contains(fanoutModes, cfg.FanoutMode) {
		return fmt.Errorf("FANOUT_MODE must be one of %s, got %q", strings.Join(fanoutModes, ", "), cfg.FanoutMode)
	}

	required := map[string]string{}
	switch cfg.StoreMode {
	case StorePostgres:
		required["DATABASE_URL"] = cfg.DatabaseURL
	case StoreSQLite:
		required["SQLITE_PATH"] = cfg.SQLitePath
	case StoreRedis:
		required["REDIS_URL"] = cfg.RedisURL
	}
	switch cfg.FanoutMode {
	case FanoutRedis:
		required["REDIS_URL"] = cfg.RedisURL
	case FanoutNATS:
		required["NATS_URL"] = cfg.NATSURL
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.MaxClientsPerMatch < 1 {
		return fmt.Errorf("MAX_CLIENTS_PER_MATCH must be positive, got %d", cfg.MaxClientsPerMatch)
	}
	if cfg.ActorIdleTimeout <= 0 {
		return fmt.Errorf("ACTOR_IDLE_TIMEOUT must be positive, got %s", cfg.ActorIdleTimeout)
	}
	if cfg.CommandRateLimit <= 0 || cfg.CommandRateBurst < 1 {
		return fmt.Errorf("COMMAND_RATE_LIMIT and COMMAND_RATE_BURST must be positive")
	}

	return nil
}

// Spectator configures the command-line viewer.
type Spectator struct {
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	BaseURL              string        `env:"SPECTATOR_BASE_URL" default:"http://localhost:8080"`
	MatchID              int           `env:"SPECTATOR_MATCH_ID"`
	SetNumber            int           `env:"SPECTATOR_SET_NUMBER"`
	MaxReconnectAttempts int           `env:"SPECTATOR_MAX_RECONNECT_ATTEMPTS" default:"10"`
	PollInterval         time.Duration `env:"SPECTATOR_POLL_INTERVAL" default:"15s"`
	Push                 bool          `env:"SPECTATOR_PUSH" default:"true"`
}

func LoadSpectator() (*Spectator, error) {
	loadDotEnv()

	var cfg Spectator
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.MatchID <= 0 {
		return nil, fmt.Errorf("SPECTATOR_MATCH_ID must be a positive integer")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SPECTATOR_POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}

	return &cfg, nil
}
