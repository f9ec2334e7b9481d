// Package config loads process configuration from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full process configuration. Each binary reads the parts it needs.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	OriginURL string `env:"ORIGIN_URL" envDefault:"http://localhost:3000"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	ManifestPath       string `env:"MANIFEST_PATH"`
	CacheBackend       string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr          string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	CustomerPathPrefix string `env:"CUSTOMER_PATH_PREFIX" envDefault:"/customer/"`

	PG    PG    `envPrefix:"PG_"`
	Kafka Kafka `envPrefix:"KAFKA_"`

	Feed           string `env:"FEED" envDefault:"memory"`
	RealtimeURL    string `env:"REALTIME_URL"`
	RealtimeAPIKey string `env:"REALTIME_API_KEY"`

	PushRateLimit int           `env:"PUSH_RATE_LIMIT" envDefault:"120"`
	PushRateWin   time.Duration `env:"PUSH_RATE_WINDOW" envDefault:"1m"`
}

// PG holds Postgres connection settings.
type PG struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"wb"`
	Password string `env:"PASSWORD" envDefault:"wb"`
	DB       string `env:"DB" envDefault:"food_orders"`
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
}

// Kafka holds change-feed consumer settings.
type Kafka struct {
	Broker   string `env:"BROKER" envDefault:"localhost:9092"`
	Topic    string `env:"TOPIC" envDefault:"order_changes"`
	GroupID  string `env:"GROUP" envDefault:"order-live"`
	DLQTopic string `env:"DLQ_TOPIC" envDefault:"order_changes_dlq"`
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse reads configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_BACKEND: unsupported value %q", c.CacheBackend)
	}
	switch c.Feed {
	case "memory", "kafka":
	case "realtime":
		if c.RealtimeURL == "" {
			return fmt.Errorf("REALTIME_URL is required when FEED=realtime")
		}
	default:
		return fmt.Errorf("FEED: unsupported value %q", c.Feed)
	}
	if !strings.HasPrefix(c.CustomerPathPrefix, "/") {
		return fmt.Errorf("CUSTOMER_PATH_PREFIX must start with /")
	}
	return nil
}
