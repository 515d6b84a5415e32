package config

import (
	"fmt"

	pkgconfig "github.com/velocore/cart-service/pkg/config"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Redis (cart snapshot persistence)
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart snapshot TTL in hours (default: 7 days)
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"168"`

	// ClampPolicy decides what happens when a quantity change would exceed
	// the recorded stock: "clamp" silently caps it (storefront default),
	// "reject" returns an error.
	ClampPolicy string `env:"CART_CLAMP_POLICY" envDefault:"clamp"`

	// StoreIdleMinutes controls how long an in-memory cart store may sit
	// unused before it is flushed and evicted.
	StoreIdleMinutes int `env:"CART_STORE_IDLE_MINUTES" envDefault:"30"`

	// Account API (authenticated add-to-cart mirror and order creation)
	AccountAPIURL string `env:"ACCOUNT_API_URL" envDefault:"http://localhost:5000"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tracing
	TracingEnabled  bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint    string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TraceSampleRate float64 `env:"TRACE_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.ClampPolicy != "clamp" && c.ClampPolicy != "reject" {
		return fmt.Errorf("invalid clamp policy: %q (want clamp or reject)", c.ClampPolicy)
	}
	if c.CartTTL < 1 {
		return fmt.Errorf("invalid cart TTL: %d hours", c.CartTTL)
	}
	if c.StoreIdleMinutes < 1 {
		return fmt.Errorf("invalid store idle minutes: %d", c.StoreIdleMinutes)
	}
	return nil
}
