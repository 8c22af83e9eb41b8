// Package config loads the subscriptions server configuration.
//
// Settings come from a TOML file. Secrets are taken from the environment,
// optionally seeded from a .env file, and command-line flags override both
// in cmd/server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

var (
	ErrConfParamMissing = errors.New("configuration parameter missing")
	ErrConfParamInvalid = errors.New("configuration parameter invalid")
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
)

type Config struct {
	ServiceName string `toml:"serviceName"`
	HTTPAddr    string `toml:"httpAddr"`
	LogLevel    string `toml:"logLevel"`
	// MountPrefix is the path the route table is mounted under, e.g.
	// "/subscriptions". Empty mounts at the root.
	MountPrefix string `toml:"mountPrefix"`
	// Domain is the public base URL used to build checkout redirect URLs.
	Domain   string `toml:"domain"`
	Timezone string `toml:"timezone"`
	Storage  string `toml:"storage"`

	Stripe StripeConfig `toml:"stripe"`
	Kafka  KafkaConfig  `toml:"kafka"`
}

type StripeConfig struct {
	PublishableKey string `toml:"publishableKey"`
	SecretKey      string `toml:"secretKey"`
	WebhookSecret  string `toml:"webhookSecret"`
	PriceID        string `toml:"priceID"`
	APIURL         string `toml:"apiURL"`
}

type KafkaConfig struct {
	Addr       string `toml:"addr"`
	LogTopic   string `toml:"logTopic"`
	EventTopic string `toml:"eventTopic"`
	Batch      int    `toml:"batch"`
}

func Default() *Config {
	return &Config{
		ServiceName: "subscriptions",
		HTTPAddr:    ":8000",
		LogLevel:    "info",
		Domain:      "http://localhost:8000",
		Timezone:    "Local",
		Storage:     StorageMemory,
		Kafka: KafkaConfig{
			LogTopic:   "logs",
			EventTopic: "billing-events",
			Batch:      1,
		},
	}
}

// Load reads the TOML file at path on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables of a .env file that are not already set.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Debugf("[config] env file %s not found, using process environment", path)
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) applyEnv() error {
	c.Stripe.PublishableKey = cast.ToString(coalesce("STRIPE_PUBLISHABLE_KEY", c.Stripe.PublishableKey))
	c.Stripe.SecretKey = cast.ToString(coalesce("STRIPE_SECRET_KEY", c.Stripe.SecretKey))
	c.Stripe.WebhookSecret = cast.ToString(coalesce("STRIPE_ENDPOINT_SECRET", c.Stripe.WebhookSecret))
	c.Stripe.PriceID = cast.ToString(coalesce("STRIPE_PRICE_ID", c.Stripe.PriceID))
	c.Domain = cast.ToString(coalesce("DOMAIN_URL", c.Domain))
	c.Kafka.Addr = cast.ToString(coalesce("KAFKA_ADDR", c.Kafka.Addr))

	batch, err := cast.ToIntE(coalesce("KAFKA_BATCH", c.Kafka.Batch))
	if err != nil {
		return fmt.Errorf("%w: KAFKA_BATCH: %v", ErrConfParamInvalid, err)
	}
	c.Kafka.Batch = batch

	return nil
}

// Validate reports the first missing or malformed parameter.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"serviceName", c.ServiceName},
		{"httpAddr", c.HTTPAddr},
		{"domain", c.Domain},
		{"STRIPE_PUBLISHABLE_KEY", c.Stripe.PublishableKey},
		{"STRIPE_SECRET_KEY", c.Stripe.SecretKey},
		{"STRIPE_ENDPOINT_SECRET", c.Stripe.WebhookSecret},
		{"STRIPE_PRICE_ID", c.Stripe.PriceID},
	}
	for _, p := range required {
		if p.value == "" {
			return fmt.Errorf("%w: %s", ErrConfParamMissing, p.name)
		}
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: logLevel: %v", ErrConfParamInvalid, err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %v", ErrConfParamInvalid, err)
	}
	switch c.Storage {
	case StorageMemory, StoragePostgres, StorageMongo:
	default:
		return fmt.Errorf("%w: storage %q", ErrConfParamInvalid, c.Storage)
	}
	if c.Kafka.Addr != "" && c.Kafka.EventTopic == "" && c.Kafka.LogTopic == "" {
		return fmt.Errorf("%w: kafka topics", ErrConfParamMissing)
	}

	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Location returns the zone timestamps are displayed in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// BaseURL joins Domain and MountPrefix without a trailing slash.
func (c *Config) BaseURL() string {
	base := strings.TrimRight(c.Domain, "/")
	if prefix := strings.Trim(c.MountPrefix, "/"); prefix != "" {
		base += "/" + prefix
	}
	return base
}

func (c Config) String() string {
	c.Stripe.SecretKey = mask(c.Stripe.SecretKey)
	c.Stripe.WebhookSecret = mask(c.Stripe.WebhookSecret)

	return fmt.Sprintf("%#v", c)
}

func mask(s string) string {
	return strings.Repeat("*", len([]rune(s)))
}

func coalesce(key string, value interface{}) interface{} {
	val, exist := os.LookupEnv(key)
	if exist {
		return val
	}
	return value
}
