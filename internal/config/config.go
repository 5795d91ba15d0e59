// Package config loads graphcore settings from an optional YAML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Addr          string              `yaml:"addr"`
	Snapshot      string              `yaml:"snapshot"`
	SaveInterval  time.Duration       `yaml:"save_interval"`
	Log           LogConfig           `yaml:"log"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Neo4j         Neo4jConfig         `yaml:"neo4j"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SubscriptionsConfig tunes event delivery.
type SubscriptionsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Buffer    int           `yaml:"buffer"`
	Retries   int           `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
}

// Neo4jConfig is the export target.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:     ":8080",
		Snapshot: "graphcore.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Subscriptions: SubscriptionsConfig{
			Enabled:   true,
			Buffer:    1000,
			Retries:   3,
			Backoff:   time.Second,
			RateLimit: 10,
			RateBurst: 20,
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Password: "password",
			Database: "neo4j",
		},
	}
}

// Load reads path (skipped when empty) over the defaults and then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.Addr = getEnv("GRAPHCORE_ADDR", cfg.Addr)
	cfg.Snapshot = getEnv("GRAPHCORE_SNAPSHOT", cfg.Snapshot)
	cfg.Log.Level = getEnv("GRAPHCORE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("GRAPHCORE_LOG_FORMAT", cfg.Log.Format)
	cfg.Neo4j.URI = getEnv("NEO4J_URI", cfg.Neo4j.URI)
	cfg.Neo4j.User = getEnv("NEO4J_USER", cfg.Neo4j.User)
	cfg.Neo4j.Password = getEnv("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.Neo4j.Database = getEnv("NEO4J_DATABASE", cfg.Neo4j.Database)

	if v := os.Getenv("GRAPHCORE_SAVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("GRAPHCORE_SAVE_INTERVAL: %w", err)
		}
		cfg.SaveInterval = d
	}
	if v := os.Getenv("GRAPHCORE_SUBSCRIPTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("GRAPHCORE_SUBSCRIPTIONS: %w", err)
		}
		cfg.Subscriptions.Enabled = b
	}

	return cfg, cfg.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.SaveInterval < 0 {
		errs = append(errs, errors.New("save_interval must not be negative"))
	}
	if c.Subscriptions.Buffer < 0 {
		errs = append(errs, errors.New("subscriptions.buffer must not be negative"))
	}
	if c.Subscriptions.Retries < 0 {
		errs = append(errs, errors.New("subscriptions.retries must not be negative"))
	}
	if c.Subscriptions.RateLimit < 0 {
		errs = append(errs, errors.New("subscriptions.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
