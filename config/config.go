// Package config loads server configuration from an optional YAML file with
// environment-variable overrides taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQ       MQConfig       `yaml:"mq"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	JWT      JWTConfig      `yaml:"jwt"`
	Outbox   OutboxConfig   `yaml:"outbox"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type LedgerConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type OutboxConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Load reads path (when non-empty and present) and then applies environment
// overrides. It validates the values a running server cannot do without.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: 8080, Env: "development"},
		Database: DatabaseConfig{
			MaxConns: 16,
		},
		Ledger: LedgerConfig{Timeout: 30 * time.Second},
		Outbox: OutboxConfig{Interval: time.Second, BatchSize: 50},
	}

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
	}

	overrideFromEnv(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("config: invalid server port %d", cfg.Server.Port)
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	cfg.Server.Port = envInt("GIGFLOW_PORT", cfg.Server.Port)
	cfg.Server.Env = envString("GIGFLOW_ENV", cfg.Server.Env)
	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = envInt("DATABASE_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)
	cfg.MQ.URL = envString("MQ_URL", cfg.MQ.URL)
	cfg.Ledger.BaseURL = envString("LEDGER_BASE_URL", cfg.Ledger.BaseURL)
	cfg.Ledger.Timeout = envDuration("LEDGER_TIMEOUT", cfg.Ledger.Timeout)
	cfg.JWT.Secret = envString("JWT_SECRET", cfg.JWT.Secret)
	cfg.Outbox.Interval = envDuration("OUTBOX_INTERVAL", cfg.Outbox.Interval)
	cfg.Outbox.BatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.Outbox.BatchSize)
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
