package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither -config nor AUTOPILOT_CONFIG is given.
const DefaultPath = "config/config.yaml"

type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Events      EventsConfig      `yaml:"events"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type GatewayConfig struct {
	BaseURL string        `yaml:"base_url" env:"GATEWAY_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"GATEWAY_TIMEOUT"`
}

type StorageConfig struct {
	Path string `yaml:"path" env:"DB_PATH"`
}

type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Encoding     string `yaml:"encoding"`
	EngineLogDir string `yaml:"engine_log_dir"`
}

type ServerConfig struct {
	Port      int    `yaml:"port" env:"PORT"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel"`
	Buffer       int    `yaml:"buffer"`
}

type MaintenanceConfig struct {
	PruneSpec     string `yaml:"prune_spec"`
	StatsSpec     string `yaml:"stats_spec"`
	RetentionDays int    `yaml:"retention_days"`
}

// ResolvePath picks the config file: explicit flag, then AUTOPILOT_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("AUTOPILOT_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file, applies AUTOPILOT_* environment overrides and fills defaults.
// A missing file is not an error; the service then runs on defaults and environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "AUTOPILOT_"}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.applyDefaults()
	if cfg.Gateway.BaseURL == "" {
		return nil, fmt.Errorf("gateway.base_url is required")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 10 * time.Second
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "autopilot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = "autopilot:events"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 64
	}
	if c.Maintenance.PruneSpec == "" {
		c.Maintenance.PruneSpec = "0 0 3 * * *"
	}
	if c.Maintenance.StatsSpec == "" {
		c.Maintenance.StatsSpec = "0 0 * * * *"
	}
	if c.Maintenance.RetentionDays <= 0 {
		c.Maintenance.RetentionDays = 30
	}
}
