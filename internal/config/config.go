// Package config loads application configuration from an optional
// YAML file and SENTINEL_-prefixed environment variables. Environment
// values win over the file; both win over built-in defaults.
//
// Environment variables map to config keys with a double underscore
// as the section separator, so SENTINEL_SERVER__PORT sets server.port
// and SENTINEL_MONITOR__PROBE_TIMEOUT sets monitor.probe_timeout.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SENTINEL_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Monitor       MonitorConfig       `koanf:"monitor"`
	Database      DatabaseConfig      `koanf:"database"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Investigation InvestigationConfig `koanf:"investigation"`
	CORS          CORSConfig          `koanf:"cors"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         string        `koanf:"port"`
	MetricsPort  string        `koanf:"metrics_port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MonitorConfig tunes the monitoring loop and incident handling.
type MonitorConfig struct {
	DefaultInterval      time.Duration `koanf:"default_interval"`
	ProbeTimeout         time.Duration `koanf:"probe_timeout"`
	MaxProbes            int           `koanf:"max_probes"`
	StaleAfter           time.Duration `koanf:"stale_after"`
	InvestigationTimeout time.Duration `koanf:"investigation_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL runs
// the process without durable storage.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// NotificationsConfig holds alert channel configuration. An empty
// webhook URL disables Slack alerts.
type NotificationsConfig struct {
	SlackWebhookURL string `koanf:"slack_webhook_url"`
	SlackUsername   string `koanf:"slack_username"`
	SlackIconEmoji  string `koanf:"slack_icon_emoji"`
}

// InvestigationConfig holds the external analysis service
// configuration. An empty URL leaves incidents unresolved at the
// investigating stage.
type InvestigationConfig struct {
	URL     string        `koanf:"url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         "8000",
			MetricsPort:  "9090",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Monitor: MonitorConfig{
			DefaultInterval:      30 * time.Second,
			ProbeTimeout:         10 * time.Second,
			MaxProbes:            20,
			StaleAfter:           15 * time.Minute,
			InvestigationTimeout: 2 * time.Minute,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Notifications: NotificationsConfig{
			SlackUsername: "Sentinel",
		},
		Investigation: InvestigationConfig{
			Timeout: 90 * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads configuration from path (optional, "" skips the file)
// and the environment, layered over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envToKey maps SENTINEL_SERVER__METRICS_PORT to server.metrics_port.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Monitor.MaxProbes < 1 {
		return fmt.Errorf("monitor.max_probes must be at least 1")
	}
	return nil
}
