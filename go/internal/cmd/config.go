package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/querycountdown/go/clients/placeholder"
	"github.com/mcdev12/querycountdown/go/internal/countdown"
	"github.com/mcdev12/querycountdown/go/internal/events"
	"github.com/mcdev12/querycountdown/go/internal/gateway"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Query struct {
		UsersAPIURL       string        `yaml:"users_api_url"`
		StaleTime         time.Duration `yaml:"stale_time"`
		BackgroundRefetch bool          `yaml:"background_refetch"`
		RetryDelay        time.Duration `yaml:"retry_delay"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
	} `yaml:"query"`

	Countdown struct {
		DefaultStaleTime time.Duration `yaml:"default_stale_time"`
	} `yaml:"countdown"`

	NATS struct {
		Enabled      bool   `yaml:"enabled"`
		URL          string `yaml:"url"`
		StreamName   string `yaml:"stream_name"`
		ConsumerName string `yaml:"consumer_name"`
	} `yaml:"nats"`

	WebSocket struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"websocket"`
}

func defaultConfig() *Config {
	var config Config
	config.LogLevel = "info"

	config.Server.Port = "8080"
	config.Server.ShutdownTimeout = 10 * time.Second

	config.Query.UsersAPIURL = placeholder.BaseURL
	config.Query.StaleTime = countdown.DefaultStaleTime
	config.Query.RetryDelay = 5 * time.Second
	config.Query.RequestTimeout = 10 * time.Second

	config.Countdown.DefaultStaleTime = countdown.DefaultStaleTime

	js := events.DefaultJetStreamConfig()
	config.NATS.URL = js.URL
	config.NATS.StreamName = js.StreamName
	config.NATS.ConsumerName = js.ConsumerName

	ws := gateway.DefaultConnectionConfig()
	config.WebSocket.PingInterval = ws.PingInterval
	config.WebSocket.ReadTimeout = ws.ReadTimeout
	config.WebSocket.WriteTimeout = ws.WriteTimeout

	return &config
}

// loadConfig starts from defaults, overlays the YAML file at path if it
// exists, then applies environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.Query.UsersAPIURL = getEnv("USERS_API_URL", config.Query.UsersAPIURL)
	config.Query.StaleTime = getEnvAsDuration("STALE_TIME", config.Query.StaleTime)
	config.Query.BackgroundRefetch = getEnvAsBool("BACKGROUND_REFETCH", config.Query.BackgroundRefetch)
	config.NATS.Enabled = getEnvAsBool("NATS_ENABLED", config.NATS.Enabled)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// validate rejects values the server cannot run with. A non-positive stale
// time is allowed and means the default.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"query.retry_delay", c.Query.RetryDelay},
		{"websocket.ping_interval", c.WebSocket.PingInterval},
		{"websocket.read_timeout", c.WebSocket.ReadTimeout},
		{"websocket.write_timeout", c.WebSocket.WriteTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}

	if c.Query.RequestTimeout < 0 {
		return fmt.Errorf("query.request_timeout must not be negative, got %s", c.Query.RequestTimeout)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	return nil
}

func (c *Config) jetStreamConfig(queryKey string) events.JetStreamConfig {
	js := events.DefaultJetStreamConfig()
	js.URL = c.NATS.URL
	js.StreamName = c.NATS.StreamName
	js.ConsumerName = c.NATS.ConsumerName
	js.QueryKey = queryKey
	return js
}

func (c *Config) gatewayConfig() gateway.Config {
	config := gateway.DefaultConfig()
	config.ConnectionConfig.PingInterval = c.WebSocket.PingInterval
	config.ConnectionConfig.ReadTimeout = c.WebSocket.ReadTimeout
	config.ConnectionConfig.WriteTimeout = c.WebSocket.WriteTimeout
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are milliseconds
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
