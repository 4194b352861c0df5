package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Relay server
	RelayHost string `env:"RELAY_HOST" default:"0.0.0.0"`
	RelayPort int    `env:"RELAY_PORT" default:"8765"`
	RelayPath string `env:"RELAY_PATH" default:"/"`

	// Transport liveness
	PingInterval time.Duration `env:"PING_INTERVAL" default:"30s"`
	PongWait     time.Duration `env:"PONG_WAIT" default:"10s"`
	WriteWait    time.Duration `env:"WRITE_WAIT" default:"10s"`

	// Limits
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE" default:"104857600"` // 100MB, screen frames are big
	SendBuffer     int   `env:"SEND_BUFFER" default:"256"`            // per peer outbound queue

	// Admin console
	AdminPollInterval time.Duration `env:"ADMIN_POLL_INTERVAL" default:"100ms"`

	// Client session
	ServerURL         string        `env:"SERVER_URL" default:"ws://localhost:8765/"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" default:"20s"`
	ReconnectBackoff  time.Duration `env:"RECONNECT_BACKOFF" default:"5s"`
	FrameInterval     time.Duration `env:"FRAME_INTERVAL" default:"100ms"`

	// Redis cluster bridge (empty URL = single instance)
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" default:"screenrelay:broadcast"`

	// Development
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env file: %v\n", err)
	}

	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// Relay server
	loadEnvString(&config.RelayHost, "RELAY_HOST", "0.0.0.0")
	if err := loadEnvInt(&config.RelayPort, "RELAY_PORT", 8765); err != nil {
		return nil, err
	}
	loadEnvString(&config.RelayPath, "RELAY_PATH", "/")

	// Transport liveness
	if err := loadEnvDuration(&config.PingInterval, "PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PongWait, "PONG_WAIT", 10*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteWait, "WRITE_WAIT", 10*time.Second); err != nil {
		return nil, err
	}

	// Limits
	if err := loadEnvInt64(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 100*1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SendBuffer, "SEND_BUFFER", 256); err != nil {
		return nil, err
	}

	// Admin console
	if err := loadEnvDuration(&config.AdminPollInterval, "ADMIN_POLL_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}

	// Client session
	loadEnvString(&config.ServerURL, "SERVER_URL", "ws://localhost:8765/")
	if err := loadEnvDuration(&config.KeepaliveInterval, "KEEPALIVE_INTERVAL", 20*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectBackoff, "RECONNECT_BACKOFF", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.FrameInterval, "FRAME_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}

	// Redis
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.RedisChannel, "REDIS_CHANNEL", "screenrelay:broadcast")

	// Development
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt64(target *int64, key string, defaultValue int64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.RelayPort < 1 || c.RelayPort > 65535 {
		errors = append(errors, "RELAY_PORT must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.RelayPath, "/") {
		errors = append(errors, "RELAY_PATH must start with /")
	}

	durations := []struct {
		key   string
		value time.Duration
	}{
		{"PING_INTERVAL", c.PingInterval},
		{"PONG_WAIT", c.PongWait},
		{"WRITE_WAIT", c.WriteWait},
		{"ADMIN_POLL_INTERVAL", c.AdminPollInterval},
		{"KEEPALIVE_INTERVAL", c.KeepaliveInterval},
		{"RECONNECT_BACKOFF", c.ReconnectBackoff},
		{"FRAME_INTERVAL", c.FrameInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive", d.key))
		}
	}

	if c.MaxMessageSize <= 0 {
		errors = append(errors, "MAX_MESSAGE_SIZE must be positive")
	}
	if c.SendBuffer < 1 {
		errors = append(errors, "SEND_BUFFER must be at least 1")
	}

	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errors = append(errors, "SERVER_URL must start with ws:// or wss://")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ListenAddr returns host:port for the relay listener
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.RelayHost, strconv.Itoa(c.RelayPort))
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// NewLogger builds the slog logger described by LOG_LEVEL and LOG_FORMAT
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
