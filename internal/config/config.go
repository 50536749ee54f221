package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// RealtimeConfig tunes the session server.
type RealtimeConfig struct {
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	DrawThrottle        time.Duration `yaml:"draw_throttle"`
	CursorThrottle      time.Duration `yaml:"cursor_throttle"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	SendBuffer          int           `yaml:"send_buffer"`
	MaxMessageSize      int64         `yaml:"max_message_size"`
	MessagesPerSecond   float64       `yaml:"messages_per_second"`
	MessageBurst        int           `yaml:"message_burst"`
}

type RetentionConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	KeepMessages int           `yaml:"keep_messages"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Path: "./data/doodledock.db"},
		Auth:     AuthConfig{TokenExpiry: time.Hour},
		Realtime: RealtimeConfig{
			HeartbeatInterval:   30 * time.Second,
			DrawThrottle:        33 * time.Millisecond,
			CursorThrottle:      16 * time.Millisecond,
			CollaboratorTimeout: 5 * time.Second,
			SendBuffer:          256,
			MaxMessageSize:      1024 * 1024,
			MessagesPerSecond:   100,
			MessageBurst:        200,
		},
		Retention: RetentionConfig{
			Enabled:      true,
			Interval:     10 * time.Minute,
			KeepMessages: 1000,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DOODLEDOCK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DOODLEDOCK_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DOODLEDOCK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"auth.token_expiry", c.Auth.TokenExpiry},
		{"realtime.heartbeat_interval", c.Realtime.HeartbeatInterval},
		{"realtime.draw_throttle", c.Realtime.DrawThrottle},
		{"realtime.cursor_throttle", c.Realtime.CursorThrottle},
		{"realtime.collaborator_timeout", c.Realtime.CollaboratorTimeout},
	}
	for _, v := range durations {
		if v.d <= 0 {
			return fmt.Errorf("%s must be positive", v.name)
		}
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.Realtime.MessagesPerSecond <= 0 || c.Realtime.MessageBurst <= 0 {
		return fmt.Errorf("realtime rate limits must be positive")
	}
	if c.Retention.Enabled && (c.Retention.Interval <= 0 || c.Retention.KeepMessages <= 0) {
		return fmt.Errorf("retention interval and keep_messages must be positive when enabled")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
