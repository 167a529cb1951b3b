package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config is resolved once at startup: defaults, then the YAML file, then
// environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port        int    `yaml:"port" env:"SERVER_PORT"`
	Mode        string `yaml:"mode" env:"SERVER_MODE"` // debug/test/release
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`
}

// BackendConfig points at the external query-generation service.
type BackendConfig struct {
	URL            string `yaml:"url" env:"BACKEND_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"BACKEND_TIMEOUT"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"DATABASE_PATH"`
}

type WebSocketConfig struct {
	PingInterval int `yaml:"ping_interval" env:"WS_PING_INTERVAL"`
	PongTimeout  int `yaml:"pong_timeout" env:"WS_PONG_TIMEOUT"`
}

type SessionConfig struct {
	Secret      string `yaml:"-" env:"SESSION_SECRET"`
	CookieName  string `yaml:"cookie_name" env:"SESSION_COOKIE_NAME"`
	IdleMinutes int    `yaml:"idle_minutes" env:"SESSION_IDLE_MINUTES"`
	Secure      bool   `yaml:"secure" env:"SESSION_COOKIE_SECURE"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Timeout is the per-request budget for the outbound backend call.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// IdleTimeout is how long an untouched session survives.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleMinutes) * time.Minute
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			Mode:        "release",
			FrontendURL: "http://localhost:3000",
		},
		Backend: BackendConfig{
			URL:            "http://localhost:8000",
			TimeoutSeconds: 120,
		},
		Database: DatabaseConfig{Path: "./querydb.db"},
		WebSocket: WebSocketConfig{
			PingInterval: 30,
			PongTimeout:  10,
		},
		Session: SessionConfig{
			Secret:      "dev-session-secret-change-me",
			CookieName:  "querydb-session",
			IdleMinutes: 60,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the file layer; a
// non-empty path that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.Backend.URL)
	}
	c.Server.FrontendURL = strings.TrimRight(strings.TrimSpace(c.Server.FrontendURL), "/")
	if !strings.HasPrefix(c.Server.FrontendURL, "http://") && !strings.HasPrefix(c.Server.FrontendURL, "https://") {
		return fmt.Errorf("invalid frontend url %q", c.Server.FrontendURL)
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %d", c.Backend.TimeoutSeconds)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		return fmt.Errorf("websocket ping_interval and pong_timeout must be positive")
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return fmt.Errorf("session secret must not be empty")
	}
	return nil
}
