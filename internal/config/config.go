// Package config loads server configuration from a YAML file with
// QWERY_*-prefixed environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	History HistoryConfig `yaml:"history"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" envconfig:"HOST"`
	Port           int      `yaml:"port" envconfig:"PORT"`
	AuthToken      string   `yaml:"auth_token" envconfig:"AUTH_TOKEN"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

type SessionConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" envconfig:"INACTIVITY_TIMEOUT"`
	ReaperInterval    time.Duration `yaml:"reaper_interval" envconfig:"REAPER_INTERVAL"`
	MaxHistory        int           `yaml:"max_history" envconfig:"MAX_HISTORY"`
	MaxChats          int           `yaml:"max_chats" envconfig:"MAX_CHATS"`
	MaxConnsPerChat   int           `yaml:"max_conns_per_chat" envconfig:"MAX_CONNS_PER_CHAT"`
}

type HistoryConfig struct {
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
}

// Load reads the config file at path, falling back to defaults when the file
// does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Session: SessionConfig{
			HeartbeatInterval: 45 * time.Second,
			InactivityTimeout: time.Hour,
			ReaperInterval:    5 * time.Minute,
			MaxHistory:        50,
			MaxChats:          1000,
			MaxConnsPerChat:   10,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envconfig.Process("QWERY_SERVER", &cfg.Server); err != nil {
		return nil, fmt.Errorf("server env overrides: %w", err)
	}
	if err := envconfig.Process("QWERY_SESSION", &cfg.Session); err != nil {
		return nil, fmt.Errorf("session env overrides: %w", err)
	}
	if err := envconfig.Process("QWERY_HISTORY", &cfg.History); err != nil {
		return nil, fmt.Errorf("history env overrides: %w", err)
	}

	return cfg, nil
}
