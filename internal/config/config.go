// Package config loads the custody layer configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration.
type Config struct {
	// ListenAddr is the HTTP API listen address.
	ListenAddr string `yaml:"listen_addr"`
	// DatabaseURL selects the Postgres ledger executor when set; empty means
	// the in-memory executor.
	DatabaseURL string `yaml:"database_url"`
	// Admin is the base58 identity to bootstrap the registry with on first
	// start. Ignored when the registry already exists.
	Admin string `yaml:"admin"`
	// LeaderboardSchedule is the cron expression for ranking refreshes.
	LeaderboardSchedule string `yaml:"leaderboard_schedule"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		LeaderboardSchedule: "@hourly",
	}
}

// LoadFromPath reads configuration from a YAML file and applies environment
// overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadOrDefault loads the config file when the path exists, otherwise returns
// defaults. Environment overrides apply in both cases.
func LoadOrDefault(path string) *Config {
	if path != "" {
		if cfg, err := LoadFromPath(path); err == nil {
			return cfg
		}
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CUSTODY_LISTEN_ADDR")); v != "" {
		c.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CUSTODY_ADMIN")); v != "" {
		c.Admin = v
	}
	if v := strings.TrimSpace(os.Getenv("LEADERBOARD_SCHEDULE")); v != "" {
		c.LeaderboardSchedule = v
	}
}
