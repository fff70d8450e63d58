package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/accsync/webapi"
)

// Config holds all syncd configuration.
type Config struct {
	Listen   string                   `yaml:"listen"`
	DBPath   string                   `yaml:"db_path"`
	Engine   EngineConfig             `yaml:"engine"`
	Accounts []AccountConfig          `yaml:"accounts"`
	Domains  map[string]webapi.Config `yaml:"domains"`
}

// EngineConfig tunes the dispatcher and run coordination.
type EngineConfig struct {
	AccountConcurrency int           `yaml:"account_concurrency"`
	OverlapMinutes     int           `yaml:"overlap_minutes"`
	BackfillDays       int           `yaml:"backfill_days"`
	MaxWindow          time.Duration `yaml:"max_window"`
	StaleThreshold     time.Duration `yaml:"stale_threshold"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
}

// AccountConfig is one tenant account and its API token. The token
// value supports ${ENV_VAR} expansion so secrets stay out of the file.
type AccountConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8086"
	}
	if c.DBPath == "" {
		c.DBPath = "data/syncd.db"
	}
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("config: account with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate account %q", a.ID)
		}
		seen[a.ID] = true
	}
	for domain, dc := range c.Domains {
		if dc.URL == "" {
			return fmt.Errorf("config: domain %q has no url", domain)
		}
	}
	return nil
}

// LoadConfigFile reads and validates a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
