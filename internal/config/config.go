// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig holds credentials for one monitored feed source.
type SourceConfig struct {
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	Channel      string `yaml:"channel"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Config holds all configuration for the leakfeed service.
type Config struct {
	Sources []SourceConfig

	// Feed polling
	PollInterval time.Duration
	PollLookback time.Duration

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL  string
	RowsQueue string

	// Pipeline
	Workers   int
	QueueSize int
	WorkDir   string

	// Servers
	Port       int // health check
	IntakePort int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Sources  []SourceConfig `yaml:"sources"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Rows string `yaml:"rows"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Pipeline struct {
		Workers   int    `yaml:"workers"`
		QueueSize int    `yaml:"queue_size"`
		WorkDir   string `yaml:"work_dir"`
	} `yaml:"pipeline"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		PollInterval: envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		PollLookback: envOrDefaultDuration("POLL_LOOKBACK", 3*time.Hour),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		RowsQueue:    firstNonEmpty(raw.Redis.Queues.Rows, envOrDefault("ROWS_QUEUE", "rows")),
		Workers:      raw.Pipeline.Workers,
		QueueSize:    raw.Pipeline.QueueSize,
		WorkDir:      firstNonEmpty(raw.Pipeline.WorkDir, envOrDefault("WORK_DIR", "/var/lib/leakfeed/work")),
		Port:         envOrDefaultInt("PORT", 8080),
		IntakePort:   envOrDefaultInt("INTAKE_PORT", 8081),
	}

	if cfg.Workers <= 0 {
		cfg.Workers = envOrDefaultInt("PIPELINE_WORKERS", 4)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = envOrDefaultInt("PIPELINE_QUEUE_SIZE", 64)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required: set database.url in config.yaml or DATABASE_URL")
	}

	// Keep only sources with complete credentials (commented out in YAML
	// sources arrive with empty fields).
	for _, s := range raw.Sources {
		if s.BaseURL == "" || s.Channel == "" || s.ClientID == "" || s.ClientSecret == "" {
			continue
		}
		if s.Name == "" {
			s.Name = s.Channel
		}
		if s.TokenURL == "" {
			s.TokenURL = strings.TrimSuffix(s.BaseURL, "/") + "/oauth2/token"
		}
		cfg.Sources = append(cfg.Sources, s)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
