// Package config loads pipeline.yaml (grounded on the dashboard's
// configs/teams.yaml + configs/projects.yaml load path in
// cmd/cliaimonitor/main.go) and applies the environment variable overrides
// named in spec §6.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LMConfig configures the language-model client.
type LMConfig struct {
	Provider string `yaml:"provider"` // "mock" or "real"
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// EventBusConfig configures the optional embedded NATS stage-event bus.
type EventBusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"` // 0 lets the OS assign a port
}

// Config is the full pipeline configuration.
type Config struct {
	OutputDir string         `yaml:"output_dir"`
	LogLevel  string         `yaml:"log_level"`
	LM        LMConfig       `yaml:"lm"`
	Server    ServerConfig   `yaml:"server"`
	EventBus  EventBusConfig `yaml:"event_bus"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		OutputDir: "output",
		LogLevel:  "info",
		LM:        LMConfig{Provider: "mock"},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		EventBus:  EventBusConfig{Enabled: true, Port: 0},
	}
}

// Load reads path (if present) and applies environment overrides on top.
// A missing file is not an error: the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("USE_REAL_LM"); v != "" {
		if v == "1" || strings.EqualFold(v, "true") {
			cfg.LM.Provider = "real"
		} else {
			cfg.LM.Provider = "mock"
		}
	}
	if v := os.Getenv("LM_API_KEY"); v != "" {
		cfg.LM.APIKey = v
	}
	if v := os.Getenv("LM_MODEL"); v != "" {
		cfg.LM.Model = v
	}
	if v := os.Getenv("BACKEND_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BACKEND_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EVENT_BUS_ENABLED"); v != "" {
		cfg.EventBus.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EVENT_BUS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.EventBus.Port = p
		}
	}
}
