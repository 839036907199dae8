// Package config loads the orchestrator configuration from YAML with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conductorhq/conductor/internal/llm"
)

// Config is the main configuration structure for Conductor.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Models     []llm.ModelInfo  `yaml:"models"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr is the listen address for the control server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProviderConfig points at the OpenAI-compatible model backend.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// CheckpointConfig selects the durability backend: "fs" or "sqlite".
type CheckpointConfig struct {
	Backend string `yaml:"backend"`

	// Root is the directory for the fs backend.
	Root string `yaml:"root"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// ProcessorConfig bounds the task loop.
type ProcessorConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	ModelTimeout  time.Duration `yaml:"model_timeout"`
	PaidResumeCap int           `yaml:"paid_resume_cap"`
	FreeResumeCap int           `yaml:"free_resume_cap"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Environment variables in
// the file body are expanded before parsing, so secrets can stay out of
// the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "fs"
	}
	if cfg.Checkpoint.Root == "" {
		cfg.Checkpoint.Root = "data/checkpoints"
	}
	if cfg.Checkpoint.Path == "" {
		cfg.Checkpoint.Path = "data/conductor.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	switch cfg.Checkpoint.Backend {
	case "fs", "sqlite":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.Alias == "" || m.ID == "" {
			return fmt.Errorf("model entries need both alias and id")
		}
		if seen[m.Alias] {
			return fmt.Errorf("duplicate model alias %q", m.Alias)
		}
		seen[m.Alias] = true
	}
	return nil
}
