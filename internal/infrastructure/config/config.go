// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Data      DataConfig
	Terminal  TerminalConfig
	Pipeline  PipelineConfig
	AI        AIConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"5000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// DataConfig holds data directory configuration.
type DataConfig struct {
	Dir string `envconfig:"DATA_DIR" default:"data"`
}

// TerminalConfig holds terminal session manager configuration.
type TerminalConfig struct {
	CommandTimeout  time.Duration `envconfig:"TERMINAL_COMMAND_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"1h"`
	ReapInterval    time.Duration `envconfig:"TERMINAL_REAP_INTERVAL" default:"5m"`
	MaxOutputBytes  int           `envconfig:"TERMINAL_MAX_OUTPUT_BYTES" default:"1048576"`
	KillGracePeriod time.Duration `envconfig:"TERMINAL_KILL_GRACE" default:"500ms"`
}

// PipelineConfig holds workflow execution configuration. The step timeout is
// deliberately independent of the terminal command timeout; they govern
// different components.
type PipelineConfig struct {
	StepTimeout time.Duration `envconfig:"PIPELINE_STEP_TIMEOUT" default:"600s"`
}

// AIConfig holds the OpenAI-compatible chat completion endpoint configuration.
// With an empty APIKey the client degrades to canned fallback responses.
type AIConfig struct {
	APIKey  string        `envconfig:"OPENAI_API_KEY" default:""`
	BaseURL string        `envconfig:"OPENAI_API_BASE" default:"https://api.openai.com/v1"`
	Model   string        `envconfig:"OPENAI_MODEL_NAME" default:"gpt-3.5-turbo"`
	Timeout time.Duration `envconfig:"API_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "5000",
			Host: "0.0.0.0",
		},
		Data: DataConfig{
			Dir: "data",
		},
		Terminal: TerminalConfig{
			CommandTimeout:  60 * time.Second,
			IdleTimeout:     time.Hour,
			ReapInterval:    5 * time.Minute,
			MaxOutputBytes:  1 << 20,
			KillGracePeriod: 500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{
			StepTimeout: 600 * time.Second,
		},
		AI: AIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-3.5-turbo",
			Timeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
