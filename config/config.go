// Package config loads service configuration from the environment.
// Everything has a development-safe default; only provider API keys need to
// be supplied explicitly.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Version is the reported service version. Overridable at build time via
// -ldflags "-X github.com/hupe1980/agentrelay/config.Version=...".
var Version = "0.1.0"

// Config holds all tunables for the AgentRelay service.
type Config struct {
	// HTTP surface
	Port        int    `env:"PORT" envDefault:"8080"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"agentrelay"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Planner (LLM-API backend)
	PlannerProvider string `env:"PLANNER_PROVIDER" envDefault:"anthropic"`
	PlannerModel    string `env:"PLANNER_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`

	// Local tool backend
	ClaudeBinary    string `env:"CLAUDE_BINARY" envDefault:"claude"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`

	// Remote delegation
	ChunkTimeout time.Duration `env:"REMOTE_CHUNK_TIMEOUT" envDefault:"30s"`

	// Transport
	FlushProbability float64 `env:"FLUSH_PROBABILITY" envDefault:"0.2"`
}

// Load parses configuration from process environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
