// Package config loads BugPilot configuration from the environment, with an
// optional YAML file layered underneath for checked-in project defaults.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Environment variables win over
// YAML file values, which win over the struct defaults.
type Config struct {
	// Provider selects the default completion backend: anthropic or nvidia.
	Provider string `env:"BUGPILOT_PROVIDER, default=nvidia" yaml:"provider"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" yaml:"-"`
	NvidiaAPIKey    string `env:"NVIDIA_API_KEY" yaml:"-"`
	NvidiaBaseURL   string `env:"NVIDIA_BASE_URL" yaml:"nvidia_base_url"`

	// Model overrides the provider's default model.
	Model string `env:"BUGPILOT_MODEL" yaml:"model"`

	// DatabasePath is where runs and events are persisted.
	DatabasePath string `env:"BUGPILOT_DB, default=.bugpilot/bugpilot.db" yaml:"database_path"`

	// MaxContextFiles caps files embedded in the generation prompt.
	MaxContextFiles int `env:"BUGPILOT_MAX_CONTEXT_FILES, default=12" yaml:"max_context_files"`

	// MaxFileChars caps characters read per context file.
	MaxFileChars int `env:"BUGPILOT_MAX_FILE_CHARS, default=12000" yaml:"max_file_chars"`

	// MaxOutputTokens for each completion call.
	MaxOutputTokens int `env:"BUGPILOT_MAX_OUTPUT_TOKENS, default=8192" yaml:"max_output_tokens"`

	// TruncationGuardRatio blocks suspicious file-shrinking updates.
	TruncationGuardRatio float64 `env:"BUGPILOT_TRUNCATION_GUARD_RATIO, default=0.35" yaml:"truncation_guard_ratio"`

	// MaxPromptAttempts is prompts per candidate model (initial + repairs).
	MaxPromptAttempts int `env:"BUGPILOT_MAX_PROMPT_ATTEMPTS, default=2" yaml:"max_prompt_attempts"`

	// RequestsPerMinute rate-limits completion calls. 0 disables.
	RequestsPerMinute int `env:"BUGPILOT_REQUESTS_PER_MINUTE, default=0" yaml:"requests_per_minute"`

	// EventRetention is how long persisted events are kept before cleanup.
	EventRetention time.Duration `env:"BUGPILOT_EVENT_RETENTION, default=720h" yaml:"event_retention"`
}

// Load builds the configuration: YAML file first (when path is non-empty
// and exists), then environment variables on top, then validation.
func Load(ctx context.Context, yamlPath string) (*Config, error) {
	var cfg Config

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", yamlPath, err)
		}
	}

	// DefaultOverwrite lets a set environment variable win over a YAML
	// value; unset variables keep the YAML value rather than re-applying
	// the tag default.
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           &cfg,
		DefaultOverwrite: true,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Provider != "anthropic" && c.Provider != "nvidia" {
		return fmt.Errorf("invalid provider %q: must be anthropic or nvidia", c.Provider)
	}
	if c.TruncationGuardRatio <= 0 || c.TruncationGuardRatio >= 1 {
		return fmt.Errorf("truncation guard ratio %v out of range (0, 1)", c.TruncationGuardRatio)
	}
	if c.MaxContextFiles < 1 {
		return fmt.Errorf("max context files must be at least 1, got %d", c.MaxContextFiles)
	}
	if c.MaxPromptAttempts < 1 {
		return fmt.Errorf("max prompt attempts must be at least 1, got %d", c.MaxPromptAttempts)
	}
	return nil
}
