package config

import (
	"time"

	"github.com/phrazzld/scry-genpipe/internal/retry"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Batch    BatchConfig    `mapstructure:"batch" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig configures the optional progress publisher. An empty URL
// disables publishing.
type RedisConfig struct {
	URL           string `mapstructure:"url" validate:"omitempty,url"`
	ChannelPrefix string `mapstructure:"channel_prefix" validate:"required_with=URL"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey       string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName          string `mapstructure:"model_name" validate:"required"`
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
}

// RetryConfig holds the executor's backoff settings.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay     time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	BackoffFactor float64       `mapstructure:"backoff_factor" validate:"gt=0"`
	MaxDelay      time.Duration `mapstructure:"max_delay" validate:"gte=0"`
}

// Policy converts the settings into a retry.Policy.
func (c RetryConfig) Policy() (retry.Policy, error) {
	return retry.NewPolicy(c.MaxAttempts, c.BaseDelay, c.BackoffFactor, c.MaxDelay)
}

// BatchConfig limits the batches the API accepts.
type BatchConfig struct {
	MaxItems int `mapstructure:"max_items" validate:"gte=1"`
}
