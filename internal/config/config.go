package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Aggregator  AggregatorConfig  `mapstructure:"aggregator" validate:"required"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator" validate:"required"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Auth        AuthConfig        `mapstructure:"auth"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// QueueConfig controls the task queue used for scheduled runs.
type QueueConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"gt=0"`
	MaxPending  int           `mapstructure:"max_pending" validate:"gte=0"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
}

// AggregatorConfig controls how worker results are merged.
type AggregatorConfig struct {
	Strategy            string  `mapstructure:"strategy" validate:"oneof=best_of_all weighted_merge ensemble voting confidence_weighted"`
	MaxVariants         int     `mapstructure:"max_variants" validate:"gt=0"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
}

// CoordinatorConfig controls dispatch to workers.
type CoordinatorConfig struct {
	Mode          string        `mapstructure:"mode" validate:"oneof=parallel sequential"`
	MaxVariants   int           `mapstructure:"max_variants" validate:"gt=0"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings. The LLM worker is
// only registered when GeminiAPIKey is set.
type LLMConfig struct {
	GeminiAPIKey       string `mapstructure:"gemini_api_key"`
	ModelName          string `mapstructure:"model_name" validate:"required_with=GeminiAPIKey"`
	MaxRetries         int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds  int    `mapstructure:"retry_delay_seconds" validate:"gte=0,lte=60"`
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
}

// Enabled reports whether an LLM backend is configured.
func (c LLMConfig) Enabled() bool {
	return c.GeminiAPIKey != ""
}

// AuthConfig contains authentication settings. Authentication is disabled
// when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`

	// TokenLifetimeMinutes bounds tokens issued by the token generator.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// Enabled reports whether bearer-token authentication is required.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}
