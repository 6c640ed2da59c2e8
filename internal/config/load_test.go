package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets up environment variables for testing
func setupEnv(t *testing.T, envVars map[string]string) func() {
	// Save current environment values
	originalValues := make(map[string]string)
	for name := range envVars {
		originalValues[name] = os.Getenv(name)
	}

	// Set new environment variables
	for name, value := range envVars {
		err := os.Setenv(name, value)
		require.NoError(t, err, "Failed to set environment variable %s", name)
	}

	// Return cleanup function
	return func() {
		for name, value := range originalValues {
			if value == "" {
				os.Unsetenv(name)
			} else {
				os.Setenv(name, value)
			}
		}
	}
}

// TestLoadDefaults verifies that every section falls back to its defaults
// when nothing is configured.
func TestLoadDefaults(t *testing.T) {
	cleanup := setupEnv(t, map[string]string{
		"PRISM_SERVER_PORT":        "",
		"PRISM_SERVER_LOG_LEVEL":   "",
		"PRISM_LLM_GEMINI_API_KEY": "",
		"PRISM_AUTH_JWT_SECRET":    "",
	})
	defer cleanup()

	cfg, err := LoadFrom(t.TempDir())

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 3, cfg.Queue.Concurrency)
	assert.Equal(t, 100, cfg.Queue.MaxPending)
	assert.Equal(t, 30*time.Second, cfg.Queue.TaskTimeout)
	assert.Equal(t, 2, cfg.Queue.MaxRetries)
	assert.Equal(t, time.Second, cfg.Queue.RetryDelay)

	assert.Equal(t, "weighted_merge", cfg.Aggregator.Strategy)
	assert.Equal(t, 5, cfg.Aggregator.MaxVariants)
	assert.Equal(t, 0.85, cfg.Aggregator.SimilarityThreshold)

	assert.Equal(t, "parallel", cfg.Coordinator.Mode)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.WorkerTimeout)

	assert.False(t, cfg.LLM.Enabled())
	assert.False(t, cfg.Auth.Enabled())
	assert.Equal(t, 60, cfg.Auth.TokenLifetimeMinutes)
}

// TestLoadFromEnv verifies that the Load function correctly reads values from environment variables.
func TestLoadFromEnv(t *testing.T) {
	cleanup := setupEnv(t, map[string]string{
		"PRISM_SERVER_PORT":              "9090",
		"PRISM_SERVER_LOG_LEVEL":         "debug",
		"PRISM_QUEUE_CONCURRENCY":        "7",
		"PRISM_QUEUE_RETRY_DELAY":        "250ms",
		"PRISM_AGGREGATOR_STRATEGY":      "voting",
		"PRISM_COORDINATOR_MODE":         "sequential",
		"PRISM_AUTH_JWT_SECRET":          "thisisasecretkeythatis32charslong!!",
		"PRISM_LLM_GEMINI_API_KEY":       "test-api-key",
		"PRISM_LLM_PROMPT_TEMPLATE_PATH": "prompts/refine.tmpl",
	})
	defer cleanup()

	cfg, err := LoadFrom(t.TempDir())

	require.NoError(t, err, "Load() should not return an error with valid environment variables")
	require.NotNil(t, cfg)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 7, cfg.Queue.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryDelay)
	assert.Equal(t, "voting", cfg.Aggregator.Strategy)
	assert.Equal(t, "sequential", cfg.Coordinator.Mode)
	assert.Equal(t, "thisisasecretkeythatis32charslong!!", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "test-api-key", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, "prompts/refine.tmpl", cfg.LLM.PromptTemplatePath)
	assert.True(t, cfg.LLM.Enabled())
}

// TestLoadFromFile verifies that config.yaml is read and that environment
// variables still take precedence over it.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `
server:
  port: 7070
queue:
  concurrency: 5
  max_pending: 10
aggregator:
  strategy: ensemble
  max_variants: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cleanup := setupEnv(t, map[string]string{
		"PRISM_SERVER_PORT":       "",
		"PRISM_QUEUE_CONCURRENCY": "9",
	})
	defer cleanup()

	cfg, err := LoadFrom(dir)

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Queue.Concurrency, "environment should override the file")
	assert.Equal(t, 10, cfg.Queue.MaxPending)
	assert.Equal(t, "ensemble", cfg.Aggregator.Strategy)
	assert.Equal(t, 3, cfg.Aggregator.MaxVariants)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0600))

	cfg, err := LoadFrom(dir)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
	assert.Nil(t, cfg)
}

// TestLoadValidationErrors verifies that the Load function correctly validates the configuration.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name    string
		envVars map[string]string
	}{
		{
			name:    "Invalid port number",
			envVars: map[string]string{"PRISM_SERVER_PORT": "999999"},
		},
		{
			name:    "Invalid log level",
			envVars: map[string]string{"PRISM_SERVER_LOG_LEVEL": "invalid-level"},
		},
		{
			name:    "Short JWT secret",
			envVars: map[string]string{"PRISM_AUTH_JWT_SECRET": "tooshort"},
		},
		{
			name:    "Unknown strategy",
			envVars: map[string]string{"PRISM_AGGREGATOR_STRATEGY": "random"},
		},
		{
			name:    "Unknown dispatch mode",
			envVars: map[string]string{"PRISM_COORDINATOR_MODE": "eventually"},
		},
		{
			name:    "Zero concurrency",
			envVars: map[string]string{"PRISM_QUEUE_CONCURRENCY": "0"},
		},
		{
			name:    "Similarity threshold above one",
			envVars: map[string]string{"PRISM_AGGREGATOR_SIMILARITY_THRESHOLD": "1.5"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cleanup := setupEnv(t, tc.envVars)
			defer cleanup()

			cfg, err := LoadFrom(t.TempDir())

			assert.Error(t, err, "Load() should return an error with invalid configuration")
			if err != nil {
				assert.Contains(t, err.Error(), "validation failed")
			}
			assert.Nil(t, cfg, "Config should be nil when an error occurs")
		})
	}
}
