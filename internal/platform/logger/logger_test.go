package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/prism-api/internal/config"
	"github.com/phrazzld/prism-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriter(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	tests := []struct {
		level       string
		debugLogged bool
		warnLogged  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"WARN", false, true},
		{"error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &logger.TestLogBuffer{}
			l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: tt.level}, buf)
			require.NoError(t, err)
			require.NotNil(t, l)

			l.Debug("debug message")
			slog.Warn("warn message")

			assert.Equal(t, tt.debugLogged, contains(buf, "debug message"))
			assert.Equal(t, tt.warnLogged, contains(buf, "warn message"), "default logger should be replaced")
		})
	}
}

func TestSetupWithWriter_InvalidLevel(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	buf := &logger.TestLogBuffer{}
	l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "verbose"}, buf)
	require.NoError(t, err)

	l.Info("still logging")

	logger.AssertLogContains(t, buf, "invalid log level configured")
	logger.AssertLogField(t, buf, "configured_level", "verbose")
	logger.AssertLogField(t, buf, "msg", "still logging")
}

func TestParseLevel(t *testing.T) {
	level, ok := logger.ParseLevel("fatal")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelError, level)

	level, ok = logger.ParseLevel("")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestContextHelpers(t *testing.T) {
	l, buf := logger.GetTestLogger(t)

	assert.Equal(t, slog.Default(), logger.FromContext(context.Background()))
	assert.Empty(t, logger.RequestIDFromContext(context.Background()))

	ctx := logger.WithLogger(context.Background(), l)
	ctx = logger.WithRequestID(ctx, "req-123")

	assert.Equal(t, "req-123", logger.RequestIDFromContext(ctx))

	logger.FromContext(ctx).Info("handled")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "handled", entries[0]["msg"])
	assert.Equal(t, "req-123", entries[0]["request_id"])
}

func TestWithRequestID_WithoutLogger(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-9")

	assert.Equal(t, "req-9", logger.RequestIDFromContext(ctx))
	assert.Equal(t, slog.Default(), logger.FromContext(ctx))
}

func contains(buf *logger.TestLogBuffer, s string) bool {
	entries, err := buf.GetLogEntries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e["msg"] == s {
			return true
		}
	}
	return false
}
