package utils

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"DEBUG", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"debug", slog.LevelDebug, false},
		{"INVALID", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json to writer respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, closeFn, err := NewLogger(LoggingOptions{Level: "WARN", Format: "json", Output: &buf})
		require.NoError(t, err)
		defer closeFn()

		logger.Info("hidden")
		logger.Warn("shown", "target", "bucketA")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, `"msg":"shown"`)
		assert.Contains(t, out, `"target":"bucketA"`)
	})

	t.Run("text to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "resolver.log")
		logger, closeFn, err := NewLogger(LoggingOptions{Level: "DEBUG", File: path})
		require.NoError(t, err)

		logger.Debug("probe", "key", "a.obj")
		require.NoError(t, closeFn())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(data), "key=a.obj"))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, _, err := NewLogger(LoggingOptions{Level: "LOUD"})
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, _, err := NewLogger(LoggingOptions{Format: "xml"})
		assert.Error(t, err)
	})
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
