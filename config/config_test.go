package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
store:
  backend: pebble
  data_dir: "/tmp/test_data"
cache:
  capacity: 128
chat:
  top_k: 5
hooks:
  banned_words: ["spam", "scam"]
`
	reader := strings.NewReader(yamlContent)
	cfg, err := Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	assert.Equal(t, "pebble", cfg.Store.Backend)
	assert.Equal(t, "/tmp/test_data", cfg.Store.DataDir)
	assert.Equal(t, 128, cfg.Cache.Capacity)
	assert.Equal(t, 5, cfg.Chat.TopK)
	assert.Equal(t, []string{"spam", "scam"}, cfg.Hooks.BannedWords)

	// Check a default value that was not overridden
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, `^#[#_A-Za-z0-9]*$`, cfg.Chat.ChannelNamePattern)
}

func TestLoad_PartialConfig(t *testing.T) {
	yamlContent := `
logging:
  level: debug
`
	reader := strings.NewReader(yamlContent)
	cfg, err := Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "debug", cfg.Logging.Level)
	// Check default values are still there
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 10, cfg.Chat.TopK)
	assert.Equal(t, "grpc", cfg.Tracing.Protocol)
}

func TestLoad_EmptyReader(t *testing.T) {
	// Test with nil reader
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "memory", cfg.Store.Backend)

	// Test with empty string reader
	reader := strings.NewReader("")
	cfg, err = Load(reader)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.Chat.TopK)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
store:
  backend: memory
  this: is: invalid: yaml
`
	reader := strings.NewReader(yamlContent)
	_, err := Load(reader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"UnknownBackend", "store:\n  backend: leveldb\n", "invalid store backend"},
		{"UnknownPasswordHash", "chat:\n  password_hash: md5\n", "invalid chat.password_hash"},
		{"ZeroTopK", "chat:\n  top_k: 0\n", "top_k must be positive"},
		{"ZeroCacheCapacity", "cache:\n  enabled: true\n  capacity: 0\n", "cache.capacity"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// TestLoadConfig_FileIntegration ensures LoadConfig works with the filesystem.
func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		yamlContent := `
store:
  backend: bolt
`
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "config.yaml")
		err := os.WriteFile(configPath, []byte(yamlContent), 0644)
		require.NoError(t, err)

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "bolt", cfg.Store.Backend)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, "non_existent_config.yaml")

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		// Should return default value
		assert.Equal(t, "memory", cfg.Store.Backend)
	})
}

func TestParseDuration(t *testing.T) {
	// Use a logger that discards output for this test
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration}, // Should not panic with nil logger
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			result := ParseDuration(tc.input, defaultDuration, testLogger)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestLoad_ChatAndHookLimits(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
chat:
  slow_operation_threshold: 250ms
hooks:
  max_message_bytes: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, ParseDuration(cfg.Chat.SlowOperationThreshold, time.Second, nil))
	assert.Zero(t, cfg.Hooks.MaxMessageBytes)

	defaults := Default()
	assert.Equal(t, "1s", defaults.Chat.SlowOperationThreshold)
	assert.Equal(t, 1<<20, defaults.Hooks.MaxMessageBytes)
}
