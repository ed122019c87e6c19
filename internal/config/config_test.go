package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"ADDR", "STORE", "REDIS_ADDR", "REDIS_PREFIX", "STATIC_DIR", "PUBLIC_WS_URL",
		"CANVAS_WIDTH", "CANVAS_HEIGHT", "MDNS_ENABLED", "MDNS_INSTANCE", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 800, cfg.CanvasWidth)
	assert.Equal(t, 600, cfg.CanvasHeight)
	assert.False(t, cfg.MDNSEnabled)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)

	port, err := cfg.Port()
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "Memory")
	t.Setenv("CANVAS_WIDTH", "1024")
	t.Setenv("MDNS_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 1024, cfg.CanvasWidth)
	assert.True(t, cfg.MDNSEnabled)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.NotNil(t, cfg.Logger())
}

func TestInvalid(t *testing.T) {
	for key, val := range map[string]string{
		"STORE":         "etcd",
		"CANVAS_WIDTH":  "wide",
		"CANVAS_HEIGHT": "-1",
		"MDNS_ENABLED":  "perhaps",
		"LOG_LEVEL":     "loud",
		"LOG_FORMAT":    "xml",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadEnvFileKeepsExisting(t *testing.T) {
	clearEnv(t)
	t.Setenv("ADDR", ":9999")
	t.Setenv("SKETCHBOARD_TEST_KEY", "")
	os.Unsetenv("SKETCHBOARD_TEST_KEY")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nADDR=:7000\nSKETCHBOARD_TEST_KEY=\"hello\"\nbroken line\n"), 0o600))
	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { os.Unsetenv("SKETCHBOARD_TEST_KEY") })

	assert.Equal(t, ":9999", os.Getenv("ADDR"))
	assert.Equal(t, "hello", os.Getenv("SKETCHBOARD_TEST_KEY"))
}
