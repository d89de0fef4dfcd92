package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every config-relevant variable so tests are immune
// to whatever the host environment carries.
func clearEnv(t *testing.T) {
	t.Helper()
	for name := range envKeys {
		t.Setenv(name, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, ":4000", cfg.Addr())
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production())
	assert.Equal(t, int64(DefaultRetentionMS), cfg.EmptyWorkspaceRetentionMS)
	assert.Equal(t, 2*time.Minute, cfg.Retention())
	assert.Equal(t, 0, cfg.MaxConns)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.JoinTokenSecret)
	assert.Empty(t, cfg.CronSecret)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("COLAB_JOIN_TOKEN_SECRET", "primary-secret")
	t.Setenv("CRON_SECRET", "legacy-secret")
	t.Setenv("COLAB_EMPTY_WORKSPACE_RETENTION_MS", "5000")
	t.Setenv("COLAB_MAX_CONNS", "256")
	t.Setenv("COLAB_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.True(t, cfg.Production())
	assert.Equal(t, "primary-secret", cfg.JoinTokenSecret)
	assert.Equal(t, "legacy-secret", cfg.CronSecret)
	assert.Equal(t, 5*time.Second, cfg.Retention())
	assert.Equal(t, 256, cfg.MaxConns)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestYAMLFileLayering(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "colabd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 5555\nlog_level: warn\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)

	// The environment outranks the file.
	t.Setenv("PORT", "6001")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestMissingFileFails(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEmptyEnvValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestNonNumericPortRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := Load("")
	require.Error(t, err)
}

func TestNegativeRetentionRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("COLAB_EMPTY_WORKSPACE_RETENTION_MS", "-5")

	_, err := Load("")
	require.Error(t, err)
}

func TestProductionWithoutSecretsIsValid(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Empty(t, cfg.JoinTokenSecret)
	assert.Empty(t, cfg.CronSecret)
}

func TestValidateRanges(t *testing.T) {
	base := func() Config {
		return Config{Port: 4000, Env: "development", EmptyWorkspaceRetentionMS: 1000, LogLevel: "info"}
	}

	ok := base()
	require.NoError(t, ok.Validate())

	badPort := base()
	badPort.Port = 0
	assert.Error(t, badPort.Validate())

	badPort.Port = 70000
	assert.Error(t, badPort.Validate())

	badRetention := base()
	badRetention.EmptyWorkspaceRetentionMS = -1
	assert.Error(t, badRetention.Validate())

	badConns := base()
	badConns.MaxConns = -1
	assert.Error(t, badConns.Validate())

	badLevel := base()
	badLevel.LogLevel = "loud"
	assert.Error(t, badLevel.Validate())
}
