package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"session_secret": "s3cret", "file_base_dir": "files"},
		"remote": {"auth_base": "http://remote/api/accounts", "timeout_seconds": 5},
		"databases": {"sqlite3": {"dsn": "data/app.db"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "data/app.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, filepath.Join(dir, "files"), cfg.BasicConfig.FileBaseDir)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
}

func TestLoadKeepsInMemoryDSN(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"session_secret": "s3cret"},
		"databases": {"sqlite3": {"dsn": ":memory:"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Databases["sqlite3"].DSN)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"basic_config": {"session_secret": "file"}}`)
	t.Setenv("LEGALEASE_AUTH_BASE", "http://env/api/accounts")
	t.Setenv("LEGALEASE_ADDR", ":9999")
	t.Setenv("LEGALEASE_SESSION_SECRET", "env-secret")
	t.Setenv("LEGALEASE_REDIS_ADDR", "cache:6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env/api/accounts", cfg.Remote.AuthBase)
	assert.Equal(t, ":9999", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "env-secret", cfg.BasicConfig.SessionSecret)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("LEGALEASE_SESSION_SECRET", "")
	path := writeConfig(t, `{"remote": {"auth_base": "http://remote"}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_secret")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
