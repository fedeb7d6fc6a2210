package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("server:\n  port: 9000\ndatabase:\n  url: postgres://file/db\njwt:\n  secret: from-file\noutbox:\n  interval: 5s\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GIGFLOW_PORT", "")
	t.Setenv("OUTBOX_INTERVAL", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/db", cfg.Database.URL, "env must win over file")
	assert.Equal(t, 9000, cfg.Server.Port, "file value kept when env unset")
	assert.Equal(t, "from-file", cfg.JWT.Secret)
	assert.Equal(t, 5*time.Second, cfg.Outbox.Interval)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("GIGFLOW_PORT", "")
	t.Setenv("OUTBOX_INTERVAL", "")
	t.Setenv("LEDGER_TIMEOUT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
}
