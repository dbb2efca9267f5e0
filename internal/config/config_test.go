package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
store:
  driver: sqlite
creation:
  step_timeout: 15s
db:
  password: ${DB_SECRET}
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("DB_SECRET=s3cret\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CONFIG_ENV", "base")
	t.Setenv("SQLITE_PATH", "/tmp/other.db")
	t.Setenv("AGENT_SERVICE_URL", "http://agent:8052")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout, "default kept")
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "/tmp/other.db", cfg.Store.SQLitePath)
	assert.Equal(t, 15*time.Second, cfg.Creation.StepTimeout)
	assert.Equal(t, "s3cret", cfg.DB.Password)
	assert.Equal(t, "http://agent:8052", cfg.Agent.URL)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
