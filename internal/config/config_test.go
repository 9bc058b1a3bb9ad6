package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("SWEEPER_IDLE_AFTER", "48h")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Sweeper.IdleAfter)
	assert.Equal(t, "local", cfg.Storage.Driver)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.GetServerAddr())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"database": {"driver": "postgres", "host": "db", "user": "portal", "password": "pw", "db_name": "tasks"},
		"security": {"jwt_secret": "from-file"},
		"storage": {"driver": "s3", "bucket": "deliverables"}
	}`), 0o600))
	t.Setenv("DATABASE_HOST", "db.internal")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Security.JWTSecret)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "postgres://portal:pw@db.internal:5432/tasks?sslmode=disable", cfg.Database.GetDatabaseURL())
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("SERVER_PORT", "eighty")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	assert.ErrorContains(t, err, "jwt_secret")

	cfg.Security.JWTSecret = "x"
	cfg.Storage.Driver = "ftp"
	cfg.Database.Driver = "mysql"
	err = cfg.Validate()
	assert.ErrorContains(t, err, "storage.driver")
	assert.ErrorContains(t, err, "database.driver")
}
