package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.odavl.dev", cfg.Server.URL)
	assert.Equal(t, "newest", cfg.Sync.Strategy)
	assert.Equal(t, time.Second, cfg.Tolerance())
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
url = "https://staging.odavl.dev"
timeout = "10s"

[storage]
type = "s3"
bucket = "odavl-workspaces"
region = "eu-west-1"

[sync]
strategy = "local"
tolerance = "2500ms"

[workspace]
name = "insight"
compress = true
encrypt = true
secret = "hunter2"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.odavl.dev", cfg.Server.URL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "odavl-workspaces", cfg.Storage.Bucket)
	assert.Equal(t, "local", cfg.Sync.Strategy)
	assert.Equal(t, 2500*time.Millisecond, cfg.Tolerance())
	assert.True(t, cfg.Workspace.Compress)
	assert.True(t, cfg.Workspace.Encrypt)
}

func TestLoad_MalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nbroken"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestResolve_EnvServerOverride(t *testing.T) {
	cfg := Default()
	cfg.Resolve(EnvOverrides{Server: "http://localhost:8080"})

	assert.Equal(t, "http://localhost:8080", cfg.Server.URL)
}

func TestTolerance_MalformedFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Sync.Tolerance = "not-a-duration"

	assert.Equal(t, time.Second, cfg.Tolerance())
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "odavl_k_test")
	t.Setenv(EnvServer, "http://localhost:9999")

	env := ReadEnvOverrides()
	assert.Equal(t, "odavl_k_test", env.APIKey)
	assert.Equal(t, "http://localhost:9999", env.Server)
}

func TestProfilePaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/tmp/p", "credentials.enc"), VaultPath("/tmp/p"))
	assert.Equal(t, filepath.Join("/tmp/p", "offline-queue.json"), QueuePath("/tmp/p"))
}
