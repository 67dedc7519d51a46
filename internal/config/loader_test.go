package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/pkg/utils/crypto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackbuild.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Execution.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.SSH.Timeout)
	assert.Equal(t, "127.0.0.1:8090", cfg.Server.Address())
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Empty(t, cfg.Hosts)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - name: web1
    address: 10.0.0.5
    user: deploy
    env:
      base: /srv/web
  - address: 10.0.0.6
execution:
  concurrency: 4
env:
  base: /opt/app
  PYTHON: 2.7.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"web1", "10.0.0.6"}, cfg.HostNames())
	assert.Equal(t, 4, cfg.Execution.Concurrency)
	assert.Equal(t, "/opt/app", cfg.Env["base"])
	assert.Equal(t, "2.7.5", cfg.Env["python"])

	web1, ok := cfg.FindHost("web1")
	require.True(t, ok)
	assert.Equal(t, "deploy", web1.User)
	assert.Equal(t, "/srv/web", web1.Env["base"])

	_, ok = cfg.FindHost("nope")
	assert.False(t, ok)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("STACKBUILD_EXECUTION_CONCURRENCY", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Execution.Concurrency)
}

func TestLoad_HostWithoutAddress(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - user: deploy
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestHostConfig_ResolvePassword(t *testing.T) {
	t.Parallel()

	enc, err := crypto.Encrypt("s3cret", "key")
	require.NoError(t, err)

	plain, err := HostConfig{Password: "plain"}.ResolvePassword("key")
	require.NoError(t, err)
	assert.Equal(t, "plain", plain)

	plain, err = HostConfig{Password: "enc:" + enc}.ResolvePassword("key")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", plain)

	_, err = HostConfig{Name: "web1", Password: "enc:" + enc}.ResolvePassword("other")
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.Contains(t, err.Error(), "web1")
}
