package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/pkg/utils/sshkeygen"
)

func TestFactory_LocalHosts(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Hosts: []config.HostConfig{{Name: "builder", Local: true}}}
	f := NewFactory(cfg, logger.NewNop(), nil)

	exec, err := f.Open(context.Background(), "builder")
	require.NoError(t, err)
	assert.IsType(t, &LocalExecutor{}, exec)
	assert.Equal(t, "builder", exec.Target())

	exec, err = f.Open(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", exec.Target())

	_, err = f.Open(context.Background(), "web9")
	require.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	info, err := sshkeygen.GenerateEd25519KeyPair(priv, priv+".pub", "")
	require.NoError(t, err)

	signer, err := LoadSigner(priv)
	require.NoError(t, err)
	assert.Equal(t, "ssh-ed25519", signer.PublicKey().Type())

	signers := DiscoverSigners([]string{priv, filepath.Join(dir, "missing")})
	assert.Len(t, signers, 1)
	assert.NotEmpty(t, info.Fingerprint)

	garbage := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(garbage, []byte("nope"), 0o600))
	_, err = LoadSigner(garbage)
	assert.ErrorIs(t, err, ErrSSHAuthentication)
}

func TestHostKeyCallback(t *testing.T) {
	t.Parallel()

	cb, err := HostKeyCallback("")
	require.NoError(t, err)
	assert.NotNil(t, cb)

	_, err = HostKeyCallback(filepath.Join(t.TempDir(), "missing_known_hosts"))
	require.Error(t, err)
}
