package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/codec"
	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/merkle"
)

func writeConfig(t *testing.T) (string, *Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "wallet")
	cfg.KeyDir = filepath.Join(dir, "keys")
	cfg.Depth = 4
	cfg.LogFile = filepath.Join(dir, "shieldd.log")
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.PoolStatePath = filepath.Join(dir, "pool.json")
	path := filepath.Join(dir, "shieldd.yaml")
	require.NoError(t, SaveConfig(cfg, path))
	return path, cfg
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWalletCommands(t *testing.T) {
	path, cfg := writeConfig(t)

	_, err := execute("-c", path, "balance")
	require.ErrorIs(t, err, errNotInitialised)

	out, err := execute("-c", path, "init", "--secret-key", "42")
	require.NoError(t, err)
	owner := codec.New(hashing.NewMiMC()).DeriveOwner(field.FromUint64(42))
	assert.Contains(t, out, owner.Hex())
	assert.Contains(t, out, "depth:   4")

	// a second init keeps the identity and refuses a new key
	out, err = execute("-c", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, owner.Hex())
	_, err = execute("-c", path, "init", "--secret-key", "7")
	assert.Error(t, err)

	out, err = execute("-c", path, "balance")
	require.NoError(t, err)
	assert.Equal(t, "balance: 0\n", out)

	exported := filepath.Join(t.TempDir(), "state.json")
	_, err = execute("-c", path, "export", exported)
	require.NoError(t, err)

	tree, err := merkle.New(cfg.Depth, hashing.NewMiMC())
	require.NoError(t, err)
	out, err = execute("-c", path, "import", exported, "--root", tree.Root().Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "imported 0 commitments")

	_, err = execute("-c", path, "import", exported, "--root", "0x01")
	assert.Error(t, err)

	out, err = execute("-c", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "SEQ")

	audit, err := os.ReadFile(cfg.AuditLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(audit), "wallet_created")
	assert.Contains(t, string(audit), "state_imported")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path, cfg := writeConfig(t)
	cfg.Hasher = "sha256"
	require.NoError(t, SaveConfig(cfg, path))
	_, err := execute("-c", path, "balance")
	assert.ErrorContains(t, err, "invalid config")
}
