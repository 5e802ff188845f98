package wallet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/field"
	"shieldpool/internal/orchestrator"
	"shieldpool/internal/pool"
	"shieldpool/internal/store"
)

const testDepth = 3

var recipient = field.FromUint64(0xbeef)

// stubProver skips proving; the pool under test runs without a verifier.
type stubProver struct {
	entered chan struct{}
	release chan struct{}
	fail    error
}

func (p *stubProver) Prove(ctx context.Context, w orchestrator.Witness) (*orchestrator.ProofResult, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	if p.fail != nil {
		return nil, p.fail
	}
	publics, err := w.PublicInputs()
	if err != nil {
		return nil, err
	}
	return &orchestrator.ProofResult{Proof: []byte("proof"), PublicInputs: publics}, nil
}

func testConfig() Config {
	return Config{
		Depth:     testDepth,
		PoolID:    field.FromUint64(7),
		SecretKey: field.FromUint64(42),
		Logger:    zerolog.Nop(),
	}
}

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{Depth: testDepth, Logger: zerolog.Nop()}, nil)
	require.NoError(t, err)
	return p
}

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet")
	chain := newPool(t)
	ctx := context.Background()

	st, err := store.Open(path)
	require.NoError(t, err)
	w, err := Open(st, testConfig(), &stubProver{}, chain)
	require.NoError(t, err)
	assert.Equal(t, testDepth, w.Meta().Depth)
	assert.Equal(t, "mimc", w.Meta().Hasher)

	_, err = w.Deposit(ctx, 100)
	require.NoError(t, err)
	_, err = w.Withdraw(ctx, 40, recipient)
	require.NoError(t, err)
	owner, root := w.Owner(), w.Root()
	require.NoError(t, st.Close())

	st, err = store.Open(path)
	require.NoError(t, err)
	defer st.Close()
	w, err = Open(st, Config{Logger: zerolog.Nop()}, &stubProver{}, chain)
	require.NoError(t, err)

	assert.Equal(t, owner, w.Owner())
	assert.Equal(t, root, w.Root())
	assert.Equal(t, chain.Root(), w.Root())
	assert.Equal(t, uint64(60), w.Balance())
	require.Len(t, w.Unspent(), 1)

	// the restored wallet keeps transacting against the same pool
	_, err = w.Withdraw(ctx, 60, recipient)
	require.NoError(t, err)
	assert.Zero(t, w.Balance())

	journal, err := w.Journal()
	require.NoError(t, err)
	require.Len(t, journal, 3)
	assert.Equal(t, []string{"deposit", "withdraw", "withdraw"},
		[]string{journal[0].Kind, journal[1].Kind, journal[2].Kind})
}

func TestFreshKeyIsDrawn(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	cfg := testConfig()
	cfg.SecretKey = field.Zero()
	w, err := Open(st, cfg, &stubProver{}, newPool(t))
	require.NoError(t, err)
	assert.False(t, w.Meta().SecretKey.IsZero())
}

func TestConfigMismatch(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	_, err = Open(st, testConfig(), &stubProver{}, newPool(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "depth", mutate: func(c *Config) { c.Depth = 5 }},
		{name: "hasher", mutate: func(c *Config) { c.Hasher = "poseidon2" }},
		{name: "pool", mutate: func(c *Config) { c.PoolID = field.FromUint64(8) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := Open(st, cfg, &stubProver{}, newPool(t))
			assert.ErrorIs(t, err, ErrConfigMismatch)
		})
	}
}

func TestOneOperationAtATime(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	p := &stubProver{entered: make(chan struct{}), release: make(chan struct{})}
	w, err := Open(st, testConfig(), p, newPool(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Deposit(context.Background(), 10)
		done <- err
	}()
	<-p.entered

	_, err = w.Deposit(context.Background(), 5)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = w.Withdraw(context.Background(), 5, recipient)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, w.Import([]byte("{}"), nil), ErrBusy)
	// reads are not gated
	assert.Zero(t, w.Balance())

	close(p.release)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(10), w.Balance())
}

func TestFailedWithdrawPersistsNonce(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()
	p := &stubProver{}
	chain := newPool(t)
	w, err := Open(st, testConfig(), p, chain)
	require.NoError(t, err)

	dep, err := w.Deposit(context.Background(), 50)
	require.NoError(t, err)

	p.fail = errors.New("prover down")
	_, err = w.Withdraw(context.Background(), 20, recipient)
	require.Error(t, err)

	w, err = Open(st, Config{Logger: zerolog.Nop()}, &stubProver{}, chain)
	require.NoError(t, err)
	var nonce uint64
	for _, rec := range w.Records() {
		if rec.Commitment == dep.Commitment {
			nonce = rec.Nonce
		}
	}
	assert.Equal(t, uint64(1), nonce)

	journal, err := w.Journal()
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Contains(t, journal[1].Error, "prover down")
}

func TestExportImport(t *testing.T) {
	src, err := store.OpenMemory()
	require.NoError(t, err)
	defer src.Close()
	chain := newPool(t)
	w, err := Open(src, testConfig(), &stubProver{}, chain)
	require.NoError(t, err)
	_, err = w.Deposit(context.Background(), 70)
	require.NoError(t, err)

	data, err := w.Export()
	require.NoError(t, err)

	dst, err := store.OpenMemory()
	require.NoError(t, err)
	defer dst.Close()
	other, err := Open(dst, testConfig(), &stubProver{}, chain)
	require.NoError(t, err)

	wrong := field.FromUint64(1)
	assert.Error(t, other.Import(data, &wrong))
	assert.Zero(t, other.Balance())

	root := chain.Root()
	require.NoError(t, other.Import(data, &root))
	assert.Equal(t, uint64(70), other.Balance())

	_, saved, ok, err := dst.Snapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root, saved)
}
