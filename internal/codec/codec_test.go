package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
)

func TestPinnedVectors(t *testing.T) {
	c := New(hashing.NewMiMC())

	assert.Equal(t, "0x2fcc6481f6911f7675e487ab63c6f182e4f20fd217b77419781bb80887f48fb9", CommitmentDomain().Hex())

	owner := c.DeriveOwner(field.FromUint64(42))
	assert.Equal(t, "0x15cc289ebc18cb3ba9301f46f0619391ee79007ea289fd3d9155d574f121e953", owner.Hex())

	cm := c.ComputeCommitment(field.FromUint64(1), 100, field.FromUint64(7), field.FromUint64(12345))
	assert.Equal(t, "0x169370c93d549b910ec036aa6728cd3a6afc9d71fb6f1eb8b7da25c638cc6f48", cm.Hex())

	nf0 := c.ComputeNullifier(cm, field.FromUint64(99), 0)
	nf1 := c.ComputeNullifier(cm, field.FromUint64(99), 1)
	assert.Equal(t, "0x2fde796314be16d9da11b155d02f50902fdf137cd9413f38fe5e15bba1785db4", nf0.Hex())
	assert.Equal(t, "0x1ec38a1d5e423235c6925529fd2c69f9d36e395ce9b8a435e390dfcb5c032f45", nf1.Hex())
}

func TestCommitmentSensitivity(t *testing.T) {
	c := New(hashing.NewMiMC())
	owner := field.FromUint64(1)
	pool := field.FromUint64(7)
	blinding := field.FromUint64(12345)
	base := c.ComputeCommitment(owner, 100, pool, blinding)

	assert.Equal(t, base, c.ComputeCommitment(owner, 100, pool, blinding))

	variants := map[string]field.Element{
		"owner":    c.ComputeCommitment(field.FromUint64(2), 100, pool, blinding),
		"amount":   c.ComputeCommitment(owner, 101, pool, blinding),
		"pool":     c.ComputeCommitment(owner, 100, field.FromUint64(8), blinding),
		"blinding": c.ComputeCommitment(owner, 100, pool, field.FromUint64(12346)),
	}
	for name, v := range variants {
		assert.NotEqual(t, base, v, "changing %s must change the commitment", name)
	}
}

func TestNullifierNonce(t *testing.T) {
	for _, h := range []hashing.Hasher{hashing.NewMiMC(), hashing.NewPoseidon2()} {
		c := New(h)
		cm := field.FromUint64(5)
		s := field.FromUint64(6)
		assert.NotEqual(t, c.ComputeNullifier(cm, s, 0), c.ComputeNullifier(cm, s, 1), h.Name())
		assert.Equal(t, c.ComputeNullifier(cm, s, 3), c.ComputeNullifier(cm, s, 3), h.Name())
	}
}

func TestRandomness(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte{1}, 48*2))
	c := New(hashing.NewMiMC(), WithRandom(src))

	b, err := c.GenerateBlinding()
	require.NoError(t, err)
	s, err := c.GenerateNullifierSecret()
	require.NoError(t, err)
	assert.Equal(t, b, s, "same input bytes yield same element")

	_, err = c.GenerateBlinding()
	assert.Error(t, err, "exhausted source must surface an error")

	live := New(hashing.NewMiMC())
	x, err := live.GenerateBlinding()
	require.NoError(t, err)
	y, err := live.GenerateBlinding()
	require.NoError(t, err)
	assert.NotEqual(t, x, y)
}
