package withdraw

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/codec"
	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/merkle"
)

const (
	depth   = 3
	balance = 100
)

// buildWitness spends a 100 commitment stored at the odd slot 1.
func buildWitness(t *testing.T, h hashing.Hasher, amount uint64) *Witness {
	t.Helper()
	c := codec.New(h)
	tree, err := merkle.New(depth, h)
	require.NoError(t, err)

	sk := field.FromUint64(42)
	owner := c.DeriveOwner(sk)
	pool := field.FromUint64(7)
	blinding := field.FromUint64(12345)
	secret := field.FromUint64(999)
	cm := c.ComputeCommitment(owner, balance, pool, blinding)

	_, err = tree.Insert(field.FromUint64(11))
	require.NoError(t, err)
	_, err = tree.Insert(cm)
	require.NoError(t, err)
	_, err = tree.Insert(field.FromUint64(33))
	require.NoError(t, err)

	changeBlinding := field.FromUint64(54321)
	newLeaf := field.Zero()
	if remainder := balance - amount; remainder > 0 {
		newLeaf = c.ComputeCommitment(owner, remainder, pool, changeBlinding)
	}
	staged, err := tree.PreviewUpdate(1, newLeaf)
	require.NoError(t, err)

	const nonce = 2
	return &Witness{
		Amount:          amount,
		Recipient:       field.FromUint64(0xbeef),
		Nullifier:       c.ComputeNullifier(cm, secret, nonce),
		OldRoot:         staged.OldRoot,
		NewRoot:         staged.NewRoot,
		SecretKey:       sk,
		Balance:         balance,
		PoolID:          pool,
		Blinding:        blinding,
		NullifierSecret: secret,
		Nonce:           nonce,
		LeafIndex:       1,
		ChangeBlinding:  changeBlinding,
		Path:            staged.Proof.Siblings(),
	}
}

func TestCircuitMatchesNative(t *testing.T) {
	for _, name := range []string{hashing.NameMiMC, hashing.NamePoseidon2} {
		h, err := hashing.ByName(name)
		require.NoError(t, err)

		t.Run(name+"/partial", func(t *testing.T) {
			w := buildWitness(t, h, 60)
			assert.Equal(t, uint64(40), w.Remainder())
			err := test.IsSolved(NewCircuit(depth, name), w.Assignment(), ecc.BN254.ScalarField())
			assert.NoError(t, err)
		})
		t.Run(name+"/full", func(t *testing.T) {
			w := buildWitness(t, h, balance)
			err := test.IsSolved(NewCircuit(depth, name), w.Assignment(), ecc.BN254.ScalarField())
			assert.NoError(t, err)
		})
	}
}

func TestCircuitRejectsTampering(t *testing.T) {
	h := hashing.NewMiMC()

	tests := []struct {
		name   string
		tamper func(w *Witness)
	}{
		{name: "overdraw", tamper: func(w *Witness) { w.Amount = balance + 1 }},
		{name: "nonce", tamper: func(w *Witness) { w.Nonce++ }},
		{name: "secret key", tamper: func(w *Witness) { w.SecretKey = field.FromUint64(43) }},
		{name: "leaf index", tamper: func(w *Witness) { w.LeafIndex = 0 }},
		{name: "change blinding", tamper: func(w *Witness) { w.ChangeBlinding = field.FromUint64(1) }},
		{name: "zero leaf on partial spend", tamper: func(w *Witness) {
			w.NewRoot = merkle.ComputeRoot(h, field.Zero(), pathOf(w))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := buildWitness(t, h, 60)
			tt.tamper(w)
			err := test.IsSolved(NewCircuit(depth, hashing.NameMiMC), w.Assignment(), ecc.BN254.ScalarField())
			assert.Error(t, err)
		})
	}
}

// pathOf rebuilds a merkle.Proof for slot w.LeafIndex from the witness path.
func pathOf(w *Witness) merkle.Proof {
	proof := make(merkle.Proof, len(w.Path))
	idx := w.LeafIndex
	for i, s := range w.Path {
		proof[i] = merkle.PathElement{Sibling: s, IsRight: idx%2 == 0}
		idx /= 2
	}
	return proof
}
