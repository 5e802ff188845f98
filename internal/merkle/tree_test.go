package merkle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
)

func newTree(t *testing.T, depth int) *Tree {
	t.Helper()
	tree, err := New(depth, hashing.NewMiMC())
	require.NoError(t, err)
	return tree
}

func TestZeroValues(t *testing.T) {
	tree := newTree(t, 3)
	assert.True(t, tree.ZeroValue(0).IsZero())
	assert.Equal(t, "0x29a1ce46748dd1f268a52b64670d2dd170487b0eabfdf8e3280c52996af03561", tree.ZeroValue(1).Hex())
	assert.Equal(t, "0x173028dc3fc24d89b918ab4952f667ec2f8ea5341ce6c3202b0fefee6cf76041", tree.ZeroValue(2).Hex())
	assert.Equal(t, "0x07cd5828f4e95899b5539065896b855b7684478e6cf2f9e1162ea9a031471846", tree.ZeroValue(3).Hex())
	assert.Equal(t, tree.ZeroValue(3), tree.Root())
	assert.Equal(t, uint64(8), tree.Capacity())
	assert.Panics(t, func() { tree.ZeroValue(4) })
}

func TestInvalidDepth(t *testing.T) {
	_, err := New(0, hashing.NewMiMC())
	assert.ErrorIs(t, err, ErrInvalidDepth)
	_, err = New(MaxDepth+1, hashing.NewMiMC())
	assert.ErrorIs(t, err, ErrInvalidDepth)
}

func TestThreeLeafScenario(t *testing.T) {
	tree := newTree(t, 3)

	_, err := tree.Insert(field.FromUint64(11))
	require.NoError(t, err)
	_, err = tree.Insert(field.FromUint64(22))
	require.NoError(t, err)
	root2 := tree.Root()
	res, err := tree.Insert(field.FromUint64(33))
	require.NoError(t, err)
	root3 := tree.Root()

	assert.Equal(t, "0x0ad8a4a3ee1670544cc5b6ea8bc214f280d000b72eb64b24913a216c425a8844", root2.Hex())
	assert.Equal(t, "0x2e707be873c175857d7e2dbea83aef7f2ebf5d764b86d2cf52cd90170e9d4ff6", root3.Hex())
	assert.NotEqual(t, root2, root3)
	assert.Equal(t, root3, res.Root)
	assert.Equal(t, uint64(2), res.Index)
	assert.Equal(t, uint64(3), tree.LeafCount())

	proof, err := tree.Proof(1)
	require.NoError(t, err)
	assert.Len(t, proof, 3)
	assert.True(t, tree.VerifyProof(field.FromUint64(22), proof, root3))
	assert.False(t, tree.VerifyProof(field.FromUint64(22), proof, root2))
	assert.False(t, tree.VerifyProof(field.FromUint64(23), proof, root3))

	assert.False(t, proof[0].IsRight, "index 1 has its sibling on the left")
	assert.Equal(t, field.FromUint64(11), proof[0].Sibling)
	assert.Equal(t, uint64(1), IndexFromProof(proof))
}

func TestProofsAfterEveryInsert(t *testing.T) {
	tree := newTree(t, 4)
	var leaves []field.Element
	prevRoot := tree.Root()

	for n := 1; n <= 10; n++ {
		leaf := tree.Hasher().Hash(field.FromUint64(uint64(n)))
		leaves = append(leaves, leaf)
		res, err := tree.Insert(leaf)
		require.NoError(t, err)

		assert.True(t, tree.VerifyProof(leaf, res.Proof, res.Root), "insert proof for leaf %d", n-1)
		for i, l := range leaves {
			proof, err := tree.Proof(uint64(i))
			require.NoError(t, err)
			assert.True(t, tree.VerifyProof(l, proof, tree.Root()), "leaf %d after %d inserts", i, n)
			assert.False(t, tree.VerifyProof(l, proof, prevRoot), "leaf %d against previous root", i)
			assert.Equal(t, l, tree.Leaf(uint64(i)))
		}
		prevRoot = tree.Root()
	}
	assert.True(t, tree.Leaf(12).IsZero())
}

func TestPreviewDoesNotMutate(t *testing.T) {
	tree := newTree(t, 3)
	_, err := tree.Insert(field.FromUint64(11))
	require.NoError(t, err)
	root := tree.Root()

	preview, err := tree.PreviewInsert(field.FromUint64(22))
	require.NoError(t, err)
	assert.Equal(t, root, tree.Root())
	assert.Equal(t, uint64(1), tree.LeafCount())

	applied, err := tree.Insert(field.FromUint64(22))
	require.NoError(t, err)
	assert.Equal(t, preview.Root, applied.Root)
	assert.Equal(t, preview.Index, applied.Index)

	upd, err := tree.PreviewUpdate(0, field.Zero())
	require.NoError(t, err)
	assert.Equal(t, applied.Root, tree.Root())
	assert.Equal(t, applied.Root, upd.OldRoot)
	assert.Equal(t, upd.NewRoot, tree.ComputeRoot(field.Zero(), upd.Proof))
}

func TestUpdate(t *testing.T) {
	tree := newTree(t, 3)
	for _, v := range []uint64{11, 22, 33} {
		_, err := tree.Insert(field.FromUint64(v))
		require.NoError(t, err)
	}

	_, err := tree.Update(3, field.FromUint64(44))
	assert.ErrorIs(t, err, ErrOutOfRange)

	before := tree.Root()
	res, err := tree.Update(1, field.Zero())
	require.NoError(t, err)
	assert.Equal(t, before, res.OldRoot)
	assert.Equal(t, tree.Root(), res.NewRoot)
	assert.NotEqual(t, before, res.NewRoot)
	assert.Equal(t, uint64(3), tree.LeafCount(), "update never changes leaf count")
	assert.True(t, tree.Leaf(1).IsZero())

	// rebuilding with the same leaves must give the same root
	fresh := newTree(t, 3)
	for _, v := range []field.Element{field.FromUint64(11), field.Zero(), field.FromUint64(33)} {
		_, err := fresh.Insert(v)
		require.NoError(t, err)
	}
	assert.Equal(t, fresh.Root(), tree.Root())

	// the old proof path is the same, only the root moves
	assert.True(t, tree.VerifyProof(field.Zero(), res.Proof, res.NewRoot))
	assert.True(t, tree.VerifyProof(field.FromUint64(22), res.Proof, res.OldRoot))
}

func TestTreeFull(t *testing.T) {
	tree := newTree(t, 1)
	_, err := tree.Insert(field.FromUint64(1))
	require.NoError(t, err)
	_, err = tree.Insert(field.FromUint64(2))
	require.NoError(t, err)
	_, err = tree.Insert(field.FromUint64(3))
	assert.ErrorIs(t, err, ErrTreeFull)

	_, err = tree.Proof(2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWrongLengthProof(t *testing.T) {
	tree := newTree(t, 3)
	res, err := tree.Insert(field.FromUint64(5))
	require.NoError(t, err)
	assert.False(t, tree.VerifyProof(field.FromUint64(5), res.Proof[:2], tree.Root()))
}

func TestRootHistory(t *testing.T) {
	h := NewRootHistory(4)
	a, b, c, d := field.FromUint64(1), field.FromUint64(2), field.FromUint64(3), field.FromUint64(4)

	h.Push(a)
	h.Push(b)
	assert.True(t, h.Contains(a))
	assert.True(t, h.Contains(b))
	assert.False(t, h.Contains(field.Zero()))
	assert.Equal(t, []field.Element{b, a}, h.Recent(4))

	h.Push(c)
	assert.True(t, h.Contains(a))
	h.Push(d)
	// the slot after d held a and was cleared
	assert.False(t, h.Contains(a))
	assert.True(t, h.Contains(b))
	assert.Equal(t, []field.Element{d, c, b}, h.Recent(10))
	assert.Empty(t, h.Recent(0))
	assert.Empty(t, h.Recent(-1))

	raw, err := json.Marshal(h)
	require.NoError(t, err)
	restored := &RootHistory{}
	require.NoError(t, json.Unmarshal(raw, restored))
	assert.Equal(t, h.Recent(4), restored.Recent(4))

	assert.Error(t, json.Unmarshal([]byte(`{"index":9,"roots":[]}`), restored))
}
