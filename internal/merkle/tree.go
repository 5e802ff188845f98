// Package merkle implements the fixed-depth, append-only commitment tree.
//
// Nodes are stored sparsely per level and missing nodes resolve to the
// precomputed zero value of their level. The left/right rule matches the
// circuits: an even index hashes (node, sibling), an odd index hashes
// (sibling, node). Tree is not safe for concurrent mutation.
package merkle

import (
	"errors"
	"fmt"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
)

// MaxDepth bounds the tree so every index fits a uint64 with room to spare.
const MaxDepth = 32

var (
	ErrOutOfRange   = errors.New("merkle: leaf index out of range")
	ErrTreeFull     = errors.New("merkle: tree is full")
	ErrInvalidDepth = errors.New("merkle: invalid depth")
)

// PathElement is one level of an authentication path. IsRight reports
// whether the sibling sits to the right of the running node.
type PathElement struct {
	Sibling field.Element `json:"sibling"`
	IsRight bool          `json:"isRight"`
}

// Proof is ordered from the leaf level up and has one entry per level.
type Proof []PathElement

// Siblings returns the sibling values only.
func (p Proof) Siblings() []field.Element {
	out := make([]field.Element, len(p))
	for i, el := range p {
		out[i] = el.Sibling
	}
	return out
}

// InsertResult describes an append.
type InsertResult struct {
	Root  field.Element
	Index uint64
	Proof Proof
}

// UpdateResult describes an in-place leaf replacement.
type UpdateResult struct {
	Index   uint64
	OldRoot field.Element
	NewRoot field.Element
	Proof   Proof
}

// Tree is a sparse binary Merkle tree of fixed depth.
type Tree struct {
	depth     int
	hasher    hashing.Hasher
	levels    []map[uint64]field.Element // levels[0] holds leaves
	zeros     []field.Element            // zeros[depth] is the empty root
	root      field.Element
	leafCount uint64
}

// New builds an empty tree and precomputes the zero values.
func New(depth int, h hashing.Hasher) (*Tree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidDepth, depth, MaxDepth)
	}
	t := &Tree{
		depth:  depth,
		hasher: h,
		levels: make([]map[uint64]field.Element, depth),
		zeros:  make([]field.Element, depth+1),
	}
	for i := range t.levels {
		t.levels[i] = make(map[uint64]field.Element)
	}
	t.zeros[0] = field.Zero()
	for i := 1; i <= depth; i++ {
		t.zeros[i] = h.Hash(t.zeros[i-1], t.zeros[i-1])
	}
	t.root = t.zeros[depth]
	return t, nil
}

// Depth returns the number of levels between leaves and root.
func (t *Tree) Depth() int { return t.depth }

// Hasher returns the backend the tree hashes with.
func (t *Tree) Hasher() hashing.Hasher { return t.hasher }

// Capacity is 2^depth.
func (t *Tree) Capacity() uint64 { return uint64(1) << uint(t.depth) }

// LeafCount is the number of Insert calls so far.
func (t *Tree) LeafCount() uint64 { return t.leafCount }

// Root returns the current root.
func (t *Tree) Root() field.Element { return t.root }

// ZeroValue returns the empty-subtree value at level, which must be in
// 0..Depth(); other levels panic.
func (t *Tree) ZeroValue(level int) field.Element { return t.zeros[level] }

// Leaf returns the leaf at index, or the zero leaf if it was never written.
func (t *Tree) Leaf(index uint64) field.Element {
	return t.node(0, index)
}

func (t *Tree) node(level int, index uint64) field.Element {
	if v, ok := t.levels[level][index]; ok {
		return v
	}
	return t.zeros[level]
}

// Proof returns the authentication path of index against the current root.
func (t *Tree) Proof(index uint64) (Proof, error) {
	if index >= t.Capacity() {
		return nil, fmt.Errorf("%w: %d >= capacity %d", ErrOutOfRange, index, t.Capacity())
	}
	return t.path(index), nil
}

func (t *Tree) path(index uint64) Proof {
	proof := make(Proof, t.depth)
	idx := index
	for level := 0; level < t.depth; level++ {
		if idx%2 == 0 {
			proof[level] = PathElement{Sibling: t.node(level, idx+1), IsRight: true}
		} else {
			proof[level] = PathElement{Sibling: t.node(level, idx-1), IsRight: false}
		}
		idx /= 2
	}
	return proof
}

// PreviewInsert computes the result of Insert without touching the tree.
func (t *Tree) PreviewInsert(leaf field.Element) (InsertResult, error) {
	if t.leafCount >= t.Capacity() {
		return InsertResult{}, ErrTreeFull
	}
	index := t.leafCount
	proof := t.path(index)
	return InsertResult{
		Root:  ComputeRoot(t.hasher, leaf, proof),
		Index: index,
		Proof: proof,
	}, nil
}

// Insert appends leaf at LeafCount.
func (t *Tree) Insert(leaf field.Element) (InsertResult, error) {
	res, err := t.PreviewInsert(leaf)
	if err != nil {
		return InsertResult{}, err
	}
	t.write(res.Index, leaf)
	t.leafCount++
	return res, nil
}

// PreviewUpdate computes the result of Update without touching the tree.
func (t *Tree) PreviewUpdate(index uint64, leaf field.Element) (UpdateResult, error) {
	if index >= t.leafCount {
		return UpdateResult{}, fmt.Errorf("%w: %d >= leaf count %d", ErrOutOfRange, index, t.leafCount)
	}
	proof := t.path(index)
	return UpdateResult{
		Index:   index,
		OldRoot: t.root,
		NewRoot: ComputeRoot(t.hasher, leaf, proof),
		Proof:   proof,
	}, nil
}

// Update replaces an already inserted leaf.
func (t *Tree) Update(index uint64, leaf field.Element) (UpdateResult, error) {
	res, err := t.PreviewUpdate(index, leaf)
	if err != nil {
		return UpdateResult{}, err
	}
	t.write(index, leaf)
	return res, nil
}

// write stores leaf and rehashes the path up to the root.
func (t *Tree) write(index uint64, leaf field.Element) {
	current := leaf
	idx := index
	for level := 0; level < t.depth; level++ {
		t.levels[level][idx] = current
		if idx%2 == 0 {
			current = t.hasher.Hash(current, t.node(level, idx+1))
		} else {
			current = t.hasher.Hash(t.node(level, idx-1), current)
		}
		idx /= 2
	}
	t.root = current
}

// ComputeRoot folds leaf up through proof using the tree's hasher.
func (t *Tree) ComputeRoot(leaf field.Element, proof Proof) field.Element {
	return ComputeRoot(t.hasher, leaf, proof)
}

// VerifyProof reports whether leaf and proof reproduce expectedRoot. Proofs
// of the wrong length never verify.
func (t *Tree) VerifyProof(leaf field.Element, proof Proof, expectedRoot field.Element) bool {
	if len(proof) != t.depth {
		return false
	}
	return ComputeRoot(t.hasher, leaf, proof) == expectedRoot
}

// ComputeRoot folds leaf up through proof.
func ComputeRoot(h hashing.Hasher, leaf field.Element, proof Proof) field.Element {
	current := leaf
	for _, el := range proof {
		if el.IsRight {
			current = h.Hash(current, el.Sibling)
		} else {
			current = h.Hash(el.Sibling, current)
		}
	}
	return current
}

// IndexFromProof recovers the leaf index encoded by the direction bits.
func IndexFromProof(proof Proof) uint64 {
	var index uint64
	for level, el := range proof {
		if !el.IsRight {
			index |= uint64(1) << uint(level)
		}
	}
	return index
}
