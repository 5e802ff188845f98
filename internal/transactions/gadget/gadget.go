// Package gadget holds the in-circuit counterparts of internal/codec and
// internal/merkle. Every function here must produce the same value as its
// native twin for the same inputs.
package gadget

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/hash/poseidon2"

	"shieldpool/internal/codec"
	"shieldpool/internal/hashing"
)

// AmountBits is the width amounts are range checked to.
const AmountBits = 64

// NewHasher returns the in-circuit hasher registered under name.
func NewHasher(api frontend.API, name string) (hash.FieldHasher, error) {
	switch name {
	case "", hashing.NameMiMC:
		h, err := mimc.NewMiMC(api)
		if err != nil {
			return nil, err
		}
		return &h, nil
	case hashing.NamePoseidon2:
		return poseidon2.NewMerkleDamgardHasher(api)
	}
	return nil, fmt.Errorf("gadget: unknown hasher %q", name)
}

// Hash resets h and hashes inputs in order.
func Hash(h hash.FieldHasher, inputs ...frontend.Variable) frontend.Variable {
	h.Reset()
	h.Write(inputs...)
	return h.Sum()
}

// Commitment mirrors codec.ComputeCommitment.
func Commitment(h hash.FieldHasher, owner, amount, poolID, blinding frontend.Variable) frontend.Variable {
	return Hash(h, codec.CommitmentDomain().BigInt(), owner, amount, poolID, blinding)
}

// Nullifier mirrors codec.ComputeNullifier.
func Nullifier(h hash.FieldHasher, commitment, secret, nonce frontend.Variable) frontend.Variable {
	return Hash(h, commitment, secret, nonce)
}

// Owner mirrors codec.DeriveOwner.
func Owner(h hash.FieldHasher, secretKey frontend.Variable) frontend.Variable {
	return Hash(h, secretKey)
}

// AssertAmount range checks v to AmountBits.
func AssertAmount(api frontend.API, v frontend.Variable) {
	api.ToBinary(v, AmountBits)
}

// MerkleRoot folds leaf up through path. indexBits[i] is bit i of the leaf
// index; a set bit puts the running node on the right.
func MerkleRoot(api frontend.API, h hash.FieldHasher, leaf frontend.Variable, indexBits, path []frontend.Variable) frontend.Variable {
	current := leaf
	for i, sibling := range path {
		left := api.Select(indexBits[i], sibling, current)
		right := api.Select(indexBits[i], current, sibling)
		current = Hash(h, left, right)
	}
	return current
}
