// Package hashing provides the native hash backends shared by the commitment
// codec and the Merkle tree. Both backends are the gnark-crypto reference
// implementations whose in-circuit twins live in gnark/std/hash, so native
// digests and circuit digests agree bit for bit.
package hashing

import (
	"fmt"
	stdhash "hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"

	"shieldpool/internal/field"
)

const (
	NameMiMC      = "mimc"
	NamePoseidon2 = "poseidon2"
)

// Hasher compresses an ordered list of field elements into one element.
type Hasher interface {
	Hash(inputs ...field.Element) field.Element
	Name() string
}

type backend struct {
	name string
	new  func() stdhash.Hash
}

// NewMiMC returns the MiMC-BN254 Miyaguchi-Preneel hasher.
func NewMiMC() Hasher {
	return backend{name: NameMiMC, new: func() stdhash.Hash { return mimc.NewMiMC() }}
}

// NewPoseidon2 returns the Poseidon2 Merkle-Damgard hasher with gnark's
// default BN254 parameters.
func NewPoseidon2() Hasher {
	return backend{name: NamePoseidon2, new: func() stdhash.Hash { return poseidon2.NewMerkleDamgardHasher() }}
}

// ByName resolves a configured backend name.
func ByName(name string) (Hasher, error) {
	switch name {
	case NameMiMC, "":
		return NewMiMC(), nil
	case NamePoseidon2:
		return NewPoseidon2(), nil
	default:
		return nil, fmt.Errorf("hashing: unknown backend %q", name)
	}
}

func (b backend) Name() string { return b.name }

// Hash writes every input as one 32-byte big-endian block. Inputs are
// canonical by construction, so Write cannot fail.
func (b backend) Hash(inputs ...field.Element) field.Element {
	h := b.new()
	for _, in := range inputs {
		block := in.Bytes()
		h.Write(block[:])
	}
	return field.FromBytesReduce(h.Sum(nil))
}
