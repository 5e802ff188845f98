// Package codec derives commitments, nullifiers and owner identifiers.
//
// The hash layout here is mirrored constraint for constraint by the circuits
// in internal/transactions; change one and the other must follow.
package codec

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/sha3"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
)

// CommitmentDomainTag is hashed with keccak256 and reduced into the field to
// obtain the first input of every commitment.
const CommitmentDomainTag = "shieldpool.commitment.v1"

var commitmentDomain = DomainElement(CommitmentDomainTag)

// DomainElement maps a tag to keccak256(tag) mod p.
func DomainElement(tag string) field.Element {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(tag))
	return field.FromBytesReduce(h.Sum(nil))
}

// CommitmentDomain returns the domain separator shared with the circuits.
func CommitmentDomain() field.Element {
	return commitmentDomain
}

// Codec binds a hash backend and a randomness source.
type Codec struct {
	hasher hashing.Hasher
	rand   io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithRandom replaces crypto/rand, mostly for deterministic tests.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

// New returns a codec over h.
func New(h hashing.Hasher, opts ...Option) *Codec {
	c := &Codec{hasher: h, rand: rand.Reader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hasher exposes the injected backend so the tree can share it.
func (c *Codec) Hasher() hashing.Hasher {
	return c.hasher
}

// ComputeCommitment returns H(domain, owner, amount, poolID, blinding).
func (c *Codec) ComputeCommitment(owner field.Element, amount uint64, poolID, blinding field.Element) field.Element {
	return c.hasher.Hash(commitmentDomain, owner, field.FromUint64(amount), poolID, blinding)
}

// ComputeNullifier returns H(commitment, secret, nonce).
func (c *Codec) ComputeNullifier(commitment, secret field.Element, nonce uint64) field.Element {
	return c.hasher.Hash(commitment, secret, field.FromUint64(nonce))
}

// DeriveOwner returns H(secretKey).
func (c *Codec) DeriveOwner(secretKey field.Element) field.Element {
	return c.hasher.Hash(secretKey)
}

// GenerateBlinding draws a fresh blinding factor.
func (c *Codec) GenerateBlinding() (field.Element, error) {
	return field.RandomFrom(c.rand)
}

// GenerateNullifierSecret draws a fresh per-commitment nullifier secret.
func (c *Codec) GenerateNullifierSecret() (field.Element, error) {
	return field.RandomFrom(c.rand)
}

// GenerateSecretKey draws a wallet spending key.
func (c *Codec) GenerateSecretKey() (field.Element, error) {
	return field.RandomFrom(c.rand)
}
