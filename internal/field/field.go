// Package field wraps the BN254 scalar field used by the proving circuits.
//
// Every commitment, nullifier and tree node in shieldpool is an Element. The
// type is a plain value: it can be copied, compared with == and used as a map
// key. Text encoding is 0x-prefixed, 64-digit, big-endian hex.
package field

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Bytes is the size of a serialized element.
const Bytes = fr.Bytes

var (
	ErrNonCanonical = errors.New("field: value is not below the field modulus")
	ErrInvalidHex   = errors.New("field: invalid hex encoding")
	ErrNotUint64    = errors.New("field: element does not fit in 64 bits")
)

// Element is an integer modulo the BN254 scalar field prime.
type Element fr.Element

// Modulus returns a copy of the field prime.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Zero returns the additive identity.
func Zero() Element {
	return Element{}
}

// FromUint64 encodes a 64-bit amount or index.
func FromUint64(v uint64) Element {
	return Element(fr.NewElement(v))
}

// FromFr converts a gnark-crypto element.
func FromFr(e fr.Element) Element {
	return Element(e)
}

// FromBigInt reduces v modulo the field prime. Negative values wrap around.
func FromBigInt(v *big.Int) Element {
	var e fr.Element
	e.SetBigInt(v)
	return Element(e)
}

// FromBytes decodes a 32-byte big-endian canonical encoding.
func FromBytes(b []byte) (Element, error) {
	if len(b) != Bytes {
		return Element{}, fmt.Errorf("field: expected %d bytes, got %d", Bytes, len(b))
	}
	var e fr.Element
	if err := e.SetBytesCanonical(b); err != nil {
		return Element{}, ErrNonCanonical
	}
	return Element(e), nil
}

// FromBytesReduce interprets b as a big-endian integer of any length and
// reduces it modulo the field prime.
func FromBytesReduce(b []byte) Element {
	var e fr.Element
	e.SetBytes(b)
	return Element(e)
}

// FromHex parses an optionally 0x-prefixed hex string. Values at or above the
// modulus are rejected rather than reduced.
func FromHex(s string) (Element, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 2*Bytes {
		return Element{}, ErrInvalidHex
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Element{}, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	var buf [Bytes]byte
	copy(buf[Bytes-len(raw):], raw)
	return FromBytes(buf[:])
}

// FromDecimal parses a base-10 string strictly below the modulus.
func FromDecimal(s string) (Element, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Element{}, fmt.Errorf("field: invalid decimal %q", s)
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return Element{}, ErrNonCanonical
	}
	return FromBigInt(v), nil
}

// Random draws a uniformly distributed element from crypto/rand.
func Random() (Element, error) {
	return RandomFrom(rand.Reader)
}

// RandomFrom reads 48 bytes from r and reduces them modulo the prime, which
// keeps the statistical bias below 2^-128.
func RandomFrom(r io.Reader) (Element, error) {
	var buf [Bytes + 16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Element{}, fmt.Errorf("field: read randomness: %w", err)
	}
	return FromBytesReduce(buf[:]), nil
}

// Fr returns the gnark-crypto representation.
func (e Element) Fr() fr.Element {
	return fr.Element(e)
}

// Bytes returns the canonical 32-byte big-endian encoding.
func (e Element) Bytes() [Bytes]byte {
	f := fr.Element(e)
	return f.Bytes()
}

// BigInt returns the canonical integer value.
func (e Element) BigInt() *big.Int {
	f := fr.Element(e)
	return f.BigInt(new(big.Int))
}

// Hex returns the 0x-prefixed 64-digit encoding.
func (e Element) Hex() string {
	b := e.Bytes()
	return "0x" + hex.EncodeToString(b[:])
}

// String returns the decimal encoding.
func (e Element) String() string {
	f := fr.Element(e)
	return f.Text(10)
}

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool {
	f := fr.Element(e)
	return f.IsZero()
}

// Equal reports whether both elements hold the same value.
func (e Element) Equal(o Element) bool {
	return e == o
}

// Uint64 decodes an element that was produced by FromUint64. Elements that do
// not fit in 64 bits are rejected.
func (e Element) Uint64() (uint64, error) {
	f := fr.Element(e)
	if !f.IsUint64() {
		return 0, ErrNotUint64
	}
	return f.Uint64(), nil
}

// MarshalText implements encoding.TextMarshaler.
func (e Element) MarshalText() ([]byte, error) {
	return []byte(e.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Element) UnmarshalText(text []byte) error {
	v, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*e = v
	return nil
}
