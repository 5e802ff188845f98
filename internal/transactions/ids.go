// Package transactions names the circuits the pool understands. The circuits
// themselves live in the deposit and withdraw subpackages and share the
// hashing helpers in gadget.
package transactions

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Kind identifies a transaction type.
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
)

// CircuitID is keccak256("shieldpool.<kind>.v1") in 0x-prefixed hex.
type CircuitID string

var (
	DepositCircuitID  = NewCircuitID(KindDeposit)
	WithdrawCircuitID = NewCircuitID(KindWithdraw)
)

// NewCircuitID derives the identifier of kind's version 1 circuit.
func NewCircuitID(kind Kind) CircuitID {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "shieldpool.%s.v1", kind)
	return CircuitID("0x" + hex.EncodeToString(h.Sum(nil)))
}

// CircuitIDOf returns the identifier for a known kind.
func CircuitIDOf(kind Kind) (CircuitID, error) {
	switch kind {
	case KindDeposit:
		return DepositCircuitID, nil
	case KindWithdraw:
		return WithdrawCircuitID, nil
	}
	return "", fmt.Errorf("transactions: unknown kind %q", kind)
}
