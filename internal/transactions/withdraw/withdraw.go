package withdraw

import (
	"math/big"

	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/field"
)

// Witness is the natively computed input to Circuit.
type Witness struct {
	Amount    uint64
	Recipient field.Element
	Nullifier field.Element
	OldRoot   field.Element
	NewRoot   field.Element

	SecretKey       field.Element
	Balance         uint64
	PoolID          field.Element
	Blinding        field.Element
	NullifierSecret field.Element
	Nonce           uint64
	LeafIndex       uint64
	ChangeBlinding  field.Element
	Path            []field.Element
}

// Remainder is the value left in the slot after the withdrawal.
func (w *Witness) Remainder() uint64 {
	return w.Balance - w.Amount
}

// Assignment converts w into a full circuit assignment.
func (w *Witness) Assignment() *Circuit {
	a := PublicAssignment(w.Amount, w.Recipient, w.Nullifier, w.OldRoot, w.NewRoot, len(w.Path))
	a.SecretKey = w.SecretKey.BigInt()
	a.Balance = new(big.Int).SetUint64(w.Balance)
	a.PoolID = w.PoolID.BigInt()
	a.Blinding = w.Blinding.BigInt()
	a.NullifierSecret = w.NullifierSecret.BigInt()
	a.Nonce = new(big.Int).SetUint64(w.Nonce)
	a.LeafIndex = new(big.Int).SetUint64(w.LeafIndex)
	a.ChangeBlinding = w.ChangeBlinding.BigInt()
	for i, s := range w.Path {
		a.Path[i] = s.BigInt()
	}
	return a
}

// PublicInputs returns [amount, recipient, nullifier, oldRoot, newRoot].
func (w *Witness) PublicInputs() []field.Element {
	return []field.Element{
		field.FromUint64(w.Amount),
		w.Recipient,
		w.Nullifier,
		w.OldRoot,
		w.NewRoot,
	}
}

// PublicAssignment builds the verifier's view of a withdrawal.
func PublicAssignment(amount uint64, recipient, nullifier, oldRoot, newRoot field.Element, depth int) *Circuit {
	a := &Circuit{
		Amount:          new(big.Int).SetUint64(amount),
		Recipient:       recipient.BigInt(),
		Nullifier:       nullifier.BigInt(),
		OldRoot:         oldRoot.BigInt(),
		NewRoot:         newRoot.BigInt(),
		SecretKey:       0,
		Balance:         0,
		PoolID:          0,
		Blinding:        0,
		NullifierSecret: 0,
		Nonce:           0,
		LeafIndex:       0,
		ChangeBlinding:  0,
		Path:            make([]frontend.Variable, depth),
	}
	for i := range a.Path {
		a.Path[i] = 0
	}
	return a
}
