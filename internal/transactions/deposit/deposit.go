package deposit

import (
	"math/big"

	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/field"
)

// Witness is the natively computed input to Circuit.
type Witness struct {
	Amount     uint64
	Commitment field.Element
	LeafIndex  uint64
	OldRoot    field.Element
	NewRoot    field.Element

	Owner    field.Element
	PoolID   field.Element
	Blinding field.Element
	Path     []field.Element
}

// Assignment converts w into a full circuit assignment.
func (w *Witness) Assignment() *Circuit {
	a := PublicAssignment(w.Amount, w.Commitment, w.LeafIndex, w.OldRoot, w.NewRoot, len(w.Path))
	a.Owner = w.Owner.BigInt()
	a.PoolID = w.PoolID.BigInt()
	a.Blinding = w.Blinding.BigInt()
	for i, s := range w.Path {
		a.Path[i] = s.BigInt()
	}
	return a
}

// PublicInputs returns [amount, commitment, leafIndex, oldRoot, newRoot].
func (w *Witness) PublicInputs() []field.Element {
	return []field.Element{
		field.FromUint64(w.Amount),
		w.Commitment,
		field.FromUint64(w.LeafIndex),
		w.OldRoot,
		w.NewRoot,
	}
}

// PublicAssignment builds the public half of an assignment, which is all a
// verifier knows. Private slots are zero filled.
func PublicAssignment(amount uint64, commitment field.Element, leafIndex uint64, oldRoot, newRoot field.Element, depth int) *Circuit {
	a := &Circuit{
		Amount:     new(big.Int).SetUint64(amount),
		Commitment: commitment.BigInt(),
		LeafIndex:  new(big.Int).SetUint64(leafIndex),
		OldRoot:    oldRoot.BigInt(),
		NewRoot:    newRoot.BigInt(),
		Owner:      0,
		PoolID:     0,
		Blinding:   0,
		Path:       make([]frontend.Variable, depth),
	}
	for i := range a.Path {
		a.Path[i] = 0
	}
	return a
}
