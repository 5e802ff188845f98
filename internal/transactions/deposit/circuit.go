package deposit

import (
	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/transactions/gadget"
)

// Circuit proves that Commitment opens to Amount and was written into the
// empty slot LeafIndex, moving the tree from OldRoot to NewRoot.
type Circuit struct {
	// Public
	Amount     frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`
	LeafIndex  frontend.Variable `gnark:",public"`
	OldRoot    frontend.Variable `gnark:",public"`
	NewRoot    frontend.Variable `gnark:",public"`

	// Private
	Owner    frontend.Variable
	PoolID   frontend.Variable
	Blinding frontend.Variable
	Path     []frontend.Variable

	Hasher string `gnark:"-"`
}

// NewCircuit allocates a circuit for a tree of the given depth.
func NewCircuit(depth int, hasher string) *Circuit {
	return &Circuit{
		Path:   make([]frontend.Variable, depth),
		Hasher: hasher,
	}
}

func (c *Circuit) Define(api frontend.API) error {
	h, err := gadget.NewHasher(api, c.Hasher)
	if err != nil {
		return err
	}

	gadget.AssertAmount(api, c.Amount)
	cm := gadget.Commitment(h, c.Owner, c.Amount, c.PoolID, c.Blinding)
	api.AssertIsEqual(c.Commitment, cm)

	bits := api.ToBinary(c.LeafIndex, len(c.Path))
	api.AssertIsEqual(c.OldRoot, gadget.MerkleRoot(api, h, 0, bits, c.Path))
	api.AssertIsEqual(c.NewRoot, gadget.MerkleRoot(api, h, c.Commitment, bits, c.Path))
	return nil
}
