package withdraw

import (
	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/transactions/gadget"
)

// Circuit proves ownership of the commitment at LeafIndex under OldRoot,
// reveals its Nullifier, and rewrites the slot with either the change
// commitment or the zero leaf, giving NewRoot.
type Circuit struct {
	// Public
	Amount    frontend.Variable `gnark:",public"`
	Recipient frontend.Variable `gnark:",public"`
	Nullifier frontend.Variable `gnark:",public"`
	OldRoot   frontend.Variable `gnark:",public"`
	NewRoot   frontend.Variable `gnark:",public"`

	// Private
	SecretKey       frontend.Variable
	Balance         frontend.Variable
	PoolID          frontend.Variable
	Blinding        frontend.Variable
	NullifierSecret frontend.Variable
	Nonce           frontend.Variable
	LeafIndex       frontend.Variable
	ChangeBlinding  frontend.Variable
	Path            []frontend.Variable

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

	// (1) The spent commitment is in the tree
	owner := gadget.Owner(h, c.SecretKey)
	cm := gadget.Commitment(h, owner, c.Balance, c.PoolID, c.Blinding)
	bits := api.ToBinary(c.LeafIndex, len(c.Path))
	api.AssertIsEqual(c.OldRoot, gadget.MerkleRoot(api, h, cm, bits, c.Path))

	// (2) Nullifier
	api.AssertIsEqual(c.Nullifier, gadget.Nullifier(h, cm, c.NullifierSecret, c.Nonce))

	// (3) Amount <= Balance
	gadget.AssertAmount(api, c.Amount)
	gadget.AssertAmount(api, c.Balance)
	remainder := api.Sub(c.Balance, c.Amount)
	gadget.AssertAmount(api, remainder)

	// (4) Same slot now holds the change, or zero on a full spend
	change := gadget.Commitment(h, owner, remainder, c.PoolID, c.ChangeBlinding)
	newLeaf := api.Select(api.IsZero(remainder), 0, change)
	api.AssertIsEqual(c.NewRoot, gadget.MerkleRoot(api, h, newLeaf, bits, c.Path))

	// bind the recipient to the proof
	api.Mul(c.Recipient, c.Recipient)
	return nil
}
