package prover

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/transactions"
	"shieldpool/internal/transactions/deposit"
	"shieldpool/internal/transactions/withdraw"
)

// Verifier checks submissions against the verifying keys only.
type Verifier struct {
	depth int
	keys  map[transactions.Kind]groth16.VerifyingKey
}

// NewVerifier wraps verifying keys for trees of the given depth.
func NewVerifier(depth int, keys map[transactions.Kind]groth16.VerifyingKey) *Verifier {
	return &Verifier{depth: depth, keys: keys}
}

// LoadVerifier reads both verifying keys from dir.
func LoadVerifier(dir string, depth int, hasher string) (*Verifier, error) {
	cfg := Config{Depth: depth, Hasher: hasher, KeyDir: dir}
	keys := make(map[transactions.Kind]groth16.VerifyingKey, 2)
	for _, kind := range []transactions.Kind{transactions.KindDeposit, transactions.KindWithdraw} {
		_, vkPath := keyPaths(cfg, kind)
		vk, err := LoadVerifyingKey(vkPath)
		if err != nil {
			return nil, err
		}
		keys[kind] = vk
	}
	return NewVerifier(depth, keys), nil
}

// Verify rebuilds the public witness of sub and checks its proof.
func (v *Verifier) Verify(sub *orchestrator.Submission) error {
	vk, ok := v.keys[sub.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCircuit, sub.Kind)
	}
	if want, _ := transactions.CircuitIDOf(sub.Kind); sub.CircuitID != want {
		return fmt.Errorf("%w: %s for %s", ErrCircuitMismatch, sub.CircuitID, sub.Kind)
	}

	var public frontend.Circuit
	switch sub.Kind {
	case transactions.KindDeposit:
		public = deposit.PublicAssignment(sub.Amount, sub.Commitment, sub.LeafIndex, sub.OldRoot, sub.NewRoot, v.depth)
	case transactions.KindWithdraw:
		public = withdraw.PublicAssignment(sub.Amount, sub.Recipient, sub.Nullifier, sub.OldRoot, sub.NewRoot, v.depth)
	}
	w, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(sub.Proof)); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrInvalidProof, err)
	}
	if err := groth16.Verify(proof, vk, w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}
