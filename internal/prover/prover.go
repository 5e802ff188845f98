// Package prover compiles the deposit and withdraw circuits, manages their
// Groth16 keys and produces or checks proofs over BN254.
package prover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"

	"shieldpool/internal/orchestrator"
	"shieldpool/internal/transactions"
	"shieldpool/internal/transactions/deposit"
	"shieldpool/internal/transactions/withdraw"
)

var (
	ErrUnknownCircuit  = errors.New("prover: unknown circuit")
	ErrCircuitMismatch = errors.New("prover: circuit id does not match kind")
	ErrInvalidProof    = errors.New("prover: invalid proof")
)

// Config selects the circuit shape and where keys live.
type Config struct {
	Depth  int
	Hasher string
	// KeyDir holds the key files; empty keeps keys in memory only.
	KeyDir string
	Logger zerolog.Logger
}

type circuitKeys struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// Groth16 implements orchestrator.Prover.
type Groth16 struct {
	cfg  Config
	keys map[transactions.Kind]*circuitKeys
}

var _ orchestrator.Prover = (*Groth16)(nil)

// Compile builds the constraint system of kind.
func Compile(kind transactions.Kind, depth int, hasher string) (constraint.ConstraintSystem, error) {
	var circuit frontend.Circuit
	switch kind {
	case transactions.KindDeposit:
		circuit = deposit.NewCircuit(depth, hasher)
	case transactions.KindWithdraw:
		circuit = withdraw.NewCircuit(depth, hasher)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCircuit, kind)
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", kind, err)
	}
	return ccs, nil
}

// New compiles both circuits and sets up or loads their keys.
func New(cfg Config) (*Groth16, error) {
	g := &Groth16{cfg: cfg, keys: make(map[transactions.Kind]*circuitKeys)}
	for _, kind := range []transactions.Kind{transactions.KindDeposit, transactions.KindWithdraw} {
		ccs, err := Compile(kind, cfg.Depth, cfg.Hasher)
		if err != nil {
			return nil, err
		}
		pkPath, vkPath := keyPaths(cfg, kind)
		pk, vk, loaded, err := SetupOrLoadKeys(ccs, pkPath, vkPath)
		if err != nil {
			return nil, fmt.Errorf("%s keys: %w", kind, err)
		}
		cfg.Logger.Info().
			Str("circuit", string(kind)).
			Int("constraints", ccs.GetNbConstraints()).
			Bool("loaded", loaded).
			Msg("circuit ready")
		g.keys[kind] = &circuitKeys{ccs: ccs, pk: pk, vk: vk}
	}
	return g, nil
}

func keyPaths(cfg Config, kind transactions.Kind) (string, string) {
	if cfg.KeyDir == "" {
		return "", ""
	}
	hasher := cfg.Hasher
	if hasher == "" {
		hasher = "mimc"
	}
	base := filepath.Join(cfg.KeyDir, fmt.Sprintf("%s-d%d-%s", kind, cfg.Depth, hasher))
	return base + ".pk", base + ".vk"
}

// Prove implements orchestrator.Prover. groth16.Prove is not interruptible,
// so a cancelled context only stops the caller from waiting.
func (g *Groth16) Prove(ctx context.Context, w orchestrator.Witness) (*orchestrator.ProofResult, error) {
	keys, ok := g.keys[w.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCircuit, w.Kind)
	}
	if want, _ := transactions.CircuitIDOf(w.Kind); w.CircuitID != want {
		return nil, fmt.Errorf("%w: %s for %s", ErrCircuitMismatch, w.CircuitID, w.Kind)
	}
	publics, err := w.PublicInputs()
	if err != nil {
		return nil, err
	}

	var assignment frontend.Circuit
	if w.Kind == transactions.KindDeposit {
		assignment = w.Deposit.Assignment()
	} else {
		assignment = w.Withdraw.Assignment()
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness creation failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type outcome struct {
		proof []byte
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		proof, err := groth16.Prove(keys.ccs, keys.pk, full)
		if err != nil {
			done <- outcome{err: fmt.Errorf("proof generation failed: %w", err)}
			return
		}
		var buf bytes.Buffer
		if _, err := proof.WriteTo(&buf); err != nil {
			done <- outcome{err: fmt.Errorf("proof marshaling failed: %w", err)}
			return
		}
		done <- outcome{proof: buf.Bytes()}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return &orchestrator.ProofResult{Proof: out.proof, PublicInputs: publics}, nil
	}
}

// Verifier returns a verifier holding this prover's verifying keys.
func (g *Groth16) Verifier() *Verifier {
	vks := make(map[transactions.Kind]groth16.VerifyingKey, len(g.keys))
	for kind, k := range g.keys {
		vks[kind] = k.vk
	}
	return NewVerifier(g.cfg.Depth, vks)
}
