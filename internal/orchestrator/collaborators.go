package orchestrator

import (
	"context"
	"fmt"

	"shieldpool/internal/field"
	"shieldpool/internal/transactions"
	"shieldpool/internal/transactions/deposit"
	"shieldpool/internal/transactions/withdraw"
)

// Witness is handed to the prover. Exactly one of Deposit or Withdraw is set,
// matching Kind.
type Witness struct {
	Kind      transactions.Kind
	CircuitID transactions.CircuitID
	Deposit   *deposit.Witness
	Withdraw  *withdraw.Witness
}

// PublicInputs returns the public vector in circuit order.
func (w Witness) PublicInputs() ([]field.Element, error) {
	switch {
	case w.Kind == transactions.KindDeposit && w.Deposit != nil:
		return w.Deposit.PublicInputs(), nil
	case w.Kind == transactions.KindWithdraw && w.Withdraw != nil:
		return w.Withdraw.PublicInputs(), nil
	}
	return nil, fmt.Errorf("orchestrator: malformed %q witness", w.Kind)
}

// ProofResult is what a Prover returns.
type ProofResult struct {
	Proof        []byte
	PublicInputs []field.Element
}

// Prover turns a witness into a proof. Failures are opaque to the
// orchestrator.
type Prover interface {
	Prove(ctx context.Context, w Witness) (*ProofResult, error)
}

// Submission is a transaction as the pool ledger sees it. Deposits carry
// Commitment and LeafIndex, withdrawals carry Nullifier and Recipient.
type Submission struct {
	Kind       transactions.Kind      `json:"kind"`
	CircuitID  transactions.CircuitID `json:"circuitId"`
	Proof      []byte                 `json:"proof"`
	Commitment field.Element          `json:"commitment"`
	Nullifier  field.Element          `json:"nullifier"`
	OldRoot    field.Element          `json:"oldRoot"`
	NewRoot    field.Element          `json:"newRoot"`
	Amount     uint64                 `json:"amount"`
	Recipient  field.Element          `json:"recipient"`
	LeafIndex  uint64                 `json:"leafIndex"`
}

// Ledger accepts submissions and returns a transaction reference once the
// transaction is confirmed.
type Ledger interface {
	Submit(ctx context.Context, sub *Submission) (string, error)
}
