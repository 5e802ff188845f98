// Package orchestrator drives deposits and withdrawals through
// build, prove, submit and confirm.
//
// Nothing local changes until the ledger has confirmed a transaction: tree
// changes are staged with Preview* and applied together with the coin ledger
// update in a final step. The one exception is the nullifier nonce, which is
// reserved before proving so that a retry never reveals the same nullifier.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shieldpool/internal/codec"
	"shieldpool/internal/coinledger"
	"shieldpool/internal/field"
	"shieldpool/internal/transactions"
	"shieldpool/internal/transactions/deposit"
	"shieldpool/internal/transactions/withdraw"
)

// Stage names a step of an operation.
type Stage string

const (
	StageBuildCommitment         Stage = "build_commitment"
	StageInsertLeaf              Stage = "insert_leaf"
	StageSelectCommitments       Stage = "select_commitments"
	StageDeriveNullifier         Stage = "derive_nullifier"
	StageComputeChangeCommitment Stage = "compute_change_commitment"
	StageUpdateTreeLeaf          Stage = "update_tree_leaf"
	StageAssembleWitness         Stage = "assemble_witness"
	StageRequestProof            Stage = "request_proof"
	StageSubmitLedgerTx          Stage = "submit_ledger_tx"
	StageRecordLocalState        Stage = "record_local_state"
	StageMarkSpentLocally        Stage = "mark_spent_locally"
	StageRecordChangeCommitment  Stage = "record_change_commitment"
	StageDone                    Stage = "done"
)

// Operation identifies one deposit or withdrawal attempt.
type Operation struct {
	ID     string
	Kind   transactions.Kind
	Amount uint64
}

// Observer receives stage transitions, typically to export metrics.
type Observer interface {
	StageEntered(op Operation, stage Stage)
	OperationFinished(op Operation, err error, elapsed time.Duration)
}

// Config carries the wallet identity and optional hooks.
type Config struct {
	SecretKey field.Element
	PoolID    field.Element
	Logger    zerolog.Logger
	Observer  Observer
	// Locker, when set, is held while local state is mutated.
	Locker sync.Locker
}

// Orchestrator runs operations for one wallet. Callers serialize
// operations; see internal/wallet.
type Orchestrator struct {
	cfg    Config
	owner  field.Element
	codec  *codec.Codec
	coins  *coinledger.Ledger
	prover Prover
	chain  Ledger
	locker sync.Locker
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// New wires an orchestrator.
func New(c *codec.Codec, coins *coinledger.Ledger, p Prover, chain Ledger, cfg Config) *Orchestrator {
	locker := cfg.Locker
	if locker == nil {
		locker = nopLocker{}
	}
	return &Orchestrator{
		cfg:    cfg,
		owner:  c.DeriveOwner(cfg.SecretKey),
		codec:  c,
		coins:  coins,
		prover: p,
		chain:  chain,
		locker: locker,
	}
}

// Owner returns the wallet's owner identifier.
func (o *Orchestrator) Owner() field.Element { return o.owner }

// DepositResult describes a confirmed deposit.
type DepositResult struct {
	OperationID string
	TxRef       string
	Commitment  field.Element
	LeafIndex   uint64
	Root        field.Element
}

// WithdrawResult describes a confirmed withdrawal. Change is nil on a full
// spend.
type WithdrawResult struct {
	OperationID string
	TxRef       string
	Spent       field.Element
	Nullifier   field.Element
	Change      *coinledger.Record
	Root        field.Element
}

type run struct {
	o     *Orchestrator
	op    Operation
	log   zerolog.Logger
	start time.Time
}

func (o *Orchestrator) begin(kind transactions.Kind, amount uint64) *run {
	op := Operation{ID: uuid.NewString(), Kind: kind, Amount: amount}
	return &run{
		o:     o,
		op:    op,
		log:   o.cfg.Logger.With().Str("op", op.ID).Str("kind", string(kind)).Uint64("amount", amount).Logger(),
		start: time.Now(),
	}
}

func (r *run) enter(stage Stage) {
	r.log.Debug().Str("stage", string(stage)).Msg("stage")
	if r.o.cfg.Observer != nil {
		r.o.cfg.Observer.StageEntered(r.op, stage)
	}
}

func (r *run) finish(err error) {
	elapsed := time.Since(r.start)
	if err != nil {
		r.log.Warn().Err(err).Str("category", CategoryOf(err).String()).Dur("elapsed", elapsed).Msg("operation failed")
	} else {
		r.enter(StageDone)
		r.log.Info().Dur("elapsed", elapsed).Msg("operation confirmed")
	}
	if r.o.cfg.Observer != nil {
		r.o.cfg.Observer.OperationFinished(r.op, err, elapsed)
	}
}

// Deposit shields amount into a fresh commitment.
func (o *Orchestrator) Deposit(ctx context.Context, amount uint64) (res *DepositResult, err error) {
	r := o.begin(transactions.KindDeposit, amount)
	defer func() { r.finish(err) }()

	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	r.enter(StageBuildCommitment)
	blinding, err := o.codec.GenerateBlinding()
	if err != nil {
		return nil, err
	}
	secret, err := o.codec.GenerateNullifierSecret()
	if err != nil {
		return nil, err
	}
	cm := o.codec.ComputeCommitment(o.owner, amount, o.cfg.PoolID, blinding)

	r.enter(StageInsertLeaf)
	o.locker.Lock()
	tree := o.coins.Tree()
	oldRoot := tree.Root()
	staged, err := tree.PreviewInsert(cm)
	o.locker.Unlock()
	if err != nil {
		return nil, err
	}

	r.enter(StageAssembleWitness)
	w := Witness{
		Kind:      transactions.KindDeposit,
		CircuitID: transactions.DepositCircuitID,
		Deposit: &deposit.Witness{
			Amount:     amount,
			Commitment: cm,
			LeafIndex:  staged.Index,
			OldRoot:    oldRoot,
			NewRoot:    staged.Root,
			Owner:      o.owner,
			PoolID:     o.cfg.PoolID,
			Blinding:   blinding,
			Path:       staged.Proof.Siblings(),
		},
	}

	r.enter(StageRequestProof)
	proof, err := o.prove(ctx, w)
	if err != nil {
		return nil, err
	}

	r.enter(StageSubmitLedgerTx)
	txRef, err := o.submit(ctx, &Submission{
		Kind:       transactions.KindDeposit,
		CircuitID:  transactions.DepositCircuitID,
		Proof:      proof.Proof,
		Commitment: cm,
		OldRoot:    oldRoot,
		NewRoot:    staged.Root,
		Amount:     amount,
		LeafIndex:  staged.Index,
	})
	if err != nil {
		return nil, err
	}

	r.enter(StageRecordLocalState)
	o.locker.Lock()
	defer o.locker.Unlock()
	tree = o.coins.Tree()
	if tree.Root() != oldRoot || tree.LeafCount() != staged.Index {
		return nil, fmt.Errorf("%w: tree moved while deposit %s was in flight", ErrStateCorruption, txRef)
	}
	if _, dup := o.coins.Record(cm); dup {
		return nil, fmt.Errorf("%w: commitment %s already recorded", ErrStateCorruption, cm.Hex())
	}
	applied, err := tree.Insert(cm)
	if err != nil {
		return nil, err
	}
	if applied.Root != staged.Root {
		return nil, fmt.Errorf("%w: applied root %s, proven root %s", ErrStateCorruption, applied.Root.Hex(), staged.Root.Hex())
	}
	err = o.coins.AddCommitment(coinledger.Record{
		Commitment:      cm,
		Amount:          amount,
		Owner:           o.owner,
		PoolID:          o.cfg.PoolID,
		Blinding:        blinding,
		NullifierSecret: secret,
		LeafIndex:       staged.Index,
		TxRef:           txRef,
	})
	if err != nil {
		return nil, err
	}

	return &DepositResult{
		OperationID: r.op.ID,
		TxRef:       txRef,
		Commitment:  cm,
		LeafIndex:   staged.Index,
		Root:        applied.Root,
	}, nil
}

// Withdraw releases amount from a single commitment to recipient. Any
// remainder is re-shielded as a change commitment in the same slot.
func (o *Orchestrator) Withdraw(ctx context.Context, amount uint64, recipient field.Element) (res *WithdrawResult, err error) {
	r := o.begin(transactions.KindWithdraw, amount)
	defer func() { r.finish(err) }()

	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	if recipient.IsZero() {
		return nil, ErrInvalidRecipient
	}

	r.enter(StageSelectCommitments)
	o.locker.Lock()
	selected, err := o.coins.FindCommitmentsForAmount(amount)
	o.locker.Unlock()
	if err != nil {
		return nil, err
	}
	if len(selected) > 1 {
		return nil, fmt.Errorf("%w: %d inputs needed for %d, largest holds %d",
			ErrMultiInputUnsupported, len(selected), amount, selected[0].Amount)
	}
	input := selected[0]

	r.enter(StageDeriveNullifier)
	o.locker.Lock()
	nonce, err := o.coins.ReserveNonce(input.Commitment)
	o.locker.Unlock()
	if err != nil {
		return nil, err
	}
	nullifier := o.codec.ComputeNullifier(input.Commitment, input.NullifierSecret, nonce)
	if o.coins.NullifierRevealed(nullifier) {
		return nil, fmt.Errorf("%w: %s", ErrNullifierReused, nullifier.Hex())
	}

	remainder := input.Amount - amount
	newLeaf := field.Zero()
	changeBlinding := field.Zero()
	var change *coinledger.Record
	if remainder > 0 {
		r.enter(StageComputeChangeCommitment)
		if changeBlinding, err = o.codec.GenerateBlinding(); err != nil {
			return nil, err
		}
		changeSecret, err := o.codec.GenerateNullifierSecret()
		if err != nil {
			return nil, err
		}
		newLeaf = o.codec.ComputeCommitment(o.owner, remainder, o.cfg.PoolID, changeBlinding)
		change = &coinledger.Record{
			Commitment:      newLeaf,
			Amount:          remainder,
			Owner:           o.owner,
			PoolID:          o.cfg.PoolID,
			Blinding:        changeBlinding,
			NullifierSecret: changeSecret,
			LeafIndex:       input.LeafIndex,
		}
	}

	r.enter(StageUpdateTreeLeaf)
	o.locker.Lock()
	tree := o.coins.Tree()
	if tree.Leaf(input.LeafIndex) != input.Commitment {
		o.locker.Unlock()
		return nil, fmt.Errorf("%w: slot %d does not hold %s", ErrStateCorruption, input.LeafIndex, input.Commitment.Hex())
	}
	staged, err := tree.PreviewUpdate(input.LeafIndex, newLeaf)
	o.locker.Unlock()
	if err != nil {
		return nil, err
	}

	r.enter(StageAssembleWitness)
	w := Witness{
		Kind:      transactions.KindWithdraw,
		CircuitID: transactions.WithdrawCircuitID,
		Withdraw: &withdraw.Witness{
			Amount:          amount,
			Recipient:       recipient,
			Nullifier:       nullifier,
			OldRoot:         staged.OldRoot,
			NewRoot:         staged.NewRoot,
			SecretKey:       o.cfg.SecretKey,
			Balance:         input.Amount,
			PoolID:          input.PoolID,
			Blinding:        input.Blinding,
			NullifierSecret: input.NullifierSecret,
			Nonce:           nonce,
			LeafIndex:       input.LeafIndex,
			ChangeBlinding:  changeBlinding,
			Path:            staged.Proof.Siblings(),
		},
	}

	r.enter(StageRequestProof)
	proof, err := o.prove(ctx, w)
	if err != nil {
		return nil, err
	}

	r.enter(StageSubmitLedgerTx)
	txRef, err := o.submit(ctx, &Submission{
		Kind:      transactions.KindWithdraw,
		CircuitID: transactions.WithdrawCircuitID,
		Proof:     proof.Proof,
		Nullifier: nullifier,
		OldRoot:   staged.OldRoot,
		NewRoot:   staged.NewRoot,
		Amount:    amount,
		Recipient: recipient,
		LeafIndex: input.LeafIndex,
	})
	if err != nil {
		return nil, err
	}

	r.enter(StageMarkSpentLocally)
	o.locker.Lock()
	defer o.locker.Unlock()
	tree = o.coins.Tree()
	if tree.Root() != staged.OldRoot {
		return nil, fmt.Errorf("%w: tree moved while withdrawal %s was in flight", ErrStateCorruption, txRef)
	}
	if err := o.checkSpend(input.Commitment, nullifier, change); err != nil {
		return nil, err
	}
	applied, err := tree.Update(input.LeafIndex, newLeaf)
	if err != nil {
		return nil, err
	}
	if applied.NewRoot != staged.NewRoot {
		return nil, fmt.Errorf("%w: applied root %s, proven root %s", ErrStateCorruption, applied.NewRoot.Hex(), staged.NewRoot.Hex())
	}
	if err := o.coins.MarkSpent(input.Commitment, txRef); err != nil {
		return nil, err
	}
	if err := o.coins.RecordRevealedNullifier(nullifier); err != nil {
		return nil, err
	}

	if change != nil {
		r.enter(StageRecordChangeCommitment)
		change.TxRef = txRef
		if err := o.coins.AddCommitment(*change); err != nil {
			return nil, err
		}
	}

	return &WithdrawResult{
		OperationID: r.op.ID,
		TxRef:       txRef,
		Spent:       input.Commitment,
		Nullifier:   nullifier,
		Change:      change,
		Root:        applied.NewRoot,
	}, nil
}

// checkSpend rejects a confirmed withdrawal the ledger could not record, so
// the tree is only updated when every bookkeeping step will succeed.
func (o *Orchestrator) checkSpend(input, nullifier field.Element, change *coinledger.Record) error {
	rec, ok := o.coins.Record(input)
	if !ok || rec.Spent {
		return fmt.Errorf("%w: input %s is no longer spendable", ErrStateCorruption, input.Hex())
	}
	if o.coins.NullifierRevealed(nullifier) {
		return fmt.Errorf("%w: %s", ErrNullifierReused, nullifier.Hex())
	}
	if change != nil {
		if _, dup := o.coins.Record(change.Commitment); dup {
			return fmt.Errorf("%w: change %s already recorded", ErrStateCorruption, change.Commitment.Hex())
		}
	}
	return nil
}

func (o *Orchestrator) prove(ctx context.Context, w Witness) (*ProofResult, error) {
	res, err := o.prover.Prove(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProofGenerationFailed, err)
	}
	return res, nil
}

func (o *Orchestrator) submit(ctx context.Context, sub *Submission) (string, error) {
	txRef, err := o.chain.Submit(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLedgerSubmissionFailed, err)
	}
	return txRef, nil
}
