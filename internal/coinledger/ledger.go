// Package coinledger keeps the wallet's commitment bookkeeping next to the
// Merkle tree it mirrors: which commitments it owns, which are spent, their
// nullifier secrets and nonces, and which inputs to pick for a withdrawal.
//
// Ledger is not safe for concurrent use; callers serialize access.
package coinledger

import (
	"errors"
	"fmt"
	"sort"

	"shieldpool/internal/codec"
	"shieldpool/internal/field"
	"shieldpool/internal/merkle"
)

var (
	ErrInsufficientBalance = errors.New("coinledger: insufficient unspent balance")
	ErrInvalidAmount       = errors.New("coinledger: amount must be positive")
	ErrUnknownCommitment   = errors.New("coinledger: unknown commitment")
	ErrDuplicateCommitment = errors.New("coinledger: commitment already recorded")
	ErrAlreadySpent        = errors.New("coinledger: commitment already spent")
	ErrCommitmentMismatch  = errors.New("coinledger: record does not open to its commitment")
	ErrLeafMismatch        = errors.New("coinledger: tree leaf does not match record")
	ErrNullifierReused     = errors.New("coinledger: nullifier already revealed")
	ErrStateCorruption     = errors.New("coinledger: state corruption")
)

// Ledger tracks owned commitments against a Merkle tree.
type Ledger struct {
	codec    *codec.Codec
	tree     *merkle.Tree
	records  map[field.Element]*Record
	order    []field.Element
	revealed map[field.Element]struct{}
}

// New returns an empty ledger bound to tree.
func New(c *codec.Codec, tree *merkle.Tree) *Ledger {
	return &Ledger{
		codec:    c,
		tree:     tree,
		records:  make(map[field.Element]*Record),
		revealed: make(map[field.Element]struct{}),
	}
}

// Tree returns the accumulator. ImportState swaps it, so callers must not
// cache the pointer across an import.
func (l *Ledger) Tree() *merkle.Tree { return l.tree }

// Codec returns the codec records are checked against.
func (l *Ledger) Codec() *codec.Codec { return l.codec }

// AddCommitment records rec. When the tree has not reached rec.LeafIndex yet,
// skipped slots are filled with the zero leaf and the slot is written, which
// is how confirmed external events are replayed. A spent record occupies its
// slot with the zero leaf, the same layout ImportState rebuilds. When the
// slot already exists, an unspent record must match the leaf stored there or
// claim a slot still holding the zero leaf.
func (l *Ledger) AddCommitment(rec Record) error {
	if _, ok := l.records[rec.Commitment]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommitment, rec.Commitment.Hex())
	}
	if err := l.checkOpening(rec); err != nil {
		return err
	}
	if rec.LeafIndex >= l.tree.Capacity() {
		return fmt.Errorf("%w: leaf index %d", merkle.ErrOutOfRange, rec.LeafIndex)
	}

	if l.tree.LeafCount() <= rec.LeafIndex {
		if err := padTo(l.tree, rec.LeafIndex); err != nil {
			return err
		}
		if _, err := l.tree.Insert(slotLeaf(l.tree, rec)); err != nil {
			return err
		}
	} else if !rec.Spent {
		switch leaf := l.tree.Leaf(rec.LeafIndex); {
		case leaf == rec.Commitment:
		case leaf == l.tree.ZeroValue(0):
			if _, err := l.tree.Update(rec.LeafIndex, rec.Commitment); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: slot %d", ErrLeafMismatch, rec.LeafIndex)
		}
	}

	stored := rec
	l.records[rec.Commitment] = &stored
	l.order = append(l.order, rec.Commitment)
	return nil
}

func (l *Ledger) checkOpening(rec Record) error {
	want := l.codec.ComputeCommitment(rec.Owner, rec.Amount, rec.PoolID, rec.Blinding)
	if want != rec.Commitment {
		return fmt.Errorf("%w: %s", ErrCommitmentMismatch, rec.Commitment.Hex())
	}
	return nil
}

func slotLeaf(tree *merkle.Tree, rec Record) field.Element {
	if rec.Spent {
		return tree.ZeroValue(0)
	}
	return rec.Commitment
}

// padTo inserts zero leaves until the tree holds exactly index leaves.
func padTo(tree *merkle.Tree, index uint64) error {
	for tree.LeafCount() < index {
		if _, err := tree.Insert(tree.ZeroValue(0)); err != nil {
			return err
		}
	}
	return nil
}

// MarkSpent flags commitment as spent by txRef.
func (l *Ledger) MarkSpent(commitment field.Element, txRef string) error {
	rec, ok := l.records[commitment]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommitment, commitment.Hex())
	}
	if rec.Spent {
		return fmt.Errorf("%w: %s", ErrAlreadySpent, commitment.Hex())
	}
	rec.Spent = true
	rec.TxRef = txRef
	return nil
}

// Record returns a copy of the record for commitment.
func (l *Ledger) Record(commitment field.Element) (Record, bool) {
	rec, ok := l.records[commitment]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// NullifierSecret returns the secret stored for commitment.
func (l *Ledger) NullifierSecret(commitment field.Element) (field.Element, bool) {
	rec, ok := l.records[commitment]
	if !ok {
		return field.Element{}, false
	}
	return rec.NullifierSecret, true
}

// NextNonce returns the nonce the next spend of commitment will use.
func (l *Ledger) NextNonce(commitment field.Element) (uint64, error) {
	rec, ok := l.records[commitment]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommitment, commitment.Hex())
	}
	return rec.Nonce, nil
}

// ReserveNonce returns the next nonce for commitment and advances it, so a
// retried spend of the same slot never reuses a nullifier.
func (l *Ledger) ReserveNonce(commitment field.Element) (uint64, error) {
	rec, ok := l.records[commitment]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommitment, commitment.Hex())
	}
	if rec.Spent {
		return 0, fmt.Errorf("%w: %s", ErrAlreadySpent, commitment.Hex())
	}
	nonce := rec.Nonce
	rec.Nonce++
	return nonce, nil
}

// RecordRevealedNullifier remembers that nullifier has been published.
func (l *Ledger) RecordRevealedNullifier(nullifier field.Element) error {
	if _, ok := l.revealed[nullifier]; ok {
		return fmt.Errorf("%w: %s", ErrNullifierReused, nullifier.Hex())
	}
	l.revealed[nullifier] = struct{}{}
	return nil
}

// NullifierRevealed reports whether nullifier was published by this wallet.
func (l *Ledger) NullifierRevealed(nullifier field.Element) bool {
	_, ok := l.revealed[nullifier]
	return ok
}

// Records returns every record ordered by leaf index, then insertion order.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.order))
	for _, cm := range l.order {
		out = append(out, *l.records[cm])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LeafIndex < out[j].LeafIndex })
	return out
}

// UnspentCommitments returns unspent records ordered by leaf index.
func (l *Ledger) UnspentCommitments() []Record {
	var out []Record
	for _, rec := range l.Records() {
		if !rec.Spent {
			out = append(out, rec)
		}
	}
	return out
}

// TotalUnspentBalance sums unspent amounts.
func (l *Ledger) TotalUnspentBalance() uint64 {
	var total uint64
	for _, rec := range l.records {
		if !rec.Spent {
			total += rec.Amount
		}
	}
	return total
}

// FindCommitmentsForAmount picks unspent records largest first until their
// sum reaches target.
func (l *Ledger) FindCommitmentsForAmount(target uint64) ([]Record, error) {
	if target == 0 {
		return nil, ErrInvalidAmount
	}
	candidates := l.UnspentCommitments()
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Amount > candidates[j].Amount })

	var (
		selected []Record
		sum      uint64
	)
	for _, rec := range candidates {
		selected = append(selected, rec)
		sum += rec.Amount
		if sum >= target {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sum, target)
}
