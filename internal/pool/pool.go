// Package pool is a simulated on-chain shielded pool. It holds the canonical
// root, a window of recent roots, the nullifier set and the total shielded
// balance, and only moves the root forward when a submission's proof checks
// out against the verifying keys.
package pool

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/merkle"
	"shieldpool/internal/orchestrator"
	"shieldpool/internal/transactions"
)

var (
	ErrPoolPaused              = errors.New("pool: paused")
	ErrUnknownRoot             = errors.New("pool: unknown merkle root")
	ErrStaleRoot               = errors.New("pool: merkle root is no longer current")
	ErrLeafIndexMismatch       = errors.New("pool: leaf index is not the next free slot")
	ErrNullifierUsed           = errors.New("pool: nullifier already used")
	ErrInvalidProof            = errors.New("pool: invalid proof")
	ErrInsufficientPoolBalance = errors.New("pool: insufficient pool balance")
	ErrOverflow                = errors.New("pool: balance overflow")
	ErrCircuitMismatch         = errors.New("pool: circuit id mismatch")
	ErrInvalidSubmission       = errors.New("pool: invalid submission")
)

// Verifier checks a submission's proof.
type Verifier interface {
	Verify(sub *orchestrator.Submission) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(sub *orchestrator.Submission) error

func (f VerifierFunc) Verify(sub *orchestrator.Submission) error { return f(sub) }

// Config sizes the pool.
type Config struct {
	Depth       int
	Hasher      hashing.Hasher
	RootHistory int
	Logger      zerolog.Logger
}

// Stats counts confirmed transactions.
type Stats struct {
	Deposits       uint64 `json:"deposits"`
	Withdrawals    uint64 `json:"withdrawals"`
	TotalDeposited uint64 `json:"totalDeposited"`
	TotalWithdrawn uint64 `json:"totalWithdrawn"`
	Rejected       uint64 `json:"rejected"`
}

// TxRecord is the public trace of a confirmed transaction.
type TxRecord struct {
	ID          string                 `json:"id"`
	Kind        transactions.Kind      `json:"kind"`
	CircuitID   transactions.CircuitID `json:"circuitId"`
	Amount      uint64                 `json:"amount"`
	Commitment  *field.Element         `json:"commitment,omitempty"`
	Nullifier   *field.Element         `json:"nullifier,omitempty"`
	Recipient   *field.Element         `json:"recipient,omitempty"`
	LeafIndex   uint64                 `json:"leafIndex"`
	NewRoot     field.Element          `json:"newRoot"`
	ConfirmedAt time.Time              `json:"confirmedAt"`
}

// Status is a read-only view of the pool.
type Status struct {
	Root        field.Element   `json:"root"`
	LeafCount   uint64          `json:"leafCount"`
	Balance     uint64          `json:"balance"`
	Paused      bool            `json:"paused"`
	Stats       Stats           `json:"stats"`
	RecentRoots []field.Element `json:"recentRoots"`
}

// Pool is safe for concurrent use.
type Pool struct {
	mu         sync.Mutex
	depth      int
	verifier   Verifier
	log        zerolog.Logger
	root       field.Element
	leafCount  uint64
	history    *merkle.RootHistory
	nullifiers map[field.Element]struct{}
	balance    uint64
	paused     bool
	stats      Stats
	txs        []TxRecord
}

var _ orchestrator.Ledger = (*Pool)(nil)

// New returns an empty pool whose root is the empty tree of cfg.Depth.
func New(cfg Config, v Verifier) (*Pool, error) {
	h := cfg.Hasher
	if h == nil {
		h = hashing.NewMiMC()
	}
	empty, err := merkle.New(cfg.Depth, h)
	if err != nil {
		return nil, err
	}
	capacity := cfg.RootHistory
	if capacity == 0 {
		capacity = merkle.DefaultRootHistory
	}
	p := &Pool{
		depth:      cfg.Depth,
		verifier:   v,
		log:        cfg.Logger,
		root:       empty.Root(),
		history:    merkle.NewRootHistory(capacity),
		nullifiers: make(map[field.Element]struct{}),
	}
	p.history.Push(p.root)
	return p, nil
}

// Submit implements orchestrator.Ledger. A nil error means the transaction
// is confirmed.
func (p *Pool) Submit(ctx context.Context, sub *orchestrator.Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	txID, err := p.apply(sub)
	if err != nil {
		p.stats.Rejected++
		p.log.Warn().Err(err).Str("kind", string(sub.Kind)).Uint64("amount", sub.Amount).Msg("submission rejected")
		return "", err
	}
	p.log.Info().Str("tx", txID).Str("kind", string(sub.Kind)).Str("root", p.root.Hex()).Msg("submission confirmed")
	return txID, nil
}

func (p *Pool) apply(sub *orchestrator.Submission) (string, error) {
	if p.paused {
		return "", ErrPoolPaused
	}
	want, err := transactions.CircuitIDOf(sub.Kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if sub.CircuitID != want {
		return "", fmt.Errorf("%w: got %s, want %s", ErrCircuitMismatch, sub.CircuitID, want)
	}
	if sub.Amount == 0 {
		return "", fmt.Errorf("%w: zero amount", ErrInvalidSubmission)
	}
	if err := p.checkRoot(sub.OldRoot); err != nil {
		return "", err
	}

	rec := TxRecord{
		Kind:      sub.Kind,
		CircuitID: sub.CircuitID,
		Amount:    sub.Amount,
		LeafIndex: sub.LeafIndex,
		NewRoot:   sub.NewRoot,
	}
	var balance uint64
	switch sub.Kind {
	case transactions.KindDeposit:
		if sub.LeafIndex != p.leafCount {
			return "", fmt.Errorf("%w: got %d, next is %d", ErrLeafIndexMismatch, sub.LeafIndex, p.leafCount)
		}
		var carry uint64
		if balance, carry = bits.Add64(p.balance, sub.Amount, 0); carry != 0 {
			return "", ErrOverflow
		}
		cm := sub.Commitment
		rec.Commitment = &cm
	case transactions.KindWithdraw:
		if sub.Recipient.IsZero() {
			return "", fmt.Errorf("%w: zero recipient", ErrInvalidSubmission)
		}
		if _, used := p.nullifiers[sub.Nullifier]; used {
			return "", fmt.Errorf("%w: %s", ErrNullifierUsed, sub.Nullifier.Hex())
		}
		if sub.Amount > p.balance {
			return "", fmt.Errorf("%w: holds %d, asked %d", ErrInsufficientPoolBalance, p.balance, sub.Amount)
		}
		balance = p.balance - sub.Amount
		nf, to := sub.Nullifier, sub.Recipient
		rec.Nullifier, rec.Recipient = &nf, &to
	}

	if p.verifier != nil {
		if err := p.verifier.Verify(sub); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidProof, err)
		}
	}

	rec.ID = txID(sub)
	rec.ConfirmedAt = time.Now().UTC()
	p.root = sub.NewRoot
	p.history.Push(sub.NewRoot)
	p.balance = balance
	if sub.Kind == transactions.KindDeposit {
		p.leafCount++
		p.stats.Deposits++
		p.stats.TotalDeposited += sub.Amount
	} else {
		p.nullifiers[sub.Nullifier] = struct{}{}
		p.stats.Withdrawals++
		p.stats.TotalWithdrawn += sub.Amount
	}
	p.txs = append(p.txs, rec)
	return rec.ID, nil
}

// checkRoot requires the current root. Every transaction rewrites the tree
// from its old root, so a historical root cannot be built upon.
func (p *Pool) checkRoot(root field.Element) error {
	if root == p.root {
		return nil
	}
	if p.history.Contains(root) {
		return fmt.Errorf("%w: %s", ErrStaleRoot, root.Hex())
	}
	return fmt.Errorf("%w: %s", ErrUnknownRoot, root.Hex())
}

func txID(sub *orchestrator.Submission) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sub.CircuitID))
	h.Write(sub.Proof)
	for _, e := range []field.Element{sub.Commitment, sub.Nullifier, sub.OldRoot, sub.NewRoot} {
		b := e.Bytes()
		h.Write(b[:])
	}
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// SetPaused stops or resumes accepting submissions.
func (p *Pool) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	p.log.Info().Bool("paused", paused).Msg("pool pause state changed")
}

// Root returns the current root.
func (p *Pool) Root() field.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.root
}

// IsKnownRoot reports whether root is within the retained window.
func (p *Pool) IsKnownRoot(root field.Element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Contains(root)
}

// IsNullifierUsed reports whether nf has been spent.
func (p *Pool) IsNullifierUsed(nf field.Element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.nullifiers[nf]
	return ok
}

// Status returns a snapshot.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Root:        p.root,
		LeafCount:   p.leafCount,
		Balance:     p.balance,
		Paused:      p.paused,
		Stats:       p.stats,
		RecentRoots: p.history.Recent(p.history.Capacity()),
	}
}

// Transactions returns confirmed transactions in order.
func (p *Pool) Transactions() []TxRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TxRecord, len(p.txs))
	copy(out, p.txs)
	return out
}
