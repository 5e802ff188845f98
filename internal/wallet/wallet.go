// Package wallet ties one identity to its coin ledger, orchestrator and
// on-disk store. It runs at most one operation at a time and persists the
// ledger after every operation that changed it.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"shieldpool/internal/codec"
	"shieldpool/internal/coinledger"
	"shieldpool/internal/field"
	"shieldpool/internal/hashing"
	"shieldpool/internal/merkle"
	"shieldpool/internal/orchestrator"
	"shieldpool/internal/store"
	"shieldpool/internal/transactions"
)

var (
	ErrBusy           = errors.New("wallet: another operation is in progress")
	ErrConfigMismatch = errors.New("wallet: configuration does not match stored wallet")
)

// DefaultDepth is used when Config.Depth is zero.
const DefaultDepth = 20

// Config describes the wallet to open or create.
type Config struct {
	Depth  int
	Hasher string
	PoolID field.Element
	// SecretKey is only used when creating a wallet; zero draws a fresh key.
	SecretKey field.Element
	Logger    zerolog.Logger
	Observer  orchestrator.Observer
}

// Wallet is safe for concurrent use.
type Wallet struct {
	gate  *semaphore.Weighted
	mu    sync.RWMutex
	store *store.Store
	meta  store.Meta
	codec *codec.Codec
	coins *coinledger.Ledger
	orch  *orchestrator.Orchestrator
	log   zerolog.Logger
}

// Open loads the wallet kept in st, creating it from cfg when st is empty.
// The store stays owned by the caller.
func Open(st *store.Store, cfg Config, p orchestrator.Prover, chain orchestrator.Ledger) (*Wallet, error) {
	meta, found, err := st.Meta()
	if err != nil {
		return nil, err
	}
	if found {
		if err := checkMeta(meta, cfg); err != nil {
			return nil, err
		}
	} else if meta, err = create(st, cfg); err != nil {
		return nil, err
	}

	h, err := hashing.ByName(meta.Hasher)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.New(meta.Depth, h)
	if err != nil {
		return nil, err
	}
	c := codec.New(h)
	w := &Wallet{
		gate:  semaphore.NewWeighted(1),
		store: st,
		meta:  meta,
		codec: c,
		coins: coinledger.New(c, tree),
		log:   cfg.Logger.With().Str("component", "wallet").Logger(),
	}

	state, root, ok, err := st.Snapshot()
	if err != nil {
		return nil, err
	}
	if ok {
		if err := w.coins.ImportState(state, &root); err != nil {
			return nil, fmt.Errorf("restore wallet: %w", err)
		}
	}

	w.orch = orchestrator.New(c, w.coins, p, chain, orchestrator.Config{
		SecretKey: meta.SecretKey,
		PoolID:    meta.PoolID,
		Logger:    cfg.Logger,
		Observer:  cfg.Observer,
		Locker:    &w.mu,
	})
	w.log.Info().
		Bool("created", !found).
		Int("depth", meta.Depth).
		Str("hasher", meta.Hasher).
		Uint64("balance", w.coins.TotalUnspentBalance()).
		Msg("wallet open")
	return w, nil
}

func create(st *store.Store, cfg Config) (store.Meta, error) {
	meta := store.Meta{
		Depth:     cfg.Depth,
		Hasher:    cfg.Hasher,
		PoolID:    cfg.PoolID,
		SecretKey: cfg.SecretKey,
		CreatedAt: time.Now().UTC(),
	}
	if meta.Depth == 0 {
		meta.Depth = DefaultDepth
	}
	if meta.Hasher == "" {
		meta.Hasher = hashing.NameMiMC
	}
	if meta.SecretKey.IsZero() {
		h, err := hashing.ByName(meta.Hasher)
		if err != nil {
			return store.Meta{}, err
		}
		if meta.SecretKey, err = codec.New(h).GenerateSecretKey(); err != nil {
			return store.Meta{}, err
		}
	}
	if err := st.PutMeta(meta); err != nil {
		return store.Meta{}, fmt.Errorf("save wallet meta: %w", err)
	}
	return meta, nil
}

func checkMeta(meta store.Meta, cfg Config) error {
	switch {
	case cfg.Depth != 0 && cfg.Depth != meta.Depth:
		return fmt.Errorf("%w: depth %d, stored %d", ErrConfigMismatch, cfg.Depth, meta.Depth)
	case cfg.Hasher != "" && cfg.Hasher != meta.Hasher:
		return fmt.Errorf("%w: hasher %q, stored %q", ErrConfigMismatch, cfg.Hasher, meta.Hasher)
	case !cfg.PoolID.IsZero() && cfg.PoolID != meta.PoolID:
		return fmt.Errorf("%w: pool %s, stored %s", ErrConfigMismatch, cfg.PoolID, meta.PoolID)
	}
	return nil
}

// Meta returns the wallet identity.
func (w *Wallet) Meta() store.Meta { return w.meta }

// Owner returns the owner identifier derived from the secret key.
func (w *Wallet) Owner() field.Element { return w.orch.Owner() }

// Deposit shields amount. It fails fast with ErrBusy while another operation
// runs.
func (w *Wallet) Deposit(ctx context.Context, amount uint64) (*orchestrator.DepositResult, error) {
	if !w.gate.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer w.gate.Release(1)

	res, err := w.orch.Deposit(ctx, amount)
	entry := store.Entry{Kind: string(transactions.KindDeposit), Amount: amount}
	if err != nil {
		w.journal(entry, err)
		return nil, err
	}
	entry.OperationID, entry.TxRef = res.OperationID, res.TxRef
	w.journal(entry, nil)
	return res, w.persist()
}

// Withdraw sends amount to recipient. The ledger is persisted even when the
// operation fails because the nullifier nonce may have advanced.
func (w *Wallet) Withdraw(ctx context.Context, amount uint64, recipient field.Element) (*orchestrator.WithdrawResult, error) {
	if !w.gate.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer w.gate.Release(1)

	res, err := w.orch.Withdraw(ctx, amount, recipient)
	entry := store.Entry{Kind: string(transactions.KindWithdraw), Amount: amount}
	if res != nil {
		entry.OperationID, entry.TxRef = res.OperationID, res.TxRef
	}
	w.journal(entry, err)
	if perr := w.persist(); perr != nil {
		if err != nil {
			return nil, errors.Join(err, perr)
		}
		return res, perr
	}
	return res, err
}

func (w *Wallet) journal(e store.Entry, opErr error) {
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if _, err := w.store.Append(e); err != nil {
		w.log.Warn().Err(err).Msg("journal append failed")
	}
}

func (w *Wallet) persist() error {
	w.mu.RLock()
	state, err := w.coins.ExportState()
	root := w.coins.Tree().Root()
	w.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := w.store.SaveSnapshot(state, root); err != nil {
		return fmt.Errorf("persist wallet state: %w", err)
	}
	return nil
}

// Balance returns the sum of unspent commitments.
func (w *Wallet) Balance() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coins.TotalUnspentBalance()
}

// Unspent lists unspent commitments.
func (w *Wallet) Unspent() []coinledger.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coins.UnspentCommitments()
}

// Records lists every known commitment.
func (w *Wallet) Records() []coinledger.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coins.Records()
}

// Root returns the local tree root.
func (w *Wallet) Root() field.Element {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coins.Tree().Root()
}

// Export serializes the coin ledger.
func (w *Wallet) Export() ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.coins.ExportState()
}

// Import replaces the coin ledger with data. confirmedRoot, when non-nil,
// must match the rebuilt tree. The wallet is unchanged on error.
func (w *Wallet) Import(data []byte, confirmedRoot *field.Element) error {
	if !w.gate.TryAcquire(1) {
		return ErrBusy
	}
	defer w.gate.Release(1)

	w.mu.Lock()
	err := w.coins.ImportState(data, confirmedRoot)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	return w.persist()
}

// Journal returns the operation history.
func (w *Wallet) Journal() ([]store.Entry, error) {
	return w.store.Journal()
}
