// Package store persists wallet state in LevelDB: identity metadata, the
// latest coin-ledger snapshot with the root it was confirmed against, and a
// journal of finished operations.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"shieldpool/internal/field"
)

var (
	keyMeta     = []byte("wallet_meta")
	keySnapshot = []byte("wallet_snapshot")
	keyRoot     = []byte("wallet_root")
	keyJournal  = []byte("op_seq")
)

const journalPrefix = "op_"

// Meta identifies a wallet.
type Meta struct {
	Depth     int           `json:"depth"`
	Hasher    string        `json:"hasher"`
	PoolID    field.Element `json:"poolId"`
	SecretKey field.Element `json:"secretKey"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Entry is one finished operation.
type Entry struct {
	Seq         uint64    `json:"seq"`
	OperationID string    `json:"operationId"`
	Kind        string    `json:"kind"`
	Amount      uint64    `json:"amount"`
	TxRef       string    `json:"txRef,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// Store wraps a LevelDB handle.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open wallet store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenMemory returns a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutMeta stores the wallet identity.
func (s *Store) PutMeta(m Meta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Put(keyMeta, raw, nil)
}

// Meta returns the wallet identity; ok is false for a fresh store.
func (s *Store) Meta() (m Meta, ok bool, err error) {
	raw, err := s.db.Get(keyMeta, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meta{}, false, fmt.Errorf("decode wallet meta: %w", err)
	}
	return m, true, nil
}

// SaveSnapshot atomically replaces the ledger snapshot and its root.
func (s *Store) SaveSnapshot(state []byte, root field.Element) error {
	rootBytes := root.Bytes()
	batch := new(leveldb.Batch)
	batch.Put(keySnapshot, state)
	batch.Put(keyRoot, rootBytes[:])
	return s.db.Write(batch, nil)
}

// Snapshot returns the stored snapshot and root; ok is false when none was
// saved yet.
func (s *Store) Snapshot() (state []byte, root field.Element, ok bool, err error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, field.Element{}, false, err
	}
	defer snap.Release()

	state, err = snap.Get(keySnapshot, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, field.Element{}, false, nil
	}
	if err != nil {
		return nil, field.Element{}, false, err
	}
	rawRoot, err := snap.Get(keyRoot, nil)
	if err != nil {
		return nil, field.Element{}, false, fmt.Errorf("snapshot without root: %w", err)
	}
	root, err = field.FromBytes(rawRoot)
	if err != nil {
		return nil, field.Element{}, false, err
	}
	return state, root, true, nil
}

// Append adds e to the journal and returns it with its sequence number.
func (s *Store) Append(e Entry) (Entry, error) {
	var seq uint64
	raw, err := s.db.Get(keyJournal, nil)
	switch {
	case err == nil && len(raw) == 8:
		seq = binary.BigEndian.Uint64(raw)
	case err != nil && !errors.Is(err, leveldb.ErrNotFound):
		return Entry{}, err
	}
	seq++
	e.Seq = seq
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	value, err := json.Marshal(e)
	if err != nil {
		return Entry{}, err
	}

	var next [8]byte
	binary.BigEndian.PutUint64(next[:], seq)
	batch := new(leveldb.Batch)
	batch.Put(journalKey(seq), value)
	batch.Put(keyJournal, next[:])
	if err := s.db.Write(batch, nil); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Journal returns every entry in sequence order.
func (s *Store) Journal() ([]Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(journalPrefix)), nil)
	defer iter.Release()

	entries := make([]Entry, 0)
	for iter.Next() {
		if !strings.HasPrefix(string(iter.Key()), journalPrefix) || string(iter.Key()) == string(keyJournal) {
			continue
		}
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode journal entry %s: %w", iter.Key(), err)
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

func journalKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", journalPrefix, seq))
}
