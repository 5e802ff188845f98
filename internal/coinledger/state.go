package coinledger

import (
	"encoding/json"
	"fmt"
	"sort"

	"shieldpool/internal/field"
	"shieldpool/internal/merkle"
)

// commitmentEntry encodes as the pair [commitmentHex, record].
type commitmentEntry struct {
	Hash   field.Element
	Record Record
}

func (e commitmentEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Hash.Hex(), e.Record})
}

func (e *commitmentEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("commitment entry has %d elements, want 2", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Hash); err != nil {
		return fmt.Errorf("commitment key: %w", err)
	}
	return json.Unmarshal(pair[1], &e.Record)
}

// secretEntry encodes as the pair [commitmentHex, decimalSecret].
type secretEntry struct {
	Hash   field.Element
	Secret field.Element
}

func (e secretEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{e.Hash.Hex(), e.Secret.String()})
}

func (e *secretEntry) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("secret entry has %d elements, want 2", len(pair))
	}
	var err error
	if e.Hash, err = field.FromHex(pair[0]); err != nil {
		return err
	}
	e.Secret, err = field.FromDecimal(pair[1])
	return err
}

type exportedState struct {
	Commitments        []commitmentEntry `json:"commitments"`
	NullifierSecrets   []secretEntry     `json:"nullifierSecrets"`
	RevealedNullifiers []field.Element   `json:"revealedNullifiers,omitempty"`
}

// ExportState serializes every record and nullifier secret.
func (l *Ledger) ExportState() ([]byte, error) {
	records := l.Records()
	state := exportedState{
		Commitments:      make([]commitmentEntry, 0, len(records)),
		NullifierSecrets: make([]secretEntry, 0, len(records)),
	}
	for _, rec := range records {
		state.Commitments = append(state.Commitments, commitmentEntry{Hash: rec.Commitment, Record: rec})
		state.NullifierSecrets = append(state.NullifierSecrets, secretEntry{Hash: rec.Commitment, Secret: rec.NullifierSecret})
	}
	for nf := range l.revealed {
		state.RevealedNullifiers = append(state.RevealedNullifiers, nf)
	}
	sort.Slice(state.RevealedNullifiers, func(i, j int) bool {
		return state.RevealedNullifiers[i].Hex() < state.RevealedNullifiers[j].Hex()
	})
	return json.MarshalIndent(state, "", "  ")
}

// ImportState replaces the ledger with data. The tree is rebuilt by replaying
// slots in leaf order: a slot holds its unspent commitment, and a slot whose
// records are all spent holds the zero leaf. When confirmedRoot is given the
// rebuilt root must equal it. Nothing changes unless the whole import passes.
func (l *Ledger) ImportState(data []byte, confirmedRoot *field.Element) error {
	var state exportedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrStateCorruption, err)
	}

	tree, err := merkle.New(l.tree.Depth(), l.tree.Hasher())
	if err != nil {
		return err
	}
	records := make(map[field.Element]*Record, len(state.Commitments))
	order := make([]field.Element, 0, len(state.Commitments))
	for _, entry := range state.Commitments {
		rec := entry.Record
		if entry.Hash != rec.Commitment {
			return fmt.Errorf("%w: key %s does not match record %s", ErrStateCorruption, entry.Hash.Hex(), rec.Commitment.Hex())
		}
		if _, dup := records[rec.Commitment]; dup {
			return fmt.Errorf("%w: duplicate commitment %s", ErrStateCorruption, rec.Commitment.Hex())
		}
		if err := l.checkOpening(rec); err != nil {
			return fmt.Errorf("%w: %v", ErrStateCorruption, err)
		}
		if rec.LeafIndex >= tree.Capacity() {
			return fmt.Errorf("%w: leaf index %d exceeds capacity", ErrStateCorruption, rec.LeafIndex)
		}
		records[rec.Commitment] = &rec
		order = append(order, rec.Commitment)
	}

	for _, entry := range state.NullifierSecrets {
		rec, ok := records[entry.Hash]
		if !ok {
			return fmt.Errorf("%w: secret for unknown commitment %s", ErrStateCorruption, entry.Hash.Hex())
		}
		if rec.NullifierSecret != entry.Secret {
			return fmt.Errorf("%w: secret mismatch for %s", ErrStateCorruption, entry.Hash.Hex())
		}
	}

	if err := replay(tree, records); err != nil {
		return err
	}
	if confirmedRoot != nil && tree.Root() != *confirmedRoot {
		return fmt.Errorf("%w: rebuilt root %s, confirmed root %s", ErrStateCorruption, tree.Root().Hex(), confirmedRoot.Hex())
	}

	revealed := make(map[field.Element]struct{}, len(state.RevealedNullifiers))
	for _, nf := range state.RevealedNullifiers {
		revealed[nf] = struct{}{}
	}

	l.tree = tree
	l.records = records
	l.order = order
	l.revealed = revealed
	return nil
}

func replay(tree *merkle.Tree, records map[field.Element]*Record) error {
	slots := make(map[uint64]*field.Element)
	for _, rec := range records {
		leaf, ok := slots[rec.LeafIndex]
		if !ok {
			zero := tree.ZeroValue(0)
			leaf = &zero
			slots[rec.LeafIndex] = leaf
		}
		if rec.Spent {
			continue
		}
		if *leaf != tree.ZeroValue(0) {
			return fmt.Errorf("%w: two unspent commitments at slot %d", ErrStateCorruption, rec.LeafIndex)
		}
		*leaf = rec.Commitment
	}

	indices := make([]uint64, 0, len(slots))
	for idx := range slots {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		if err := padTo(tree, idx); err != nil {
			return err
		}
		if _, err := tree.Insert(*slots[idx]); err != nil {
			return err
		}
	}
	return nil
}
