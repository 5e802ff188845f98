package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"shieldpool/internal/field"
	"shieldpool/internal/merkle"
)

type persisted struct {
	Depth        int                 `json:"depth"`
	Root         field.Element       `json:"root"`
	LeafCount    uint64              `json:"leafCount"`
	History      *merkle.RootHistory `json:"history"`
	Nullifiers   []field.Element     `json:"nullifiers"`
	Balance      uint64              `json:"balance"`
	Paused       bool                `json:"paused"`
	Stats        Stats               `json:"stats"`
	Transactions []TxRecord          `json:"transactions"`
}

// SaveToFile writes the pool as indented JSON, replacing path.
func (p *Pool) SaveToFile(path string) error {
	p.mu.Lock()
	state := persisted{
		Depth:        p.depth,
		Root:         p.root,
		LeafCount:    p.leafCount,
		History:      p.history,
		Nullifiers:   make([]field.Element, 0, len(p.nullifiers)),
		Balance:      p.balance,
		Paused:       p.paused,
		Stats:        p.stats,
		Transactions: p.txs,
	}
	for nf := range p.nullifiers {
		state.Nullifiers = append(state.Nullifiers, nf)
	}
	sort.Slice(state.Nullifiers, func(i, j int) bool { return state.Nullifiers[i].Hex() < state.Nullifiers[j].Hex() })
	data, err := json.MarshalIndent(state, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile restores a pool saved by SaveToFile.
func LoadFromFile(path string, cfg Config, v Verifier) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state persisted
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("pool: decode %s: %w", path, err)
	}
	if state.Depth != cfg.Depth {
		return nil, fmt.Errorf("pool: %s has depth %d, configured %d", path, state.Depth, cfg.Depth)
	}
	if state.History == nil || !state.History.Contains(state.Root) {
		return nil, fmt.Errorf("pool: %s root is missing from its history", path)
	}

	p, err := New(cfg, v)
	if err != nil {
		return nil, err
	}
	p.root = state.Root
	p.leafCount = state.LeafCount
	p.history = state.History
	p.balance = state.Balance
	p.paused = state.Paused
	p.stats = state.Stats
	p.txs = state.Transactions
	for _, nf := range state.Nullifiers {
		p.nullifiers[nf] = struct{}{}
	}
	return p, nil
}
