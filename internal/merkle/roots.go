package merkle

import (
	"encoding/json"
	"fmt"

	"shieldpool/internal/field"
)

// DefaultRootHistory matches the pool's spending window.
const DefaultRootHistory = 32

// RootHistory is a ring buffer of recent roots. Push clears the slot it will
// overwrite next, so a root that has aged out can never be matched after the
// buffer wraps. The zero element marks an empty slot and is never valid.
type RootHistory struct {
	roots []field.Element
	index int
}

// NewRootHistory allocates a buffer with the given capacity.
func NewRootHistory(capacity int) *RootHistory {
	if capacity < 2 {
		capacity = 2
	}
	return &RootHistory{roots: make([]field.Element, capacity)}
}

// Capacity returns the buffer size.
func (h *RootHistory) Capacity() int { return len(h.roots) }

// Push records root.
func (h *RootHistory) Push(root field.Element) {
	h.roots[h.index] = root
	h.index = (h.index + 1) % len(h.roots)
	h.roots[h.index] = field.Zero()
}

// Contains reports whether root is one of the retained roots.
func (h *RootHistory) Contains(root field.Element) bool {
	if root.IsZero() {
		return false
	}
	for _, r := range h.roots {
		if r == root {
			return true
		}
	}
	return false
}

// Recent returns up to n retained roots, newest first. n <= 0 yields none.
func (h *RootHistory) Recent(n int) []field.Element {
	if n <= 0 {
		return nil
	}
	if n > len(h.roots) {
		n = len(h.roots)
	}
	out := make([]field.Element, 0, n)
	for i := 1; i <= n; i++ {
		r := h.roots[(h.index-i+len(h.roots))%len(h.roots)]
		if !r.IsZero() {
			out = append(out, r)
		}
	}
	return out
}

type rootHistoryJSON struct {
	Index int             `json:"index"`
	Roots []field.Element `json:"roots"`
}

// MarshalJSON implements json.Marshaler.
func (h *RootHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(rootHistoryJSON{Index: h.index, Roots: h.roots})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *RootHistory) UnmarshalJSON(data []byte) error {
	var raw rootHistoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Roots) < 2 || raw.Index < 0 || raw.Index >= len(raw.Roots) {
		return fmt.Errorf("merkle: malformed root history (index %d, size %d)", raw.Index, len(raw.Roots))
	}
	h.roots = raw.Roots
	h.index = raw.Index
	return nil
}
