package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/field"
)

func TestMeta(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Meta()
	require.NoError(t, err)
	assert.False(t, ok)

	m := Meta{
		Depth:     24,
		Hasher:    "mimc",
		PoolID:    field.FromUint64(7),
		SecretKey: field.FromUint64(42),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, s.PutMeta(m))
	got, ok, err := s.Meta()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m, got)
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.db")
	s, err := Open(path)
	require.NoError(t, err)

	_, _, ok, err := s.Snapshot()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSnapshot([]byte(`{"commitments":[]}`), field.FromUint64(1)))
	require.NoError(t, s.SaveSnapshot([]byte(`{"commitments":[1]}`), field.FromUint64(2)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	state, root, ok, err := s.Snapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"commitments":[1]}`, string(state))
	assert.Equal(t, field.FromUint64(2), root)
}

func TestJournal(t *testing.T) {
	s, err := OpenMemory()
	require.NoError(t, err)
	defer s.Close()

	for i, kind := range []string{"deposit", "withdraw", "deposit"} {
		e, err := s.Append(Entry{OperationID: kind, Kind: kind, Amount: uint64(i + 1)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.False(t, e.At.IsZero())
	}
	// the snapshot keys share no prefix with the journal
	require.NoError(t, s.SaveSnapshot([]byte("{}"), field.Zero()))

	entries, err := s.Journal()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{entries[0].Seq, entries[1].Seq, entries[2].Seq})
	assert.Equal(t, "withdraw", entries[1].Kind)
}
