package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Contains(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put then get", func(t *testing.T) {
		require.NoError(t, Edit(s).Put("balance.gold", "100").Commit(ctx))

		v, ok, err := s.Get(ctx, "balance.gold")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "100", v)
	})

	t.Run("ops apply in order", func(t *testing.T) {
		err := Edit(s).
			Put("k", "1").
			Put("k", "2").
			Remove("gone").
			Put("gone", "back").
			Remove("gone").
			Commit(ctx)
		require.NoError(t, err)

		v, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "2", v)

		ok, err := s.Contains(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("clear runs before ops", func(t *testing.T) {
		require.NoError(t, Edit(s).Put("a", "1").Put("b", "2").Commit(ctx))
		require.NoError(t, Edit(s).Put("c", "3").Clear().Commit(ctx))

		for _, key := range []string{"a", "b", "balance.gold"} {
			ok, err := s.Contains(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok, key)
		}
		v, ok, err := s.Get(ctx, "c")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "3", v)
	})
}

func TestMemory_Contract(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestEditor_EmptyCommitIsNoop(t *testing.T) {
	m := NewMemory()
	require.NoError(t, Edit(m).Commit(context.Background()))
	assert.Empty(t, m.Snapshot())
}

func TestEditor_RejectsEmptyKey(t *testing.T) {
	m := NewMemory()
	err := Edit(m).Put("ok", "1").Put("", "2").Commit(context.Background())
	assert.ErrorIs(t, err, ErrEmptyKey)
	// Nothing of a rejected batch is applied.
	assert.Empty(t, m.Snapshot())
}

func TestEditor_ResetsAfterCommit(t *testing.T) {
	m := NewMemory()
	ed := Edit(m).Put("a", "1")
	require.NoError(t, ed.Commit(context.Background()))

	require.NoError(t, Edit(m).Remove("a").Commit(context.Background()))
	require.NoError(t, ed.Commit(context.Background()))
	assert.Empty(t, m.Snapshot())
}
