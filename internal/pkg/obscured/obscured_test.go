package obscured

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"virtual-store/internal/pkg/prefs"
)

const testIterations = 16

func newTestPrefs(t testing.TB) (*Preferences, *prefs.Memory) {
	t.Helper()
	c, err := NewCipher("secret", "com.example.store", "device-1", testIterations)
	require.NoError(t, err)
	m := prefs.NewMemory()
	return New(m, c), m
}

// TestRoundTripProperty checks that every typed put reads back unchanged.
func TestRoundTripProperty(t *testing.T) {
	p, _ := newTestPrefs(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-z]{1,8}\.[a-z0-9_]{1,12}`).Draw(rt, "key")
		s := rapid.String().Draw(rt, "s")
		b := rapid.Bool().Draw(rt, "b")
		i := rapid.Int().Draw(rt, "i")
		i64 := rapid.Int64().Draw(rt, "i64")
		f := rapid.Float32Range(-1e9, 1e9).Draw(rt, "f")

		err := p.Edit().
			PutString(key+".s", s).
			PutBool(key+".b", b).
			PutInt(key+".i", i).
			PutInt64(key+".i64", i64).
			PutFloat32(key+".f", f).
			Commit(ctx)
		if err != nil {
			rt.Fatalf("commit: %v", err)
		}

		gotS, err := p.GetString(ctx, key+".s", "")
		if err != nil || gotS != s {
			rt.Fatalf("string: got %q (%v), want %q", gotS, err, s)
		}
		gotB, err := p.GetBool(ctx, key+".b", !b)
		if err != nil || gotB != b {
			rt.Fatalf("bool: got %v (%v), want %v", gotB, err, b)
		}
		gotI, err := p.GetInt(ctx, key+".i", 0)
		if err != nil || gotI != i {
			rt.Fatalf("int: got %d (%v), want %d", gotI, err, i)
		}
		gotI64, err := p.GetInt64(ctx, key+".i64", 0)
		if err != nil || gotI64 != i64 {
			rt.Fatalf("int64: got %d (%v), want %d", gotI64, err, i64)
		}
		gotF, err := p.GetFloat32(ctx, key+".f", 0)
		if err != nil || gotF != f {
			rt.Fatalf("float32: got %v (%v), want %v", gotF, err, f)
		}
	})
}

// TestDefaultWhenAbsentProperty checks that reads of missing keys return the default.
func TestDefaultWhenAbsentProperty(t *testing.T) {
	p, _ := newTestPrefs(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		def := rapid.Int64().Draw(rt, "def")
		got, err := p.GetInt64(ctx, "missing", def)
		if err != nil || got != def {
			rt.Fatalf("got %d (%v), want default %d", got, err, def)
		}
	})
}

func TestKeysInClearValuesEncrypted(t *testing.T) {
	p, m := newTestPrefs(t)
	ctx := context.Background()

	require.NoError(t, p.Edit().PutInt("balance.gold", 100).Commit(ctx))

	raw := m.Snapshot()
	require.Contains(t, raw, "balance.gold")
	assert.True(t, strings.HasPrefix(raw["balance.gold"], "v1:"))
	assert.NotContains(t, raw["balance.gold"], "100")
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, err := NewCipher("secret", "pkg", "dev", testIterations)
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCorruptedValues(t *testing.T) {
	p, m := newTestPrefs(t)
	ctx := context.Background()
	require.NoError(t, p.Edit().PutInt("n", 7).PutString("word", "seven").Commit(ctx))

	tests := []struct {
		name  string
		value string
	}{
		{"no prefix", "plain"},
		{"bad base64", "v1:!!!"},
		{"too short", "v1:AAAA"},
		{"tampered", tamper(m.Snapshot()["n"])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, m.Apply(ctx, prefs.Batch{Ops: []prefs.Op{{Kind: prefs.OpPut, Key: "n", Value: tt.value}}}))
			got, err := p.GetInt(ctx, "n", -1)
			assert.ErrorIs(t, err, ErrCorrupted)
			assert.Equal(t, -1, got)
		})
	}

	t.Run("unparseable", func(t *testing.T) {
		require.NoError(t, m.Apply(ctx, prefs.Batch{Ops: []prefs.Op{{Kind: prefs.OpPut, Key: "n", Value: m.Snapshot()["word"]}}}))
		_, err := p.GetInt(ctx, "n", 0)
		assert.ErrorIs(t, err, ErrCorrupted)
	})
}

func TestOtherDeviceCannotRead(t *testing.T) {
	ctx := context.Background()
	m := prefs.NewMemory()

	c1, err := NewCipher("secret", "pkg", "device-1", testIterations)
	require.NoError(t, err)
	c2, err := NewCipher("secret", "pkg", "device-2", testIterations)
	require.NoError(t, err)

	require.NoError(t, New(m, c1).Edit().PutString("k", "v").Commit(ctx))
	_, err = New(m, c2).GetString(ctx, "k", "")
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestEditor_RemoveAndClear(t *testing.T) {
	p, _ := newTestPrefs(t)
	ctx := context.Background()

	require.NoError(t, p.Edit().PutInt("a", 1).PutInt("b", 2).Commit(ctx))
	require.NoError(t, p.Edit().Remove("a").Commit(ctx))

	ok, err := p.Contains(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Edit().Clear().PutInt("c", 3).Commit(ctx))
	ok, err = p.Contains(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	c, err := p.GetInt(ctx, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, c)
}

// tamper flips one character in the encoded payload while keeping it valid base64.
func tamper(s string) string {
	b := []byte(s)
	i := len(b) - 4
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
