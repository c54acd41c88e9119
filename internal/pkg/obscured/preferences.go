package obscured

import (
	"context"
	"fmt"
	"strconv"

	"virtual-store/internal/pkg/prefs"
)

// Preferences is a typed, encrypted view over a prefs.Store.
type Preferences struct {
	store  prefs.Store
	cipher *Cipher
}

// New wraps store so that every value passes through c.
func New(store prefs.Store, c *Cipher) *Preferences {
	return &Preferences{store: store, cipher: c}
}

// Contains reports whether key holds a value.
func (p *Preferences) Contains(ctx context.Context, key string) (bool, error) {
	return p.store.Contains(ctx, key)
}

// raw returns the decrypted text under key.
func (p *Preferences) raw(ctx context.Context, key string) (string, bool, error) {
	stored, ok, err := p.store.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := p.cipher.Decrypt(stored)
	if err != nil {
		return "", false, fmt.Errorf("key %q: %w", key, err)
	}
	return plain, true, nil
}

// GetString returns the string under key, or def when absent.
func (p *Preferences) GetString(ctx context.Context, key, def string) (string, error) {
	v, ok, err := p.raw(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetBool returns the bool under key, or def when absent.
func (p *Preferences) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	return getParsed(ctx, p, key, def, strconv.ParseBool)
}

// GetInt returns the int under key, or def when absent.
func (p *Preferences) GetInt(ctx context.Context, key string, def int) (int, error) {
	return getParsed(ctx, p, key, def, strconv.Atoi)
}

// GetInt64 returns the int64 under key, or def when absent.
func (p *Preferences) GetInt64(ctx context.Context, key string, def int64) (int64, error) {
	return getParsed(ctx, p, key, def, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// GetFloat32 returns the float32 under key, or def when absent.
func (p *Preferences) GetFloat32(ctx context.Context, key string, def float32) (float32, error) {
	return getParsed(ctx, p, key, def, func(s string) (float32, error) {
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	})
}

func getParsed[T any](ctx context.Context, p *Preferences, key string, def T, parse func(string) (T, error)) (T, error) {
	s, ok, err := p.raw(ctx, key)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	v, err := parse(s)
	if err != nil {
		return def, fmt.Errorf("key %q: %w: %v", key, ErrCorrupted, err)
	}
	return v, nil
}

// Edit starts a batch of encrypted writes.
func (p *Preferences) Edit() *Editor {
	return &Editor{cipher: p.cipher, store: p.store, ed: prefs.Edit(p.store)}
}

// Editor queues encrypted writes. The first encryption failure is kept and
// returned by Commit, which then applies nothing.
type Editor struct {
	cipher *Cipher
	store  prefs.Store
	ed     *prefs.Editor
	err    error
}

func (e *Editor) put(key, plain string) *Editor {
	if e.err != nil {
		return e
	}
	enc, err := e.cipher.Encrypt(plain)
	if err != nil {
		e.err = err
		return e
	}
	e.ed.Put(key, enc)
	return e
}

func (e *Editor) PutString(key, v string) *Editor { return e.put(key, v) }

func (e *Editor) PutBool(key string, v bool) *Editor { return e.put(key, strconv.FormatBool(v)) }

func (e *Editor) PutInt(key string, v int) *Editor { return e.put(key, strconv.Itoa(v)) }

func (e *Editor) PutInt64(key string, v int64) *Editor {
	return e.put(key, strconv.FormatInt(v, 10))
}

func (e *Editor) PutFloat32(key string, v float32) *Editor {
	return e.put(key, strconv.FormatFloat(float64(v), 'g', -1, 32))
}

// Remove queues the deletion of key.
func (e *Editor) Remove(key string) *Editor {
	e.ed.Remove(key)
	return e
}

// Clear empties the namespace before the queued writes run.
func (e *Editor) Clear() *Editor {
	e.ed.Clear()
	return e
}

// Commit applies the queued writes in one backend call.
func (e *Editor) Commit(ctx context.Context) error {
	if e.err != nil {
		err := e.err
		e.err = nil
		e.ed = prefs.Edit(e.store)
		return err
	}
	return e.ed.Commit(ctx)
}
