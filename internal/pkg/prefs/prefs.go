// Package prefs defines the raw key-value preferences store and its backends.
// Values are opaque strings; encryption is layered on top by package obscured.
package prefs

import (
	"context"
	"errors"
)

// Store is a namespaced string key-value store.
// Apply must make every operation of a batch visible at once or not at all.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Apply(ctx context.Context, b Batch) error
}

// ErrEmptyKey is returned when an operation names no key.
var ErrEmptyKey = errors.New("prefs: empty key")

// OpKind is the kind of a batched write.
type OpKind int

const (
	OpPut OpKind = iota
	OpRemove
)

// Op is one batched write.
type Op struct {
	Kind  OpKind
	Key   string
	Value string
}

// Batch is the unit applied by Store.Apply. When Clear is set the namespace is
// emptied before Ops run; Ops then run in order.
type Batch struct {
	Clear bool
	Ops   []Op
}

// Empty reports whether applying the batch would change nothing.
func (b Batch) Empty() bool {
	return !b.Clear && len(b.Ops) == 0
}

// Editor collects writes and commits them as one batch.
type Editor struct {
	store Store
	batch Batch
}

// Edit starts a new batch against s.
func Edit(s Store) *Editor {
	return &Editor{store: s}
}

// Put queues a write of value under key.
func (e *Editor) Put(key, value string) *Editor {
	e.batch.Ops = append(e.batch.Ops, Op{Kind: OpPut, Key: key, Value: value})
	return e
}

// Remove queues the deletion of key.
func (e *Editor) Remove(key string) *Editor {
	e.batch.Ops = append(e.batch.Ops, Op{Kind: OpRemove, Key: key})
	return e
}

// Clear empties the namespace before the queued operations run.
func (e *Editor) Clear() *Editor {
	e.batch.Clear = true
	return e
}

// Commit applies the queued batch and resets the editor.
func (e *Editor) Commit(ctx context.Context) error {
	b := e.batch
	e.batch = Batch{}
	if b.Empty() {
		return nil
	}
	for _, op := range b.Ops {
		if op.Key == "" {
			return ErrEmptyKey
		}
	}
	return e.store.Apply(ctx, b)
}
