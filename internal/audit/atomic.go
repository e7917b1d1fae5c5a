package audit

import (
	"context"
	"sync/atomic"
)

// AtomicStore delegates to a store that can be replaced while requests are
// being recorded. The server keeps one AtomicStore for its lifetime and
// configuration reloads swap what is behind it.
type AtomicStore struct {
	current atomic.Pointer[Store]
}

var _ Store = (*AtomicStore)(nil)

// NewAtomicStore wraps store. A nil store records nothing.
func NewAtomicStore(store Store) *AtomicStore {
	a := &AtomicStore{}
	a.Swap(store)
	return a
}

// Swap replaces the inner store and returns the previous one, which the
// caller must close.
func (a *AtomicStore) Swap(store Store) Store {
	if store == nil {
		store = Nop()
	}
	if old := a.current.Swap(&store); old != nil {
		return *old
	}
	return nil
}

// Load returns the current inner store.
func (a *AtomicStore) Load() Store {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return Nop()
}

// Record writes rec to the current store.
func (a *AtomicStore) Record(ctx context.Context, rec *Record) error {
	return a.Load().Record(ctx, rec)
}

// Close closes the current store.
func (a *AtomicStore) Close() error {
	return a.Load().Close()
}
