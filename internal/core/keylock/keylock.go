// Package keylock provides a keyed mutex table: operations on the same
// key are serialized, operations on distinct keys proceed independently.
package keylock

import "sync"

// Table is a registry of per-key mutexes, created lazily and reference
// counted so idle keys don't accumulate forever.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	refCount int
}

// New returns an empty Table.
func New() *Table {
	return &Table{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available.
// The returned func releases it and must be called exactly once.
func (t *Table) Lock(key string) func() {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refCount++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}

// TryLock attempts to acquire key's mutex without blocking. It returns a
// release func and true on success, or a nil func and false if the key is
// already locked.
func (t *Table) TryLock(key string) (func(), bool) {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	if !e.mu.TryLock() {
		if !ok {
			delete(t.locks, key)
		}
		t.mu.Unlock()
		return nil, false
	}
	e.refCount++
	t.mu.Unlock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}, true
}
