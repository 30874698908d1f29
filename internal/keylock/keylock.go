package keylock

import "sync"

// Table is a keyed mutex: Acquire blocks until the key's lock is free and
// returns the release function. Locks are created on first use and reclaimed
// once no holder or waiter remains.
type Table struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewTable() *Table {
	return &Table{locks: map[string]*entry{}}
}

// Acquire locks key and returns the paired release func. Callers must invoke
// the release exactly once, typically via defer.
func (t *Table) Acquire(key string) func() {
	t.mu.Lock()
	e, ok := t.locks[key]
	if !ok {
		e = &entry{}
		t.locks[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
