package reconcile

import (
	"slices"
	"sync"
)

// keyLock serializes work per string key. Entries are reference counted
// and removed once nobody holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyEntry)}
}

// Lock acquires every key in sorted order and returns the matching unlock.
// Sorting keeps two callers that share a pair of keys from deadlocking.
func (l *keyLock) Lock(keys ...string) func() {
	keys = slices.DeleteFunc(slices.Clone(keys), func(k string) bool { return k == "" })
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyEntry, 0, len(keys))
	for _, k := range keys {
		l.mu.Lock()
		e, ok := l.locks[k]
		if !ok {
			e = &keyEntry{}
			l.locks[k] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, e := range held {
			e.refs--
			if e.refs == 0 {
				delete(l.locks, keys[i])
			}
		}
		l.mu.Unlock()
	}
}

func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
