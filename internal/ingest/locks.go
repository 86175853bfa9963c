// ABOUTME: Per-key mutex with refcounted entries
// ABOUTME: Serializes pipeline work per customer phone without a global lock

package ingest

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedLock hands out one mutex per key. Entries are dropped as soon as the
// last holder releases, so the map stays proportional to in-flight work.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

// acquire locks the mutex for key and returns the release func.
func (k *keyedLock) acquire(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
