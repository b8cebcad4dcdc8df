package flow

import "sync"

// keyedMutex serializes work per request id. Entries are reference
// counted and removed when the last holder releases, so the map does
// not grow with the request history.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

func (k *keyedMutex) lock(id string) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

func (k *keyedMutex) unlock(id string) {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
	}
	k.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
