package foreman

import "sync"

// keyedMutex hands out one mutex per key. Tasks and agents each get a keyed
// set so concurrent graph nodes serialize their writes per entity instead of
// contending on a single global lock. Locks are never evicted; entity counts
// are small and bounded by the auto-task envelope.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the mutex owned by key, creating it on first use.
func (m *keyedMutex) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}
