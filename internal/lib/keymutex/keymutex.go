// Package keymutex provides per-key mutual exclusion, used to serialize the
// read-mutate-persist sequence on a single account aggregate.
package keymutex

import "sync"

type KeyMutex struct {
	mu sync.Map
}

func New() *KeyMutex {
	return &KeyMutex{}
}

// Lock acquires the mutex for key and returns its unlock function.
func (m *KeyMutex) Lock(key string) func() {
	v, _ := m.mu.LoadOrStore(key, &sync.Mutex{})
	lock := v.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}
