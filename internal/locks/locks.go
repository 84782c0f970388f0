// Package locks provides per-entity serialization. Operations against the
// same pool or listing take its mutex; operations against disjoint
// entities run in parallel with no shared mutable state.
package locks

import "sync"

// Keyed is a set of named mutexes. The zero value is ready to use.
type Keyed struct {
	m sync.Map // key -> *sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
// Submission order to a key's mutex fixes the total order of operations
// observed on that entity.
func (k *Keyed) Lock(key string) func() {
	mu, _ := k.m.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
