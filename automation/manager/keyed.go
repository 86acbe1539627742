package manager

import "sync"

// keyedMutex serializes work per account id. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until id is free and returns the matching unlock.
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
