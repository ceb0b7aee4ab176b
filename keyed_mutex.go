package connect

import "sync"

// keyedMutex serializes work per string key. Entries are reference-counted
// and removed when the last holder unlocks, so the map does not grow with the
// connection population.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	refs int
	m    sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) acquire(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until the key is exclusively held and returns the unlock func.
func (k *keyedMutex) Lock(key string) func() {
	l := k.acquire(key)
	l.m.Lock()
	return func() {
		l.m.Unlock()
		k.release(key, l)
	}
}

// TryLock attempts the key without blocking. The second return is false when
// another holder is in flight.
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	l := k.acquire(key)
	if !l.m.TryLock() {
		k.release(key, l)
		return nil, false
	}
	return func() {
		l.m.Unlock()
		k.release(key, l)
	}, true
}
