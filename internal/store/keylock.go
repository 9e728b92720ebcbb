package store

import (
	"sync"

	"buildcache/internal/core"
)

// keyLocks hands out one reader/writer lock per (project, checksum).
// Entries are dropped once nobody holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func lockKey(key core.ProjectKey, sum core.Checksum) string {
	return key.String() + "/" + sum.String()
}

func (l *keyLocks) acquire(k string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[k]
	if !ok {
		kl = &keyLock{}
		l.locks[k] = kl
	}
	kl.refs++
	return kl
}

func (l *keyLocks) release(k string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, k)
	}
}

// lock takes the write side for k and returns the unlock function.
func (l *keyLocks) lock(k string) func() {
	kl := l.acquire(k)
	kl.Lock()
	return func() {
		kl.Unlock()
		l.release(k, kl)
	}
}

// rlock takes the read side for k and returns the unlock function.
func (l *keyLocks) rlock(k string) func() {
	kl := l.acquire(k)
	kl.RLock()
	return func() {
		kl.RUnlock()
		l.release(k, kl)
	}
}

// held returns the number of keys with a holder or waiter.
func (l *keyLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
