package bdoc

import (
	"context"
	"sync"
)

// Locker serialises executions that share a fingerprint.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is a process-local keyed mutex. Entries are dropped once no
// caller holds or waits on them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (m *MemoryLocker) acquireRef(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *MemoryLocker) releaseRef(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

func (m *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := m.acquireRef(key)
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		m.releaseRef(key, l)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.releaseRef(key, l)
		})
	}, nil
}

