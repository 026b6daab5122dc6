// Package lock serializes check-then-write sequences on named conflict keys.
// Timetable and substitution writes hold every key they may collide on for the
// duration of the conflict check plus the insert, which closes the window where
// two concurrent proposals both pass the check before either persists.
package lock

import (
	"context"
	"sort"
	"sync"
)

// Locker acquires an exclusive hold on each key. Keys are deduplicated and
// acquired in sorted order so that overlapping key sets cannot deadlock. The
// returned function releases every acquired key.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// KeyMutex is an in-process Locker backed by per-key semaphores. It is the
// single-node fallback and the implementation used in tests.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyMutex constructs an empty KeyMutex.
func NewKeyMutex() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*keyLock)}
}

// Acquire blocks until all keys are held or the context is done.
func (m *KeyMutex) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalizeKeys(keys)
	acquired := make([]*keyLock, 0, len(ordered))

	releaseAll := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			m.releaseOne(ordered[i], acquired[i])
		}
	}

	for _, key := range ordered {
		l := m.retain(key)
		select {
		case l.ch <- struct{}{}:
			acquired = append(acquired, l)
		case <-ctx.Done():
			m.unretain(key)
			releaseAll()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (m *KeyMutex) retain(key string) *keyLock {
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

func (m *KeyMutex) unretain(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok {
		l.refs--
		if l.refs == 0 {
			delete(m.locks, key)
		}
	}
}

func (m *KeyMutex) releaseOne(key string, l *keyLock) {
	<-l.ch
	m.unretain(key)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)
	return ordered
}
