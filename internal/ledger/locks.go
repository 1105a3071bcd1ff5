package ledger

import (
	"context"
	"strings"
	"sync"
)

// lockTable hands out one mutex per key. Entries are dropped once nobody
// holds or waits for them, so the table only grows with the number of wallets
// that are being mutated at the same time.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is free or ctx is done. The returned func
// releases the key and must be called exactly once. The table keeps its own
// copy of key, so callers may pass strings that alias reusable buffers.
func (t *lockTable) Lock(ctx context.Context, key string) (func(), error) {
	key = strings.Clone(key)

	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			t.release(key, l)
		})
	}, nil
}

func (t *lockTable) release(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
