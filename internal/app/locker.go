package app

import (
	"context"
	"sync"
)

// LocalLocker is an in-process keyed lock that honours context cancellation.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

// lockSlot is one keyed semaphore with a waiter count used for cleanup.
type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*lockSlot{}}
}

// Lock acquires key, waiting until it is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, slot, true) })
	}, nil
}

// release drops one reference to slot and frees the key when held.
func (l *LocalLocker) release(key string, slot *lockSlot, held bool) {
	if held {
		<-slot.ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

// treeLockKey returns the lock key serializing structural mutations of one tenant.
func treeLockKey(tenantID string) string {
	return "tree:" + tenantID
}

// ragLockKey returns the lock key serializing RAG recompute of one process.
func ragLockKey(tenantID, processID string) string {
	return "rag:" + tenantID + ":" + processID
}
