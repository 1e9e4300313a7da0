package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// lockSet is the per-device poll exclusion lock. Each device gets a
// one-slot semaphore so waiters can give up on a deadline.
type lockSet struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

func newLockSet() *lockSet {
	return &lockSet{slots: make(map[uuid.UUID]chan struct{})}
}

func (l *lockSet) slot(id uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// tryLock acquires the device lock without waiting.
func (l *lockSet) tryLock(id uuid.UUID) bool {
	select {
	case l.slot(id) <- struct{}{}:
		return true
	default:
		return false
	}
}

// lock waits up to wait for the device lock.
func (l *lockSet) lock(ctx context.Context, id uuid.UUID, wait time.Duration) bool {
	ch := l.slot(id)
	select {
	case ch <- struct{}{}:
		return true
	default:
	}
	if wait <= 0 {
		return false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *lockSet) unlock(id uuid.UUID) {
	select {
	case <-l.slot(id):
	default:
	}
}

// forget drops the slot of a deleted device. A slot that is held, or was
// re-acquired since the last unlock, is kept.
func (l *lockSet) forget(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.slots[id]; ok && len(ch) == 0 {
		delete(l.slots, id)
	}
}
