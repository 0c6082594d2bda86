package reconciler

import (
	"sync"
	"time"
)

// keyedLocks serializes recomputes per conversation. Each key maps to a
// one-slot token channel; acquire blocks up to the given timeout. Slots are
// reference-counted and removed once no holder or waiter references them, so
// the map does not grow with every conversation ever recomputed.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		slots: make(map[string]*lockSlot),
	}
}

func (l *keyedLocks) retain(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *keyedLocks) unref(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *keyedLocks) acquire(key string, timeout time.Duration) bool {
	s := l.retain(key)

	select {
	case s.ch <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return true
	case <-timer.C:
		l.unref(key, s)
		return false
	}
}

func (l *keyedLocks) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()

	<-s.ch
	l.unref(key, s)
}
