package services

import "sync"

// CardLocks provides per-card mutual exclusion. The facade holds a card's
// lock for the duration of a read-modify-write cycle; the reconciler holds
// it only while replaying that card's batch, releasing it between cards.
// One instance is shared by both so they never mutate the same card
// concurrently.
type CardLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCardLocks constructs an empty lock registry.
func NewCardLocks() *CardLocks {
	return &CardLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a card and returns its release function.
func (l *CardLocks) Lock(cardUID string) func() {
	l.mu.Lock()
	m, ok := l.locks[cardUID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[cardUID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
