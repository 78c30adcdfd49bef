package concurrency

import "sync"

// SessionLockManager serializes per-user message processing. All transitions
// for one user run under that user's mutex; different users proceed in
// parallel.
type SessionLockManager struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func NewSessionLockManager() *SessionLockManager {
	return &SessionLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *SessionLockManager) Lock(userID string) {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
}

func (m *SessionLockManager) Unlock(userID string) {
	m.mu.Lock()
	lock, ok := m.locks[userID]
	m.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}
