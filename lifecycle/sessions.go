package lifecycle

import "sync"

// Sessions holds the per-chat pending-approval pointer.
// At most one report per chat is pending approval at a time.
type Sessions struct {
	mu      sync.Mutex
	pending map[int64]int64
}

func NewSessions() *Sessions {
	return &Sessions{pending: make(map[int64]int64)}
}

// Pending returns the report awaiting approval in the chat, if any
func (s *Sessions) Pending(chatID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[chatID]
	return id, ok
}

// Claim records reportID as pending unless the chat already has a pending report
func (s *Sessions) Claim(chatID, reportID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[chatID]; ok {
		return false
	}
	s.pending[chatID] = reportID
	return true
}

// Clear drops the chat's pending pointer
func (s *Sessions) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, chatID)
}

// keyedMutex serializes work on one report across goroutines
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock blocks until the key is free and returns its unlock function
func (k *keyedMutex) Lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
