package cert

import (
	"sync"
)

// Store holds loaded certificate material keyed by content hash.
// Entries are immutable; storing the same material twice is a no-op.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Info
}

// NewStore creates an empty certificate store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Info)}
}

// Put stores the certificate and returns its content hash key.
func (s *Store) Put(info *Info) string {
	if info == nil || info.ContentHash == "" {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[info.ContentHash]; !exists {
		s.items[info.ContentHash] = info
	}
	return info.ContentHash
}

// Get retrieves certificate material by content hash.
func (s *Store) Get(hash string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.items[hash]
	if !ok {
		return nil, ErrNotInStore
	}
	return info, nil
}

// Delete removes certificate material from the store.
func (s *Store) Delete(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, hash)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
