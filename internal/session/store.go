// Package session keeps the mapping from conversation keys to Coze
// conversation ids for the lifetime of the process.
package session

import (
	"sync"
	"time"
)

// DefaultTTL is how long an idle conversation keeps its backend id.
const DefaultTTL = 30 * time.Minute

// Record is the state kept per conversation key.
type Record struct {
	ConversationID string
	LastActive     time.Time
}

// Store is safe for concurrent use. Writes to the same key are last-writer-wins.
type Store struct {
	mu      sync.RWMutex
	records map[Key]Record
}

func NewStore() *Store {
	return &Store{records: make(map[Key]Record)}
}

// Get returns the backend conversation id stored for key.
func (s *Store) Get(key Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return "", false
	}
	return rec.ConversationID, true
}

// Lookup returns the full record for key.
func (s *Store) Lookup(key Key) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Touch upserts the record for key and refreshes its timestamp. Empty ids are ignored.
func (s *Store) Touch(key Key, conversationID string, now time.Time) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	s.records[key] = Record{ConversationID: conversationID, LastActive: now}
	s.mu.Unlock()
}

// SweepExpired removes records idle for longer than ttl and returns how many were removed.
func (s *Store) SweepExpired(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, rec := range s.records {
		if now.Sub(rec.LastActive) > ttl {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
