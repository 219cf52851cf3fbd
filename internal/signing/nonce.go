package signing

import (
	"sync"
	"time"
)

// NonceStore remembers nonces for a TTL to detect replays.
type NonceStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	lastGC time.Time
}

// NewNonceStore creates a store that forgets nonces after ttl.
func NewNonceStore(ttl time.Duration) *NonceStore {
	return &NonceStore{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		lastGC: time.Now(),
	}
}

// Add records nonce and reports whether it was new.
func (s *NonceStore) Add(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastGC) > s.ttl {
		for k, at := range s.seen {
			if now.Sub(at) > s.ttl {
				delete(s.seen, k)
			}
		}
		s.lastGC = now
	}

	if _, ok := s.seen[nonce]; ok {
		return false
	}
	s.seen[nonce] = now
	return true
}

// Len returns the number of remembered nonces.
func (s *NonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
