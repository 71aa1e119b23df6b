// Package memory implements the KeyStore external interface from §6: a
// reference store for encryption-middleware authors, grounded on the
// teacher's mutex-protected in-memory map idiom (pkg/ratelimiter's
// MemoryStore) with key identifiers minted via google/uuid. No
// encryption primitive lives here; this store only tracks key material
// and its lifecycle.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Key is an opaque key record: raw key bytes plus the metadata needed to
// retire it.
type Key struct {
	ID        string
	Material  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is an in-memory, mutex-protected KeyStore.
type Store struct {
	mu         sync.RWMutex
	keys       map[string]Key
	currentID  string
	hasCurrent bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{keys: make(map[string]Key)}
}

// Store registers key under id, generating an id via google/uuid if id is
// empty, and marks it as the current key. Keys stored this way never
// expire.
func (s *Store) Store(material []byte, id string) string {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = Key{ID: id, Material: material, CreatedAt: time.Now()}
	s.currentID = id
	s.hasCurrent = true
	return id
}

// StoreWithExpiry is Store with an explicit expiry, used by callers doing
// key rotation ahead of a scheduled cutover.
func (s *Store) StoreWithExpiry(material []byte, id string, expiresAt time.Time) string {
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = Key{ID: id, Material: material, CreatedAt: time.Now(), ExpiresAt: expiresAt}
	s.currentID = id
	s.hasCurrent = true
	return id
}

// Key looks up a key by identifier. The bool is false if no key with that
// identifier is held: it was never stored, or RemoveExpiredKeys removed it.
func (s *Store) Key(id string) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	return k, ok
}

// CurrentKey returns the most recently stored key, used by encryption
// middleware to pick the key for new writes.
func (s *Store) CurrentKey() (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCurrent {
		return Key{}, false
	}
	k, ok := s.keys[s.currentID]
	return k, ok
}

// CurrentKeyIdentifier returns just the identifier of CurrentKey, for
// callers that only need to tag ciphertext with which key encrypted it.
func (s *Store) CurrentKeyIdentifier() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID, s.hasCurrent
}

// RemoveExpiredKeys deletes every key whose ExpiresAt is set and before
// cutoff, returning the count removed. Keys with a zero ExpiresAt never
// expire. The current key is never removed even if it matches, since
// doing so would leave no key for new writes; rotate first instead.
func (s *Store) RemoveExpiredKeys(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, k := range s.keys {
		if id == s.currentID {
			continue
		}
		if !k.ExpiresAt.IsZero() && k.ExpiresAt.Before(cutoff) {
			delete(s.keys, id)
			removed++
		}
	}
	return removed
}
