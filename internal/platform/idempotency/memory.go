package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Tests and single-replica local runs use it when Redis
// is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

// Reserve implements Store. Expired records are treated as absent.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := hashedKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && now.Before(existing.ExpiresAt) {
		return classify(existing, fingerprint)
	}
	fresh := pendingRecord(fingerprint, now.UTC(), normaliseTTL(ttl))
	s.records[id] = fresh
	return Reservation{State: ReservationStateNew, Record: fresh}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := hashedKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[id]; ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = completedRecord(fingerprint, resp, now.UTC(), normaliseTTL(ttl))
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	id := hashedKey(key)
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}
