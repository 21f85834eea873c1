package session

import (
	"sort"
	"sync"
	"time"

	errors "github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
)

// MemoryStore keeps sessions in process memory. It is the default store for
// development and tests; the postgres store carries the same semantics.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datamodel.PaymentSession
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*datamodel.PaymentSession),
	}
}

func (s *MemoryStore) Create(sess *datamodel.PaymentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.QRID]; exists {
		return errors.ErrDuplicateQRID
	}

	s.nextID++
	sess.ID = s.nextID
	sess.Version = 1
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	stored := *sess
	s.sessions[sess.QRID] = &stored
	return nil
}

func (s *MemoryStore) Get(qrID string) (*datamodel.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.sessions[qrID]
	if !exists {
		return nil, errors.ErrSessionNotFound
	}

	copied := *stored
	return &copied, nil
}

func (s *MemoryStore) CompareAndSwap(qrID string, expectedVersion int64, mutate Mutator) (*datamodel.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.sessions[qrID]
	if !exists {
		return nil, errors.ErrSessionNotFound
	}

	if stored.Version != expectedVersion {
		return nil, errors.ErrVersionConflict
	}

	updated := *stored
	mutate(&updated)
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()

	s.sessions[qrID] = &updated

	copied := updated
	return &copied, nil
}

func (s *MemoryStore) ListPending(limit int) ([]*datamodel.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*datamodel.PaymentSession
	for _, stored := range s.sessions {
		if stored.Status == datamodel.StatusPending || stored.Status == datamodel.StatusCreated {
			copied := *stored
			pending = append(pending, &copied)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
