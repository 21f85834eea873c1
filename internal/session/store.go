package session

import (
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
)

// Mutator applies a state change to a session inside a compare-and-swap.
// Implementations must not touch Version or UpdatedAt; the store owns both.
type Mutator func(*datamodel.PaymentSession)

// Store is keyed storage for payment sessions. CompareAndSwap is the only
// mutation path after creation; it is what lets the reconciliation engine
// stay race-tolerant without a global lock.
type Store interface {
	Create(s *datamodel.PaymentSession) error
	Get(qrID string) (*datamodel.PaymentSession, error)
	CompareAndSwap(qrID string, expectedVersion int64, mutate Mutator) (*datamodel.PaymentSession, error)
	ListPending(limit int) ([]*datamodel.PaymentSession, error)
}
