package payment

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	"github.com/pasalku/payment-gateway/internal/core/events"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

// maxCASAttempts bounds the retry loop when another writer wins the race.
// After the bound the other writer's state is authoritative and we stop.
const maxCASAttempts = 3

// Reconciler merges status updates from the polling channel and the webhook
// channel into one authoritative session state. It is the single writer to
// the session store and is safe to call concurrently from both channels.
type Reconciler struct {
	store    sessionpkg.Store
	eventBus *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(store sessionpkg.Store, eventBus *events.EventBus, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile applies one normalized status update from the given source.
// Already-terminal sessions and replayed updates are safe no-ops, never
// errors; that is what makes webhook redelivery and overlapping polls safe.
func (r *Reconciler) Reconcile(ctx context.Context, qrID string, ns *provider.NormalizedStatus, source string) (*datamodel.PaymentSession, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		current, err := r.store.Get(qrID)
		if err != nil {
			return nil, err
		}

		if current.IsTerminal() {
			r.logger.Debug("discarding update for terminal session",
				"qr_id", qrID,
				"current_status", current.Status,
				"incoming_status", ns.Status,
				"source", source)
			return current, nil
		}

		incoming := ns.Status
		if incoming == datamodel.StatusPending && current.IsExpiredAt(r.now()) {
			// expiry window passed; the next observation from any channel
			// resolves the session as expired
			incoming = datamodel.StatusExpired
		}

		if incoming == datamodel.StatusPending {
			updated, err := r.refresh(current, source)
			if err != nil {
				if errors.Is(err, apperrors.ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			return updated, nil
		}

		updated, err := r.store.CompareAndSwap(qrID, current.Version, func(s *datamodel.PaymentSession) {
			s.Status = incoming
			s.LastUpdateSource = source
			if incoming == datamodel.StatusSuccess {
				if ns.TransactionID != "" {
					transactionID := ns.TransactionID
					s.TransactionID = &transactionID
				}
				paidAmount := ns.PaidAmount
				if paidAmount == 0 {
					paidAmount = s.AmountIDR
				}
				s.PaidAmount = &paidAmount
				paidAt := r.now()
				if ns.PaidAt != nil {
					paidAt = *ns.PaidAt
				}
				s.PaidAt = &paidAt
			}
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrVersionConflict) {
				r.logger.Debug("version conflict applying terminal update, retrying",
					"qr_id", qrID,
					"incoming_status", incoming,
					"source", source,
					"attempt", attempt)
				continue
			}
			return nil, err
		}

		r.logger.Info("session resolved",
			"qr_id", qrID,
			"status", updated.Status,
			"source", source,
			"version", updated.Version)

		r.publishTerminalEvent(ctx, updated, source)
		return updated, nil
	}

	// another writer won every race; its terminal state stands
	final, err := r.store.Get(qrID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("giving up after repeated version conflicts, keeping persisted state",
		"qr_id", qrID,
		"persisted_status", final.Status,
		"dropped_status", ns.Status,
		"source", source)
	return final, nil
}

// refresh records that a channel observed the session still pending. The
// status does not change but updatedAt and lastUpdateSource do.
func (r *Reconciler) refresh(current *datamodel.PaymentSession, source string) (*datamodel.PaymentSession, error) {
	return r.store.CompareAndSwap(current.QRID, current.Version, func(s *datamodel.PaymentSession) {
		if s.Status == datamodel.StatusCreated {
			s.Status = datamodel.StatusPending
		}
		s.LastUpdateSource = source
	})
}

func (r *Reconciler) publishTerminalEvent(ctx context.Context, s *datamodel.PaymentSession, source string) {
	if r.eventBus == nil {
		return
	}

	switch s.Status {
	case datamodel.StatusSuccess:
		var transactionID string
		if s.TransactionID != nil {
			transactionID = *s.TransactionID
		}
		var paidAmount int64
		if s.PaidAmount != nil {
			paidAmount = *s.PaidAmount
		}
		r.eventBus.Publish(ctx, events.NewPaymentSucceededEvent(
			s.QRID, s.OrderID, s.Provider, s.AmountIDR, paidAmount, transactionID, source))
	case datamodel.StatusFailed:
		r.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			s.QRID, s.OrderID, s.Provider, s.AmountIDR, source))
	case datamodel.StatusExpired:
		r.eventBus.Publish(ctx, events.NewPaymentExpiredEvent(
			s.QRID, s.OrderID, s.Provider, s.AmountIDR, s.ExpiryTime, source))
	}
}
