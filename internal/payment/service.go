package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

const defaultExpiryMinutes = 15

// ServiceAPI is the facade surface the route layer consumes.
type ServiceAPI interface {
	CreatePayment(ctx context.Context, providerName string, req *CreateQRRequest) (*datamodel.PaymentSession, error)
	GetStatus(qrID string) (*datamodel.PaymentSession, error)
	PollUntilResolved(ctx context.Context, qrID string, opts PollOptions) (*PollResult, error)
	IngestWebhook(ctx context.Context, providerName string, raw []byte, headers http.Header) (*datamodel.PaymentSession, error)
	Providers() []provider.Info
}

// Service is the unified payment facade. It holds no state of its own; every
// side effect goes through the session store.
type Service struct {
	registry   *provider.Registry
	store      sessionpkg.Store
	reconciler *Reconciler
	poller     *Poller
	logger     *slog.Logger
}

func NewService(registry *provider.Registry, store sessionpkg.Store, reconciler *Reconciler, poller *Poller, logger *slog.Logger) *Service {
	return &Service{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		poller:     poller,
		logger:     logger,
	}
}

// CreatePayment mints a QR with the provider, records the session CREATED and
// advances it to PENDING once the QR is confirmed issued.
func (s *Service) CreatePayment(ctx context.Context, providerName string, req *CreateQRRequest) (*datamodel.PaymentSession, error) {
	if err := req.Validate(); err != nil {
		s.logger.Error("create payment validation failed", "error", err, "provider", providerName)
		return nil, err
	}

	adapter, err := s.registry.Resolve(providerName)
	if err != nil {
		s.logger.Error("unsupported provider requested", "provider", providerName)
		return nil, err
	}

	expiryMinutes := int(req.ExpiryMinutes)
	if expiryMinutes <= 0 {
		expiryMinutes = defaultExpiryMinutes
	}

	issued, err := adapter.RequestQR(ctx, provider.QRRequest{
		Amount:        req.Amount,
		OrderID:       req.OrderID,
		Description:   req.Description,
		ExpiryMinutes: expiryMinutes,
	})
	if err != nil {
		s.logger.Error("qr request failed",
			"error", err,
			"provider", providerName,
			"order_id", req.OrderID)
		return nil, err
	}

	expiryTime := issued.ExpiryTime
	if expiryTime.IsZero() {
		expiryTime = time.Now().Add(time.Duration(expiryMinutes) * time.Minute)
	}

	metadata, err := json.Marshal(sessionMetadata{
		QRString:    issued.QRString,
		QRURL:       issued.QRURL,
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	sess := &datamodel.PaymentSession{
		QRID:             issued.QRID,
		OrderID:          req.OrderID,
		Provider:         providerName,
		AmountIDR:        req.Amount,
		Status:           datamodel.StatusCreated,
		ExpiryTime:       expiryTime,
		LastUpdateSource: datamodel.SourceCreation,
		Metadata:         metadata,
	}

	if err := s.store.Create(sess); err != nil {
		s.logger.Error("failed to create payment session",
			"error", err,
			"qr_id", issued.QRID,
			"order_id", req.OrderID)
		return nil, err
	}

	// the QR is issued, so the session is immediately awaiting payment
	sess, err = s.store.CompareAndSwap(sess.QRID, sess.Version, func(ps *datamodel.PaymentSession) {
		ps.Status = datamodel.StatusPending
		ps.LastUpdateSource = datamodel.SourceCreation
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment session created",
		"qr_id", sess.QRID,
		"order_id", sess.OrderID,
		"provider", providerName,
		"amount", sess.AmountIDR,
		"expiry_time", sess.ExpiryTime)

	return sess, nil
}

func (s *Service) GetStatus(qrID string) (*datamodel.PaymentSession, error) {
	return s.store.Get(qrID)
}

func (s *Service) PollUntilResolved(ctx context.Context, qrID string, opts PollOptions) (*PollResult, error) {
	return s.poller.Poll(ctx, qrID, opts)
}

// IngestWebhook verifies and normalizes a provider callback and hands it to
// the reconciler. A no-op outcome (already-terminal session) is still a
// successful ingestion so the provider stops redelivering.
func (s *Service) IngestWebhook(ctx context.Context, providerName string, raw []byte, headers http.Header) (*datamodel.PaymentSession, error) {
	adapter, err := s.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	normalized, err := adapter.ParseWebhook(raw, headers)
	if err != nil {
		s.logger.Error("webhook parse failed", "error", err, "provider", providerName)
		return nil, err
	}

	s.logger.Info("webhook received",
		"provider", providerName,
		"qr_id", normalized.QRID,
		"status", normalized.Status)

	return s.reconciler.Reconcile(ctx, normalized.QRID, normalized, datamodel.SourceWebhook)
}

func (s *Service) Providers() []provider.Info {
	return s.registry.List()
}
