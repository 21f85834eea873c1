package payment_test

import (
	"context"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	paymentPkg "github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

// scriptedAdapter replays a fixed sequence of status replies; the last entry
// repeats once the script runs out.
type scriptedAdapter struct {
	mu       sync.Mutex
	name     string
	statuses []*provider.NormalizedStatus
	errs     []error
	calls    int

	qrIssued *provider.QRIssued
	qrErr    error

	webhookStatus *provider.NormalizedStatus
	webhookErr    error
}

func (a *scriptedAdapter) Name() string {
	if a.name == "" {
		return datamodel.ProviderGoPay
	}
	return a.name
}

func (a *scriptedAdapter) RequestQR(ctx context.Context, req provider.QRRequest) (*provider.QRIssued, error) {
	if a.qrErr != nil {
		return nil, a.qrErr
	}
	if a.qrIssued != nil {
		return a.qrIssued, nil
	}
	return &provider.QRIssued{
		QRID:       "qr-" + req.OrderID,
		QRString:   "00020101021226660014ID.CO.EXAMPLE",
		ExpiryTime: time.Now().Add(time.Duration(req.ExpiryMinutes) * time.Minute),
	}, nil
}

func (a *scriptedAdapter) CheckStatus(ctx context.Context, qrID string) (*provider.NormalizedStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.calls
	a.calls++

	if idx < len(a.errs) && a.errs[idx] != nil {
		return nil, a.errs[idx]
	}
	if len(a.statuses) == 0 {
		return &provider.NormalizedStatus{QRID: qrID, Status: datamodel.StatusPending}, nil
	}
	if idx >= len(a.statuses) {
		idx = len(a.statuses) - 1
	}
	return a.statuses[idx], nil
}

func (a *scriptedAdapter) ParseWebhook(raw []byte, headers http.Header) (*provider.NormalizedStatus, error) {
	if a.webhookErr != nil {
		return nil, a.webhookErr
	}
	return a.webhookStatus, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestRegistry(adapter provider.Adapter) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(provider.Info{
		Name:        adapter.Name(),
		DisplayName: "GoPay",
		Method:      "qris",
		MinAmount:   1,
		MaxAmount:   10000000,
		Enabled:     true,
	}, adapter)
	return registry
}

var _ = Describe("Poller", func() {
	var (
		store      *sessionpkg.MemoryStore
		reconciler *paymentPkg.Reconciler
		adapter    *scriptedAdapter
		poller     *paymentPkg.Poller
		ctx        context.Context

		noSleep paymentPkg.SleepFunc
	)

	BeforeEach(func() {
		store = sessionpkg.NewMemoryStore()
		logger := newTestLogger()
		reconciler = paymentPkg.NewReconciler(store, nil, logger)
		adapter = &scriptedAdapter{}
		poller = paymentPkg.NewPoller(newTestRegistry(adapter), store, reconciler, logger)

		noSleep = func(ctx context.Context, d time.Duration) error { return nil }
		poller.SetSleep(noSleep)
		ctx = context.Background()
	})

	Describe("Poll", func() {
		Context("when the provider settles after a few pending replies", func() {
			It("should resolve the session and stop polling", func() {
				// Given
				createPendingSession(store, "qr-poll-1")
				adapter.statuses = []*provider.NormalizedStatus{
					{QRID: "qr-poll-1", Status: datamodel.StatusPending},
					{QRID: "qr-poll-1", Status: datamodel.StatusPending},
					{QRID: "qr-poll-1", Status: datamodel.StatusSuccess, TransactionID: "trx-1"},
				}

				// When
				result, err := poller.Poll(ctx, "qr-poll-1", paymentPkg.PollOptions{MaxAttempts: 10})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(datamodel.StatusSuccess))
				Expect(result.Attempts).To(Equal(3))

				persisted, err := store.Get("qr-poll-1")
				Expect(err).ToNot(HaveOccurred())
				Expect(persisted.Status).To(Equal(datamodel.StatusSuccess))
				Expect(persisted.LastUpdateSource).To(Equal(datamodel.SourcePoll))
			})
		})

		Context("when the attempt budget runs out while still pending", func() {
			It("should report a timeout without persisting it", func() {
				// Given
				createPendingSession(store, "qr-poll-2")

				// When
				result, err := poller.Poll(ctx, "qr-poll-2", paymentPkg.PollOptions{MaxAttempts: 4})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(paymentPkg.StatusTimeout))
				Expect(result.Attempts).To(Equal(4))
				Expect(adapter.callCount()).To(Equal(4))

				persisted, err := store.Get("qr-poll-2")
				Expect(err).ToNot(HaveOccurred())
				Expect(persisted.Status).To(Equal(datamodel.StatusPending))
			})
		})

		Context("when another channel already resolved the session", func() {
			It("should stop immediately without calling the provider", func() {
				// Given
				createPendingSession(store, "qr-poll-3")
				_, err := reconciler.Reconcile(ctx, "qr-poll-3", &provider.NormalizedStatus{
					QRID:   "qr-poll-3",
					Status: datamodel.StatusSuccess,
				}, datamodel.SourceWebhook)
				Expect(err).ToNot(HaveOccurred())

				// When
				result, err := poller.Poll(ctx, "qr-poll-3", paymentPkg.PollOptions{MaxAttempts: 10})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(datamodel.StatusSuccess))
				Expect(result.Attempts).To(Equal(1))
				Expect(adapter.callCount()).To(Equal(0))
			})
		})

		Context("when the context is cancelled mid-poll", func() {
			It("should stop without touching the session", func() {
				// Given
				createPendingSession(store, "qr-poll-4")
				cancelCtx, cancel := context.WithCancel(ctx)
				poller.SetSleep(func(ctx context.Context, d time.Duration) error {
					cancel()
					return ctx.Err()
				})

				// When
				_, err := poller.Poll(cancelCtx, "qr-poll-4", paymentPkg.PollOptions{MaxAttempts: 10})

				// Then
				Expect(err).To(MatchError(context.Canceled))

				persisted, getErr := store.Get("qr-poll-4")
				Expect(getErr).ToNot(HaveOccurred())
				Expect(persisted.Status).To(Equal(datamodel.StatusPending))
			})
		})

		Context("when the provider fails transiently", func() {
			It("should retry within the attempt budget", func() {
				// Given
				createPendingSession(store, "qr-poll-5")
				adapter.errs = []error{
					provider.ErrProviderUnavailable("gopay", context.DeadlineExceeded),
				}
				adapter.statuses = []*provider.NormalizedStatus{
					{QRID: "qr-poll-5", Status: datamodel.StatusPending},
					{QRID: "qr-poll-5", Status: datamodel.StatusFailed},
				}

				// When
				result, err := poller.Poll(ctx, "qr-poll-5", paymentPkg.PollOptions{MaxAttempts: 5})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(datamodel.StatusFailed))
				Expect(result.Attempts).To(Equal(2))
			})
		})

		Context("when a status update callback is provided", func() {
			It("should report progress on every attempt", func() {
				// Given
				createPendingSession(store, "qr-poll-6")
				adapter.statuses = []*provider.NormalizedStatus{
					{QRID: "qr-poll-6", Status: datamodel.StatusPending},
					{QRID: "qr-poll-6", Status: datamodel.StatusSuccess},
				}
				var observed []string

				// When
				_, err := poller.Poll(ctx, "qr-poll-6", paymentPkg.PollOptions{
					MaxAttempts: 10,
					OnStatusUpdate: func(attempt int, status string) {
						observed = append(observed, status)
					},
				})

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(observed).To(Equal([]string{datamodel.StatusPending, datamodel.StatusSuccess}))
			})
		})

		Context("when the session does not exist", func() {
			It("should return a not found error", func() {
				// When
				_, err := poller.Poll(ctx, "qr-missing", paymentPkg.PollOptions{MaxAttempts: 3})

				// Then
				Expect(err).To(HaveOccurred())
			})
		})
	})
})
