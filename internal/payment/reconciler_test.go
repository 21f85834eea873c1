package payment_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	"github.com/pasalku/payment-gateway/internal/core/events"
	paymentPkg "github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

// conflictingStore forces a number of version conflicts before delegating,
// to exercise the bounded retry loop.
type conflictingStore struct {
	sessionpkg.Store
	conflicts int
}

func (s *conflictingStore) CompareAndSwap(qrID string, expectedVersion int64, mutate sessionpkg.Mutator) (*datamodel.PaymentSession, error) {
	if s.conflicts > 0 {
		s.conflicts--
		return nil, apperrors.ErrVersionConflict
	}
	return s.Store.CompareAndSwap(qrID, expectedVersion, mutate)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func createPendingSession(store sessionpkg.Store, qrID string) *datamodel.PaymentSession {
	sess := &datamodel.PaymentSession{
		QRID:             qrID,
		OrderID:          "order-" + qrID,
		Provider:         datamodel.ProviderGoPay,
		AmountIDR:        150000,
		Status:           datamodel.StatusPending,
		ExpiryTime:       time.Now().Add(15 * time.Minute),
		LastUpdateSource: datamodel.SourceCreation,
	}
	Expect(store.Create(sess)).To(Succeed())

	stored, err := store.Get(qrID)
	Expect(err).ToNot(HaveOccurred())
	return stored
}

var _ = Describe("Reconciler", func() {
	var (
		store      *sessionpkg.MemoryStore
		reconciler *paymentPkg.Reconciler
		logger     *slog.Logger
		ctx        context.Context
	)

	BeforeEach(func() {
		store = sessionpkg.NewMemoryStore()
		logger = newTestLogger()
		reconciler = paymentPkg.NewReconciler(store, nil, logger)
		ctx = context.Background()
	})

	Describe("Reconcile", func() {
		Context("when a webhook reports success for a pending session", func() {
			It("should persist the terminal state and bump the version by one", func() {
				// Given
				sess := createPendingSession(store, "qr-1")
				paidAt := time.Now()
				update := &provider.NormalizedStatus{
					QRID:          "qr-1",
					Status:        datamodel.StatusSuccess,
					TransactionID: "trx-abc",
					PaidAmount:    150000,
					PaidAt:        &paidAt,
				}

				// When
				updated, err := reconciler.Reconcile(ctx, "qr-1", update, datamodel.SourceWebhook)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(updated.Status).To(Equal(datamodel.StatusSuccess))
				Expect(updated.Version).To(Equal(sess.Version + 1))
				Expect(updated.LastUpdateSource).To(Equal(datamodel.SourceWebhook))
				Expect(updated.TransactionID).ToNot(BeNil())
				Expect(*updated.TransactionID).To(Equal("trx-abc"))
				Expect(updated.PaidAmount).ToNot(BeNil())
				Expect(*updated.PaidAmount).To(Equal(int64(150000)))
				Expect(updated.PaidAt).ToNot(BeNil())
			})
		})

		Context("when a success update omits the paid amount", func() {
			It("should default the paid amount to the session amount", func() {
				// Given
				createPendingSession(store, "qr-2")
				update := &provider.NormalizedStatus{
					QRID:          "qr-2",
					Status:        datamodel.StatusSuccess,
					TransactionID: "trx-2",
				}

				// When
				updated, err := reconciler.Reconcile(ctx, "qr-2", update, datamodel.SourceWebhook)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(updated.PaidAmount).ToNot(BeNil())
				Expect(*updated.PaidAmount).To(Equal(int64(150000)))
				Expect(updated.PaidAt).ToNot(BeNil())
			})
		})

		Context("when the same webhook is delivered twice", func() {
			It("should acknowledge the replay without changing the session", func() {
				// Given
				createPendingSession(store, "qr-3")
				update := &provider.NormalizedStatus{
					QRID:          "qr-3",
					Status:        datamodel.StatusSuccess,
					TransactionID: "trx-3",
					PaidAmount:    150000,
				}
				first, err := reconciler.Reconcile(ctx, "qr-3", update, datamodel.SourceWebhook)
				Expect(err).ToNot(HaveOccurred())

				// When
				second, err := reconciler.Reconcile(ctx, "qr-3", update, datamodel.SourceWebhook)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(second.Status).To(Equal(datamodel.StatusSuccess))
				Expect(second.Version).To(Equal(first.Version))
				Expect(second.UpdatedAt).To(Equal(first.UpdatedAt))
			})
		})

		Context("when a conflicting update arrives after a terminal state", func() {
			It("should keep the first terminal state", func() {
				// Given
				createPendingSession(store, "qr-4")
				success := &provider.NormalizedStatus{
					QRID:   "qr-4",
					Status: datamodel.StatusSuccess,
				}
				_, err := reconciler.Reconcile(ctx, "qr-4", success, datamodel.SourceWebhook)
				Expect(err).ToNot(HaveOccurred())

				// When
				failed := &provider.NormalizedStatus{
					QRID:   "qr-4",
					Status: datamodel.StatusFailed,
				}
				result, err := reconciler.Reconcile(ctx, "qr-4", failed, datamodel.SourcePoll)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(datamodel.StatusSuccess))
			})
		})

		Context("when a pending update arrives for a created session", func() {
			It("should promote the session to pending and record the source", func() {
				// Given
				sess := &datamodel.PaymentSession{
					QRID:             "qr-5",
					OrderID:          "order-qr-5",
					Provider:         datamodel.ProviderOVO,
					AmountIDR:        20000,
					Status:           datamodel.StatusCreated,
					ExpiryTime:       time.Now().Add(15 * time.Minute),
					LastUpdateSource: datamodel.SourceCreation,
				}
				Expect(store.Create(sess)).To(Succeed())

				// When
				updated, err := reconciler.Reconcile(ctx, "qr-5", &provider.NormalizedStatus{
					QRID:   "qr-5",
					Status: datamodel.StatusPending,
				}, datamodel.SourcePoll)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(updated.Status).To(Equal(datamodel.StatusPending))
				Expect(updated.Version).To(Equal(int64(2)))
				Expect(updated.LastUpdateSource).To(Equal(datamodel.SourcePoll))
			})
		})

		Context("when a pending update arrives past the expiry window", func() {
			It("should resolve the session as expired", func() {
				// Given
				sess := &datamodel.PaymentSession{
					QRID:             "qr-6",
					OrderID:          "order-qr-6",
					Provider:         datamodel.ProviderDANA,
					AmountIDR:        30000,
					Status:           datamodel.StatusPending,
					ExpiryTime:       time.Now().Add(-time.Minute),
					LastUpdateSource: datamodel.SourceCreation,
				}
				Expect(store.Create(sess)).To(Succeed())

				// When
				updated, err := reconciler.Reconcile(ctx, "qr-6", &provider.NormalizedStatus{
					QRID:   "qr-6",
					Status: datamodel.StatusPending,
				}, datamodel.SourcePoll)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(updated.Status).To(Equal(datamodel.StatusExpired))
			})
		})

		Context("when another writer wins one version race", func() {
			It("should re-read and apply the update on the next attempt", func() {
				// Given
				conflicting := &conflictingStore{Store: store, conflicts: 1}
				retryingReconciler := paymentPkg.NewReconciler(conflicting, nil, logger)
				createPendingSession(store, "qr-7")

				// When
				updated, err := retryingReconciler.Reconcile(ctx, "qr-7", &provider.NormalizedStatus{
					QRID:   "qr-7",
					Status: datamodel.StatusSuccess,
				}, datamodel.SourceWebhook)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(updated.Status).To(Equal(datamodel.StatusSuccess))
			})
		})

		Context("when every attempt loses the version race", func() {
			It("should give up and return the persisted state without error", func() {
				// Given
				conflicting := &conflictingStore{Store: store, conflicts: 100}
				stubbornReconciler := paymentPkg.NewReconciler(conflicting, nil, logger)
				createPendingSession(store, "qr-8")

				// When
				result, err := stubbornReconciler.Reconcile(ctx, "qr-8", &provider.NormalizedStatus{
					QRID:   "qr-8",
					Status: datamodel.StatusFailed,
				}, datamodel.SourcePoll)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(datamodel.StatusPending))
				Expect(conflicting.conflicts).To(Equal(97))
			})
		})

		Context("when the session does not exist", func() {
			It("should return a not found error", func() {
				// When
				_, err := reconciler.Reconcile(ctx, "qr-missing", &provider.NormalizedStatus{
					QRID:   "qr-missing",
					Status: datamodel.StatusSuccess,
				}, datamodel.SourceWebhook)

				// Then
				Expect(err).To(MatchError(apperrors.ErrSessionNotFound))
			})
		})
	})

	Describe("terminal events", func() {
		Context("when a session resolves successfully", func() {
			It("should publish a payment.succeeded event", func() {
				// Given
				eventBus := events.NewEventBus(logger)
				received := make(chan events.Event, 1)
				eventBus.Subscribe(events.EventTypePaymentSucceeded, func(ctx context.Context, event events.Event) error {
					received <- event
					return nil
				})
				publishing := paymentPkg.NewReconciler(store, eventBus, logger)
				createPendingSession(store, "qr-9")

				// When
				_, err := publishing.Reconcile(ctx, "qr-9", &provider.NormalizedStatus{
					QRID:          "qr-9",
					Status:        datamodel.StatusSuccess,
					TransactionID: "trx-9",
				}, datamodel.SourceWebhook)

				// Then
				Expect(err).ToNot(HaveOccurred())
				Eventually(received).Should(Receive())
			})
		})

		Context("when a replay hits an already terminal session", func() {
			It("should not publish a second event", func() {
				// Given
				eventBus := events.NewEventBus(logger)
				received := make(chan events.Event, 2)
				eventBus.Subscribe(events.EventTypePaymentSucceeded, func(ctx context.Context, event events.Event) error {
					received <- event
					return nil
				})
				publishing := paymentPkg.NewReconciler(store, eventBus, logger)
				createPendingSession(store, "qr-10")
				update := &provider.NormalizedStatus{QRID: "qr-10", Status: datamodel.StatusSuccess}

				// When
				_, err := publishing.Reconcile(ctx, "qr-10", update, datamodel.SourceWebhook)
				Expect(err).ToNot(HaveOccurred())
				_, err = publishing.Reconcile(ctx, "qr-10", update, datamodel.SourceWebhook)
				Expect(err).ToNot(HaveOccurred())

				// Then
				Eventually(received).Should(Receive())
				Consistently(received).ShouldNot(Receive())
			})
		})
	})
})
