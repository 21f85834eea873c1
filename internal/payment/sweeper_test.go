package payment_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	paymentPkg "github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

var _ = Describe("Sweeper", func() {
	var (
		store      *sessionpkg.MemoryStore
		adapter    *scriptedAdapter
		reconciler *paymentPkg.Reconciler
		sweeper    *paymentPkg.Sweeper
	)

	BeforeEach(func() {
		store = sessionpkg.NewMemoryStore()
		logger := newTestLogger()
		adapter = &scriptedAdapter{}
		reconciler = paymentPkg.NewReconciler(store, nil, logger)
		sweeper = paymentPkg.NewSweeper(paymentPkg.SweeperConfig{
			MaxWorkers:    2,
			JobQueueSize:  10,
			BatchSize:     10,
			SweepInterval: 10 * time.Millisecond,
		}, newTestRegistry(adapter), store, reconciler, logger)
	})

	AfterEach(func() {
		sweeper.Shutdown()
	})

	Context("when a pending session settled at the provider", func() {
		It("should resolve the session in the background", func() {
			// Given
			createPendingSession(store, "qr-sweep-1")
			adapter.statuses = []*provider.NormalizedStatus{
				{QRID: "qr-sweep-1", Status: datamodel.StatusSuccess, TransactionID: "trx-sweep"},
			}

			// When
			sweeper.Start()

			// Then
			Eventually(func() string {
				sess, err := store.Get("qr-sweep-1")
				if err != nil {
					return ""
				}
				return sess.Status
			}, time.Second, 10*time.Millisecond).Should(Equal(datamodel.StatusSuccess))
		})
	})

	Context("when the provider keeps failing", func() {
		It("should leave the session pending for the next sweep", func() {
			// Given
			createPendingSession(store, "qr-sweep-2")
			adapter.errs = []error{
				provider.ErrProviderUnavailable("gopay", nil),
				provider.ErrProviderUnavailable("gopay", nil),
				provider.ErrProviderUnavailable("gopay", nil),
			}

			// When
			sweeper.Start()

			// Then
			Consistently(func() string {
				sess, err := store.Get("qr-sweep-2")
				if err != nil {
					return ""
				}
				return sess.Status
			}, 50*time.Millisecond, 10*time.Millisecond).Should(Equal(datamodel.StatusPending))
		})
	})
})
