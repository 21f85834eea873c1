package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/go-chi/chi"

	apperrors "github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	paymentPkg "github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/provider"
)

// mockPaymentService implements the service surface the handlers consume.
type mockPaymentService struct {
	createSession  *datamodel.PaymentSession
	createErr      error
	statusSession  *datamodel.PaymentSession
	statusErr      error
	ingestSession  *datamodel.PaymentSession
	ingestErr      error
	providers      []provider.Info
	lastProvider   string
	lastCreateReq  *paymentPkg.CreateQRRequest
	lastWebhookRaw []byte
}

func (m *mockPaymentService) CreatePayment(ctx context.Context, providerName string, req *paymentPkg.CreateQRRequest) (*datamodel.PaymentSession, error) {
	m.lastProvider = providerName
	m.lastCreateReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.createSession, nil
}

func (m *mockPaymentService) GetStatus(qrID string) (*datamodel.PaymentSession, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statusSession, nil
}

func (m *mockPaymentService) PollUntilResolved(ctx context.Context, qrID string, opts paymentPkg.PollOptions) (*paymentPkg.PollResult, error) {
	return nil, nil
}

func (m *mockPaymentService) IngestWebhook(ctx context.Context, providerName string, raw []byte, headers http.Header) (*datamodel.PaymentSession, error) {
	m.lastProvider = providerName
	m.lastWebhookRaw = raw
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	return m.ingestSession, nil
}

func (m *mockPaymentService) Providers() []provider.Info {
	return m.providers
}

func sampleSession(qrID, status string) *datamodel.PaymentSession {
	metadata, _ := json.Marshal(map[string]string{
		"qr_string": "00020101021226660014ID.CO.EXAMPLE",
		"qr_url":    "https://pay.example/" + qrID,
	})
	return &datamodel.PaymentSession{
		ID:               1,
		QRID:             qrID,
		OrderID:          "order-" + qrID,
		Provider:         datamodel.ProviderGoPay,
		AmountIDR:        75000,
		Status:           status,
		ExpiryTime:       time.Now().Add(15 * time.Minute),
		Version:          2,
		LastUpdateSource: datamodel.SourceCreation,
		Metadata:         metadata,
	}
}

func newPaymentRouter(svc paymentPkg.ServiceAPI) *chi.Mux {
	logger := newTestLogger()
	handler := paymentPkg.NewHandler(svc, logger)

	router := chi.NewRouter()
	router.Post("/api/payments/ewallet", handler.DispatchEwallet)
	router.Get("/api/payments/ewallet", handler.ListProviders)
	router.Post("/api/payments/{provider}/qr", handler.CreateQR)
	router.Get("/api/payments/{provider}/status/{qrId}", handler.GetStatus)
	return router
}

var _ = Describe("PaymentHandler", func() {
	var (
		mockService *mockPaymentService
		router      *chi.Mux
	)

	BeforeEach(func() {
		mockService = &mockPaymentService{}
		router = newPaymentRouter(mockService)
	})

	Describe("CreateQR", func() {
		Context("when the request is valid", func() {
			It("should return 201 with the QR artifacts", func() {
				// Given
				mockService.createSession = sampleSession("qr-h1", datamodel.StatusPending)
				body, _ := json.Marshal(paymentPkg.CreateQRRequest{Amount: 75000, OrderID: "order-qr-h1"})

				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/gopay/qr", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusCreated))
				Expect(mockService.lastProvider).To(Equal("gopay"))

				var resp paymentPkg.CreateQRResponse
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.QRID).To(Equal("qr-h1"))
				Expect(resp.QRString).To(Equal("00020101021226660014ID.CO.EXAMPLE"))
				Expect(resp.Status).To(Equal(datamodel.StatusPending))
			})
		})

		Context("when the body is not valid JSON", func() {
			It("should return 400", func() {
				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/gopay/qr", bytes.NewReader([]byte("{")))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when the service rejects the amount", func() {
			It("should return 400", func() {
				// Given
				mockService.createErr = apperrors.NewValidationError("amount must be at least 1", apperrors.ErrCodeInvalidAmount)
				body, _ := json.Marshal(paymentPkg.CreateQRRequest{Amount: -5, OrderID: "order-x"})

				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/gopay/qr", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when the provider is unsupported", func() {
			It("should return 400", func() {
				// Given
				mockService.createErr = apperrors.ErrUnsupportedProvider
				body, _ := json.Marshal(paymentPkg.CreateQRRequest{Amount: 1000, OrderID: "order-x"})

				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/linkaja/qr", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GetStatus", func() {
		Context("when the session exists", func() {
			It("should return 200 with the persisted state", func() {
				// Given
				transactionID := "trx-h2"
				sess := sampleSession("qr-h2", datamodel.StatusSuccess)
				sess.TransactionID = &transactionID
				mockService.statusSession = sess

				// When
				req := httptest.NewRequest(http.MethodGet, "/api/payments/gopay/status/qr-h2", nil)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusOK))

				var resp paymentPkg.StatusResponse
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.QRID).To(Equal("qr-h2"))
				Expect(resp.Status).To(Equal(datamodel.StatusSuccess))
				Expect(resp.TransactionID).ToNot(BeNil())
				Expect(*resp.TransactionID).To(Equal("trx-h2"))
			})
		})

		Context("when the session is unknown", func() {
			It("should return 404", func() {
				// Given
				mockService.statusErr = apperrors.ErrSessionNotFound

				// When
				req := httptest.NewRequest(http.MethodGet, "/api/payments/gopay/status/qr-unknown", nil)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("DispatchEwallet", func() {
		Context("when the body names a provider", func() {
			It("should route creation to that provider", func() {
				// Given
				mockService.createSession = sampleSession("qr-h3", datamodel.StatusPending)
				body, _ := json.Marshal(paymentPkg.DispatchRequest{
					Provider: "dana",
					Amount:   75000,
					OrderID:  "order-qr-h3",
				})

				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/ewallet", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusCreated))
				Expect(mockService.lastProvider).To(Equal("dana"))
				Expect(mockService.lastCreateReq.Amount).To(Equal(int64(75000)))
			})
		})

		Context("when the provider field is missing", func() {
			It("should return 400 without calling the service", func() {
				// Given
				body, _ := json.Marshal(paymentPkg.DispatchRequest{Amount: 75000, OrderID: "order-x"})

				// When
				req := httptest.NewRequest(http.MethodPost, "/api/payments/ewallet", bytes.NewReader(body))
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				// Then
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
				Expect(mockService.lastProvider).To(BeEmpty())
			})
		})
	})

	Describe("ListProviders", func() {
		It("should return the registered capabilities", func() {
			// Given
			mockService.providers = []provider.Info{
				{Name: "gopay", DisplayName: "GoPay", Method: "qris", MinAmount: 1, MaxAmount: 10000000, Enabled: true},
				{Name: "ovo", DisplayName: "OVO", Method: "qris", MinAmount: 1, MaxAmount: 10000000, Enabled: true},
			}

			// When
			req := httptest.NewRequest(http.MethodGet, "/api/payments/ewallet", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			// Then
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Providers []provider.Info `json:"providers"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Providers).To(HaveLen(2))
			Expect(resp.Providers[0].Name).To(Equal("gopay"))
		})
	})
})
