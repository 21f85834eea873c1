package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	errors "github.com/pasalku/payment-gateway/internal"
	"github.com/pasalku/payment-gateway/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// CreateQR handles POST /api/payments/{provider}/qr
func (h *Handler) CreateQR(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	var req CreateQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreateQR: failed to parse request body", "error", err, "provider", providerName)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	sess, err := h.PaymentService.CreatePayment(r.Context(), providerName, &req)
	if err != nil {
		h.Logger.Error("CreateQR: service error",
			"error", err,
			"provider", providerName,
			"order_id", req.OrderID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreateQR: qr session created",
		"qr_id", sess.QRID,
		"provider", providerName,
		"order_id", sess.OrderID)

	h.WriteJSON(w, http.StatusCreated, ToCreateQRResponse(sess))
}

// GetStatus handles GET /api/payments/{provider}/status/{qrId}
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	qrID := chi.URLParam(r, "qrId")
	if qrID == "" {
		h.HandleError(w, errors.NewValidationError("qrId is required", errors.ErrCodeValidationFailed))
		return
	}

	sess, err := h.PaymentService.GetStatus(qrID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToStatusResponse(sess))
}

// DispatchEwallet handles POST /api/payments/ewallet; it validates the
// provider against the registry and routes to the provider create path.
func (h *Handler) DispatchEwallet(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("DispatchEwallet: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	createReq := CreateQRRequest{
		Amount:        req.Amount,
		OrderID:       req.OrderID,
		Description:   req.Description,
		ExpiryMinutes: req.ExpiryMinutes,
	}

	sess, err := h.PaymentService.CreatePayment(r.Context(), req.Provider, &createReq)
	if err != nil {
		h.Logger.Error("DispatchEwallet: service error",
			"error", err,
			"provider", req.Provider,
			"order_id", req.OrderID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToCreateQRResponse(sess))
}

// ListProviders handles GET /api/payments/ewallet
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"providers": h.PaymentService.Providers(),
	})
}
