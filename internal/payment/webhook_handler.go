package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pasalku/payment-gateway/internal/transport"
)

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		logger:         logger,
	}
}

// HandleProviderCallback handles POST /api/payments/{provider}/webhook.
// A callback for an already-terminal session is acknowledged with 200 so the
// provider stops redelivering; only unparseable payloads get 400 and only an
// unknown qrId gets 404.
func (h *WebhookHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read callback body", "error", err, "provider", providerName)
		h.WriteErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.paymentService.IngestWebhook(r.Context(), providerName, raw, r.Header)
	if err != nil {
		h.logger.Error("failed to process provider callback",
			"error", err,
			"provider", providerName)
		h.HandleServiceError(w, err)
		return
	}

	h.logger.Info("provider callback processed",
		"provider", providerName,
		"qr_id", sess.QRID,
		"status", sess.Status)

	h.WriteJSON(w, http.StatusOK, WebhookAck{Success: true})
}

func (h *WebhookHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]string{
		"error": message,
	}
	h.WriteJSON(w, statusCode, response)
}
