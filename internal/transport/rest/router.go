package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/pasalku/payment-gateway/internal/payment"
	"github.com/pasalku/payment-gateway/internal/transport/middleware"
	"github.com/pasalku/payment-gateway/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)
	})

	router.Route("/api/payments", func(r chi.Router) {
		if paymentHandler != nil {
			r.Post("/ewallet", paymentHandler.DispatchEwallet)
			r.Get("/ewallet", paymentHandler.ListProviders)

			r.Route("/{provider}", func(pr chi.Router) {
				pr.Post("/qr", paymentHandler.CreateQR)
				pr.Get("/status/{qrId}", paymentHandler.GetStatus)

				if webhookHandler != nil {
					pr.Post("/webhook", webhookHandler.HandleProviderCallback)
				}
			})
		}
	})
}
