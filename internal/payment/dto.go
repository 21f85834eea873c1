package payment

import (
	"encoding/json"
	"time"

	errors "github.com/pasalku/payment-gateway/internal"
	"github.com/pasalku/payment-gateway/internal/core/common/validation"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
)

// CreateQRRequest is the body of POST /api/payments/{provider}/qr.
type CreateQRRequest struct {
	Amount        int64  `json:"amount"`
	OrderID       string `json:"order_id"`
	Description   string `json:"description,omitempty"`
	ExpiryMinutes int64  `json:"expiry_minutes,omitempty"`
}

func (r *CreateQRRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).
		Required().
		MinInt(1, errors.ErrCodeInvalidAmount).
		MaxInt(10000000, errors.ErrCodeAmountTooHigh)
	validator.Field("order_id", r.OrderID).Required().MaxLength(64)
	if r.ExpiryMinutes != 0 {
		validator.Field("expiry_minutes", r.ExpiryMinutes).
			MinInt(1, errors.ErrCodeInvalidExpiry).
			MaxInt(1440, errors.ErrCodeInvalidExpiry)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// DispatchRequest is the body of POST /api/payments/ewallet; it names the
// provider explicitly instead of carrying it in the path.
type DispatchRequest struct {
	Provider      string `json:"provider"`
	Amount        int64  `json:"amount"`
	OrderID       string `json:"order_id"`
	Description   string `json:"description,omitempty"`
	ExpiryMinutes int64  `json:"expiry_minutes,omitempty"`
}

func (r *DispatchRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("provider", r.Provider).Required()
	validator.Field("amount", r.Amount).
		Required().
		MinInt(1, errors.ErrCodeInvalidAmount).
		MaxInt(10000000, errors.ErrCodeAmountTooHigh)
	validator.Field("order_id", r.OrderID).Required().MaxLength(64)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CreateQRResponse struct {
	QRID       string    `json:"qr_id"`
	QRString   string    `json:"qr_string,omitempty"`
	QRURL      string    `json:"qr_url,omitempty"`
	Amount     int64     `json:"amount"`
	OrderID    string    `json:"order_id"`
	Provider   string    `json:"provider"`
	ExpiryTime time.Time `json:"expiry_time"`
	Status     string    `json:"status"`
}

type StatusResponse struct {
	QRID          string     `json:"qr_id"`
	Status        string     `json:"status"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	PaidAmount    *int64     `json:"paid_amount,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type WebhookAck struct {
	Success bool `json:"success"`
}

// sessionMetadata is the provider detail captured at creation time; the QR
// artifacts are not session state so they live in the opaque metadata bag.
type sessionMetadata struct {
	QRString    string `json:"qr_string,omitempty"`
	QRURL       string `json:"qr_url,omitempty"`
	Description string `json:"description,omitempty"`
}

func ToStatusResponse(s *datamodel.PaymentSession) StatusResponse {
	return StatusResponse{
		QRID:          s.QRID,
		Status:        s.Status,
		TransactionID: s.TransactionID,
		PaidAmount:    s.PaidAmount,
		PaidAt:        s.PaidAt,
	}
}

func ToCreateQRResponse(s *datamodel.PaymentSession) CreateQRResponse {
	resp := CreateQRResponse{
		QRID:       s.QRID,
		Amount:     s.AmountIDR,
		OrderID:    s.OrderID,
		Provider:   s.Provider,
		ExpiryTime: s.ExpiryTime,
		Status:     s.Status,
	}

	if len(s.Metadata) > 0 {
		var meta sessionMetadata
		if err := json.Unmarshal(s.Metadata, &meta); err == nil {
			resp.QRString = meta.QRString
			resp.QRURL = meta.QRURL
		}
	}

	return resp
}
