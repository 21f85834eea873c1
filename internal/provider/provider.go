package provider

import (
	"context"
	"net/http"
	"time"

	errors "github.com/pasalku/payment-gateway/internal"
)

// QRRequest asks a provider to mint a QR for a single payment attempt.
type QRRequest struct {
	Amount        int64
	OrderID       string
	Description   string
	ExpiryMinutes int
}

// QRIssued is the provider's answer to a successful QR request.
type QRIssued struct {
	QRID       string
	QRString   string
	QRURL      string
	ExpiryTime time.Time
}

// NormalizedStatus maps any provider status vocabulary onto the canonical
// session statuses. TransactionID, PaidAmount and PaidAt are only meaningful
// when Status is SUCCESS.
type NormalizedStatus struct {
	QRID          string
	Status        string
	TransactionID string
	PaidAmount    int64
	PaidAt        *time.Time
}

// Adapter translates one e-wallet provider's API into the normalized shape.
// Adapters are stateless and safe to share across concurrent sessions.
type Adapter interface {
	Name() string
	RequestQR(ctx context.Context, req QRRequest) (*QRIssued, error)
	CheckStatus(ctx context.Context, qrID string) (*NormalizedStatus, error)
	ParseWebhook(raw []byte, headers http.Header) (*NormalizedStatus, error)
}

func ErrProviderUnavailable(provider string, cause error) *errors.AppError {
	return errors.NewExternalError("provider request failed: "+provider, errors.ErrCodeProviderUnavailable, cause)
}

func ErrInvalidRequest(message string) *errors.AppError {
	return errors.NewValidationError(message, errors.ErrCodeValidationFailed)
}

func ErrWebhookParse(message string) *errors.AppError {
	return errors.NewValidationError(message, errors.ErrCodeWebhookParseFailed)
}
