package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pasalku/payment-gateway/internal/core/datamodel/session"
)

const gopaySignatureHeader = "X-Callback-Signature"

// gopayStatusMap maps GoPay's status vocabulary onto the canonical set.
// A QR the provider no longer knows about is reported EXPIRED, so a session
// past its window converges the next time any channel observes it.
var gopayStatusMap = map[string]string{
	"PENDING":     session.StatusPending,
	"ON_PROGRESS": session.StatusPending,
	"SETTLEMENT":  session.StatusSuccess,
	"PAID":        session.StatusSuccess,
	"DENY":        session.StatusFailed,
	"CANCEL":      session.StatusFailed,
	"FAILURE":     session.StatusFailed,
	"EXPIRE":      session.StatusExpired,
	"NOT_FOUND":   session.StatusExpired,
}

type GoPayConfig struct {
	BaseURL        string
	ServerKey      string
	CallbackSecret string
	Timeout        time.Duration
}

// GoPayAdapter is the reference adapter: a plain HTTP client against the
// GoPay QRIS API plus HMAC verification of its callbacks.
type GoPayAdapter struct {
	baseURL        string
	serverKey      string
	callbackSecret string
	client         *http.Client
	logger         *slog.Logger
}

func NewGoPayAdapter(cfg GoPayConfig, logger *slog.Logger) *GoPayAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GoPayAdapter{
		baseURL:        cfg.BaseURL,
		serverKey:      cfg.ServerKey,
		callbackSecret: cfg.CallbackSecret,
		client:         &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

func (a *GoPayAdapter) Name() string {
	return session.ProviderGoPay
}

type gopayChargeRequest struct {
	OrderID       string `json:"order_id"`
	GrossAmount   int64  `json:"gross_amount"`
	Description   string `json:"description,omitempty"`
	ExpiryMinutes int    `json:"expiry_minutes"`
}

type gopayChargeResponse struct {
	QRID       string    `json:"qr_id"`
	QRString   string    `json:"qr_string"`
	QRURL      string    `json:"qr_url"`
	Status     string    `json:"status"`
	ExpiryTime time.Time `json:"expiry_time"`
}

func (a *GoPayAdapter) RequestQR(ctx context.Context, req QRRequest) (*QRIssued, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidRequest("amount must be positive")
	}
	if req.OrderID == "" {
		return nil, ErrInvalidRequest("order_id is required")
	}

	body, err := json.Marshal(gopayChargeRequest{
		OrderID:       req.OrderID,
		GrossAmount:   req.Amount,
		Description:   req.Description,
		ExpiryMinutes: req.ExpiryMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	url := a.baseURL + "/v2/qris/charge"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+a.serverKey)

	a.logger.Info("gopay: requesting qr",
		"order_id", req.OrderID,
		"amount", req.Amount,
		"url", url)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("charge returned status %d", resp.StatusCode))
	}

	var charge gopayChargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("failed to decode charge response: %w", err))
	}

	a.logger.Info("gopay: qr issued",
		"qr_id", charge.QRID,
		"order_id", req.OrderID,
		"expiry_time", charge.ExpiryTime)

	return &QRIssued{
		QRID:       charge.QRID,
		QRString:   charge.QRString,
		QRURL:      charge.QRURL,
		ExpiryTime: charge.ExpiryTime,
	}, nil
}

type gopayStatusResponse struct {
	QRID          string     `json:"qr_id"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id"`
	PaidAmount    int64      `json:"paid_amount"`
	PaidAt        *time.Time `json:"paid_at"`
}

func (a *GoPayAdapter) CheckStatus(ctx context.Context, qrID string) (*NormalizedStatus, error) {
	url := fmt.Sprintf("%s/v2/qris/status/%s", a.baseURL, qrID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Basic "+a.serverKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable(a.Name(), err)
	}
	defer resp.Body.Close()

	// the provider forgets expired charges; treat a missing QR as expired
	if resp.StatusCode == http.StatusNotFound {
		return &NormalizedStatus{QRID: qrID, Status: session.StatusExpired}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("status returned %d", resp.StatusCode))
	}

	var status gopayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("failed to decode status response: %w", err))
	}

	return a.normalize(status.QRID, status.Status, status.TransactionID, status.PaidAmount, status.PaidAt)
}

type gopayCallback struct {
	QRID          string     `json:"qr_id"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id"`
	PaidAmount    int64      `json:"paid_amount"`
	PaidAt        *time.Time `json:"paid_at"`
}

func (a *GoPayAdapter) ParseWebhook(raw []byte, headers http.Header) (*NormalizedStatus, error) {
	if a.callbackSecret != "" {
		signature := headers.Get(gopaySignatureHeader)
		if signature == "" {
			return nil, ErrWebhookParse("missing callback signature")
		}
		if !a.verifySignature(raw, signature) {
			return nil, ErrWebhookParse("callback signature mismatch")
		}
	}

	var callback gopayCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		return nil, ErrWebhookParse("malformed callback payload")
	}

	if callback.QRID == "" {
		return nil, ErrWebhookParse("callback missing qr_id")
	}
	if callback.Status == "" {
		return nil, ErrWebhookParse("callback missing status")
	}

	return a.normalize(callback.QRID, callback.Status, callback.TransactionID, callback.PaidAmount, callback.PaidAt)
}

func (a *GoPayAdapter) verifySignature(raw []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(a.callbackSecret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *GoPayAdapter) normalize(qrID, providerStatus, transactionID string, paidAmount int64, paidAt *time.Time) (*NormalizedStatus, error) {
	mapped, ok := gopayStatusMap[providerStatus]
	if !ok {
		return nil, ErrWebhookParse("unknown gopay status: " + providerStatus)
	}

	normalized := &NormalizedStatus{
		QRID:   qrID,
		Status: mapped,
	}

	if mapped == session.StatusSuccess {
		normalized.TransactionID = transactionID
		normalized.PaidAmount = paidAmount
		normalized.PaidAt = paidAt
	}

	return normalized, nil
}
