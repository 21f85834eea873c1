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

// QRISConfig drives the shared adapter used for providers that expose the
// standard QRIS acquiring API (OVO, DANA, ShopeePay). Only the endpoint paths,
// status vocabulary and signing details differ between them.
type QRISConfig struct {
	Provider        string
	BaseURL         string
	APIKey          string
	CallbackSecret  string
	SignatureHeader string
	ChargePath      string
	StatusPath      string
	StatusMap       map[string]string
	Timeout         time.Duration
}

type QRISAdapter struct {
	cfg    QRISConfig
	client *http.Client
	logger *slog.Logger
}

func NewQRISAdapter(cfg QRISConfig, logger *slog.Logger) *QRISAdapter {
	if cfg.ChargePath == "" {
		cfg.ChargePath = "/v1/qr/charge"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/v1/qr/status"
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Signature"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &QRISAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *QRISAdapter) Name() string {
	return a.cfg.Provider
}

type qrisPayload struct {
	QRID          string     `json:"qr_id"`
	QRString      string     `json:"qr_string"`
	QRURL         string     `json:"qr_url"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id"`
	PaidAmount    int64      `json:"paid_amount"`
	PaidAt        *time.Time `json:"paid_at"`
	ExpiryTime    time.Time  `json:"expiry_time"`
}

func (a *QRISAdapter) RequestQR(ctx context.Context, req QRRequest) (*QRIssued, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidRequest("amount must be positive")
	}
	if req.OrderID == "" {
		return nil, ErrInvalidRequest("order_id is required")
	}

	body, err := json.Marshal(map[string]interface{}{
		"order_id":       req.OrderID,
		"amount":         req.Amount,
		"currency":       "IDR",
		"description":    req.Description,
		"expiry_minutes": req.ExpiryMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	url := a.cfg.BaseURL + a.cfg.ChargePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	a.logger.Info("qris: requesting qr",
		"provider", a.cfg.Provider,
		"order_id", req.OrderID,
		"amount", req.Amount)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("charge returned status %d", resp.StatusCode))
	}

	var payload qrisPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("failed to decode charge response: %w", err))
	}

	return &QRIssued{
		QRID:       payload.QRID,
		QRString:   payload.QRString,
		QRURL:      payload.QRURL,
		ExpiryTime: payload.ExpiryTime,
	}, nil
}

func (a *QRISAdapter) CheckStatus(ctx context.Context, qrID string) (*NormalizedStatus, error) {
	url := fmt.Sprintf("%s%s/%s", a.cfg.BaseURL, a.cfg.StatusPath, qrID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, ErrProviderUnavailable(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &NormalizedStatus{QRID: qrID, Status: session.StatusExpired}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("status returned %d", resp.StatusCode))
	}

	var payload qrisPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ErrProviderUnavailable(a.Name(), fmt.Errorf("failed to decode status response: %w", err))
	}

	return a.normalize(payload)
}

func (a *QRISAdapter) ParseWebhook(raw []byte, headers http.Header) (*NormalizedStatus, error) {
	if a.cfg.CallbackSecret != "" {
		signature := headers.Get(a.cfg.SignatureHeader)
		if signature == "" {
			return nil, ErrWebhookParse("missing callback signature")
		}

		mac := hmac.New(sha256.New, []byte(a.cfg.CallbackSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(signature)) {
			return nil, ErrWebhookParse("callback signature mismatch")
		}
	}

	var payload qrisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrWebhookParse("malformed callback payload")
	}

	if payload.QRID == "" {
		return nil, ErrWebhookParse("callback missing qr_id")
	}
	if payload.Status == "" {
		return nil, ErrWebhookParse("callback missing status")
	}

	return a.normalize(payload)
}

func (a *QRISAdapter) normalize(payload qrisPayload) (*NormalizedStatus, error) {
	mapped, ok := a.cfg.StatusMap[payload.Status]
	if !ok {
		return nil, ErrWebhookParse(fmt.Sprintf("unknown %s status: %s", a.cfg.Provider, payload.Status))
	}

	normalized := &NormalizedStatus{
		QRID:   payload.QRID,
		Status: mapped,
	}

	if mapped == session.StatusSuccess {
		normalized.TransactionID = payload.TransactionID
		normalized.PaidAmount = payload.PaidAmount
		normalized.PaidAt = payload.PaidAt
	}

	return normalized, nil
}

// DefaultQRISStatusMap covers the vocabulary OVO, DANA and ShopeePay share.
func DefaultQRISStatusMap() map[string]string {
	return map[string]string{
		"PENDING":    session.StatusPending,
		"PROCESSING": session.StatusPending,
		"SUCCESS":    session.StatusSuccess,
		"COMPLETED":  session.StatusSuccess,
		"FAILED":     session.StatusFailed,
		"CANCELLED":  session.StatusFailed,
		"EXPIRED":    session.StatusExpired,
		"NOT_FOUND":  session.StatusExpired,
	}
}
