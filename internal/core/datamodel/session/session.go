package session

import (
	"encoding/json"
	"time"
)

// Canonical session statuses. CREATED and PENDING are transient; the
// remaining three are terminal and immutable once persisted.
const (
	StatusCreated = "CREATED"
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
)

// Update sources recorded on every accepted write, for audit.
const (
	SourceCreation = "creation"
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
)

// Supported e-wallet providers.
const (
	ProviderGoPay     = "gopay"
	ProviderOVO       = "ovo"
	ProviderDANA      = "dana"
	ProviderShopeePay = "shopeepay"
)

// PaymentSession is one QR payment attempt. QRID is the sole key; Version
// increases by exactly 1 per accepted write and backs the store's
// compare-and-swap.
type PaymentSession struct {
	ID               int64           `json:"id" gorm:"primaryKey"`
	QRID             string          `json:"qr_id" gorm:"column:qr_id;not null;uniqueIndex"`
	OrderID          string          `json:"order_id" gorm:"column:order_id;not null"`
	Provider         string          `json:"provider" gorm:"column:provider;not null"`
	AmountIDR        int64           `json:"amount" gorm:"column:amount_idr;not null"`
	Status           string          `json:"status" gorm:"column:status;default:CREATED"`
	TransactionID    *string         `json:"transaction_id,omitempty" gorm:"column:transaction_id"`
	PaidAmount       *int64          `json:"paid_amount,omitempty" gorm:"column:paid_amount"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" gorm:"column:paid_at"`
	ExpiryTime       time.Time       `json:"expiry_time" gorm:"column:expiry_time;not null"`
	Version          int64           `json:"version" gorm:"column:version;default:1"`
	LastUpdateSource string          `json:"last_update_source" gorm:"column:last_update_source;default:creation"`
	Metadata         json.RawMessage `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	CreatedAt        time.Time       `json:"created_at" gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"column:updated_at;default:now()"`
}

func (PaymentSession) TableName() string {
	return "payment_sessions"
}

// IsTerminal reports whether the session reached a final state.
func (s *PaymentSession) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsExpiredAt reports whether the session's expiry window has passed.
func (s *PaymentSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiryTime)
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusSuccess, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// KnownProviders lists every provider the service can be configured with.
func KnownProviders() []string {
	return []string{ProviderGoPay, ProviderOVO, ProviderDANA, ProviderShopeePay}
}

func IsKnownProvider(provider string) bool {
	for _, p := range KnownProviders() {
		if p == provider {
			return true
		}
	}
	return false
}
