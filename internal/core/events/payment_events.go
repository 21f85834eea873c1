package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentExpired   = "payment.expired"
)

type PaymentSucceededEvent struct {
	BaseEvent
	QRID          string `json:"qr_id"`
	OrderID       string `json:"order_id"`
	Provider      string `json:"provider"`
	Amount        int64  `json:"amount"`
	PaidAmount    int64  `json:"paid_amount"`
	TransactionID string `json:"transaction_id"`
	Source        string `json:"source"`
}

func NewPaymentSucceededEvent(qrID, orderID, provider string, amount, paidAmount int64, transactionID, source string) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"qr_id":          qrID,
				"order_id":       orderID,
				"provider":       provider,
				"amount":         amount,
				"paid_amount":    paidAmount,
				"transaction_id": transactionID,
				"source":         source,
			},
		},
		QRID:          qrID,
		OrderID:       orderID,
		Provider:      provider,
		Amount:        amount,
		PaidAmount:    paidAmount,
		TransactionID: transactionID,
		Source:        source,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	QRID     string `json:"qr_id"`
	OrderID  string `json:"order_id"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
	Source   string `json:"source"`
}

func NewPaymentFailedEvent(qrID, orderID, provider string, amount int64, source string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"qr_id":    qrID,
				"order_id": orderID,
				"provider": provider,
				"amount":   amount,
				"source":   source,
			},
		},
		QRID:     qrID,
		OrderID:  orderID,
		Provider: provider,
		Amount:   amount,
		Source:   source,
	}
}

type PaymentExpiredEvent struct {
	BaseEvent
	QRID       string    `json:"qr_id"`
	OrderID    string    `json:"order_id"`
	Provider   string    `json:"provider"`
	Amount     int64     `json:"amount"`
	ExpiryTime time.Time `json:"expiry_time"`
	Source     string    `json:"source"`
}

func NewPaymentExpiredEvent(qrID, orderID, provider string, amount int64, expiryTime time.Time, source string) *PaymentExpiredEvent {
	return &PaymentExpiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentExpired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"qr_id":       qrID,
				"order_id":    orderID,
				"provider":    provider,
				"amount":      amount,
				"expiry_time": expiryTime,
				"source":      source,
			},
		},
		QRID:       qrID,
		OrderID:    orderID,
		Provider:   provider,
		Amount:     amount,
		ExpiryTime: expiryTime,
		Source:     source,
	}
}
