package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCaptured = "payment.captured"
	EventTypePaymentFailed   = "payment.failed"
)

// Source names the verified channel that caused a transition.
type Source string

const (
	SourceClientVerify  Source = "client_verify"
	SourceWebhook       Source = "webhook"
	SourceClientFailure Source = "client_failure"
)

type PaymentCapturedEvent struct {
	BaseEvent
	PaymentRecordID  int64  `json:"payment_record_id"`
	VCardID          int64  `json:"vcard_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Source           Source `json:"source"`
	Synthesized      bool   `json:"synthesized"`
}

func NewPaymentCapturedEvent(recordID, vcardID int64, orderID, paymentID string, source Source, synthesized bool) *PaymentCapturedEvent {
	return &PaymentCapturedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.NewString(),
			Type:      EventTypePaymentCaptured,
			Timestamp: time.Now().UTC(),
		},
		PaymentRecordID:  recordID,
		VCardID:          vcardID,
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		Source:           source,
		Synthesized:      synthesized,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentRecordID int64  `json:"payment_record_id"`
	VCardID         int64  `json:"vcard_id"`
	GatewayOrderID  string `json:"gateway_order_id"`
	Source          Source `json:"source"`
}

func NewPaymentFailedEvent(recordID, vcardID int64, orderID string, source Source) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.NewString(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now().UTC(),
		},
		PaymentRecordID: recordID,
		VCardID:         vcardID,
		GatewayOrderID:  orderID,
		Source:          source,
	}
}
