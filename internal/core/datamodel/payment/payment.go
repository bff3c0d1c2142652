package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

type Origin string

const (
	OriginOrder   Origin = "order"
	OriginWebhook Origin = "webhook"
)

// Payment is one gateway payment attempt. Rows are never deleted.
type Payment struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	UserID            int64           `gorm:"column:user_id;not null;index" json:"user_id"`
	VCardID           int64           `gorm:"column:vcard_id;not null;index" json:"vcard_id"`
	RazorpayOrderID   string          `gorm:"column:razorpay_order_id;not null;uniqueIndex" json:"razorpay_order_id"`
	RazorpayPaymentID *string         `gorm:"column:razorpay_payment_id;index" json:"razorpay_payment_id,omitempty"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null" json:"amount"`
	Currency          string          `gorm:"column:currency;not null;default:INR" json:"currency"`
	Status            Status          `gorm:"column:status;not null;default:pending" json:"status"`
	Origin            Origin          `gorm:"column:origin;not null;default:order" json:"origin"`
	Description       string          `gorm:"column:description" json:"description,omitempty"`
	Metadata          datatypes.JSON  `gorm:"column:metadata" json:"metadata,omitempty"`
	GatewayDetails    datatypes.JSON  `gorm:"column:gateway_details" json:"gateway_details,omitempty"`
	CreatedAt         time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) PaymentID() string {
	if p.RazorpayPaymentID == nil {
		return ""
	}
	return *p.RazorpayPaymentID
}
