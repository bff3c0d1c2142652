package vcard

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// VCard is a digital business card. Its payment fields mirror the funding
// payment record and are written only by the payment store.
type VCard struct {
	ID                int64           `gorm:"primaryKey" json:"id"`
	UserID            int64           `gorm:"column:user_id;not null;index" json:"user_id"`
	Name              string          `gorm:"column:name;not null" json:"name"`
	Designation       string          `gorm:"column:designation" json:"designation,omitempty"`
	CompanyName       string          `gorm:"column:company_name" json:"company_name,omitempty"`
	Mobile            string          `gorm:"column:mobile;not null" json:"mobile"`
	Email             string          `gorm:"column:email;not null" json:"email"`
	Website           string          `gorm:"column:website" json:"website,omitempty"`
	Address           string          `gorm:"column:address" json:"address,omitempty"`
	QRCode            string          `gorm:"column:qr_code;not null;uniqueIndex" json:"qr_code"`
	PaymentStatus     PaymentStatus   `gorm:"column:payment_status;not null;default:pending" json:"payment_status"`
	RazorpayOrderID   *string         `gorm:"column:razorpay_order_id" json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID *string         `gorm:"column:razorpay_payment_id" json:"razorpay_payment_id,omitempty"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(8,2);not null;default:0" json:"amount"`
	PaidAt            *time.Time      `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (VCard) TableName() string {
	return "v_cards"
}
