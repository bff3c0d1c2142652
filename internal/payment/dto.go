package payment

import (
	"time"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/common/validation"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// maxOrderAmount keeps amounts inside the decimal(10,2) column.
var maxOrderAmount = decimal.RequireFromString("99999999.99")

type CreateOrderRequest struct {
	VCardID int64           `json:"vcard_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (r *CreateOrderRequest) Validate() error {
	v := validation.NewValidator()

	v.Field("vcard_id", r.VCardID).Required().Positive(apperrors.ErrCodeInvalidCard)
	v.Field("amount", r.Amount).
		Positive(apperrors.ErrCodeInvalidAmount).
		MaxDecimalPlaces(2, apperrors.ErrCodeInvalidAmount).
		MaxDecimal(maxOrderAmount, apperrors.ErrCodeInvalidAmount)

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CreateOrderResponse struct {
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	KeyID     string          `json:"key_id"`
	PaymentID int64           `json:"payment_id"`
}

type VerifyRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
	VCardID           int64  `json:"vcard_id"`
}

func (r *VerifyRequest) Validate() error {
	v := validation.NewValidator()

	v.Field("razorpay_order_id", r.RazorpayOrderID).Required().MaxLength(64)
	v.Field("razorpay_payment_id", r.RazorpayPaymentID).Required().MaxLength(64)
	v.Field("razorpay_signature", r.RazorpaySignature).Required()
	v.Field("vcard_id", r.VCardID).Required().Positive(apperrors.ErrCodeInvalidCard)

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type VerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	VCardID int64  `json:"vcard_id"`
}

// OrderActionRequest is the body of the failure and cancel reports.
type OrderActionRequest struct {
	RazorpayOrderID string `json:"razorpay_order_id"`
	VCardID         int64  `json:"vcard_id"`
}

func (r *OrderActionRequest) Validate() error {
	v := validation.NewValidator()

	v.Field("razorpay_order_id", r.RazorpayOrderID).Required().MaxLength(64)
	v.Field("vcard_id", r.VCardID).Required().Positive(apperrors.ErrCodeInvalidCard)

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type PaymentView struct {
	ID                int64           `json:"id"`
	VCardID           int64           `json:"vcard_id"`
	RazorpayOrderID   string          `json:"razorpay_order_id"`
	RazorpayPaymentID *string         `json:"razorpay_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            payment.Status  `json:"status"`
	Origin            payment.Origin  `json:"origin"`
	Description       string          `json:"description,omitempty"`
	Metadata          datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func ToView(p *payment.Payment) PaymentView {
	return PaymentView{
		ID:                p.ID,
		VCardID:           p.VCardID,
		RazorpayOrderID:   p.RazorpayOrderID,
		RazorpayPaymentID: p.RazorpayPaymentID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            p.Status,
		Origin:            p.Origin,
		Description:       p.Description,
		Metadata:          p.Metadata,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

type History struct {
	VCardID       int64               `json:"vcard_id"`
	Payments      []PaymentView       `json:"payments"`
	CurrentStatus vcard.PaymentStatus `json:"current_status"`
}

type HistoryResponse struct {
	Success bool `json:"success"`
	History
}
