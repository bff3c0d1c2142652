package paymentgateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrTimeout     = errors.New("gateway timeout")
	ErrUnavailable = errors.New("gateway unreachable")
	ErrRejected    = errors.New("gateway rejected request")
	ErrMalformed   = errors.New("gateway response malformed")
	ErrCircuitOpen = errors.New("circuit open")
)

// Error records which gateway operation failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gateway is the outbound payment provider. Implementations must honour ctx
// deadlines.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error)
}

type OrderRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Receipt     string
	Description string
	Notes       map[string]string
}

// MinorUnits converts a major-unit amount to the integer the gateway expects.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MajorUnits is the inverse of MinorUnits.
func MajorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

type Order struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Status   string
	// Raw is the provider's response body, kept for the audit snapshot.
	Raw map[string]interface{}
}

type PaymentDetails struct {
	ID       string
	OrderID  string
	Status   string
	Method   string
	Amount   decimal.Decimal
	Currency string
	Captured bool
	Raw      map[string]interface{}
}
