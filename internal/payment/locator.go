package payment

import (
	"context"
	"errors"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
)

// Reference carries every correlation key an inbound event may hold.
type Reference struct {
	OrderID   string
	PaymentID string
	LinkID    string
}

// Strategy finds a record for a reference. A miss is (nil, nil); any error
// is a store failure.
type Strategy interface {
	Name() string
	Find(ctx context.Context, ref Reference) (*payment.Payment, error)
}

type recordFinder interface {
	GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error)
	FindByMetadata(ctx context.Context, needle string) (*payment.Payment, error)
}

type ByOrderID struct{ Store recordFinder }

func (ByOrderID) Name() string { return "order_id" }

func (s ByOrderID) Find(ctx context.Context, ref Reference) (*payment.Payment, error) {
	if ref.OrderID == "" {
		return nil, nil
	}
	return missIsNil(s.Store.GetByOrderID(ctx, ref.OrderID))
}

type ByPaymentID struct{ Store recordFinder }

func (ByPaymentID) Name() string { return "payment_id" }

func (s ByPaymentID) Find(ctx context.Context, ref Reference) (*payment.Payment, error) {
	if ref.PaymentID == "" {
		return nil, nil
	}
	return missIsNil(s.Store.GetByPaymentID(ctx, ref.PaymentID))
}

// ByLinkMetadata matches a payment-link id anywhere in the stored metadata.
type ByLinkMetadata struct{ Store recordFinder }

func (ByLinkMetadata) Name() string { return "payment_link_metadata" }

func (s ByLinkMetadata) Find(ctx context.Context, ref Reference) (*payment.Payment, error) {
	if ref.LinkID == "" {
		return nil, nil
	}
	return missIsNil(s.Store.FindByMetadata(ctx, ref.LinkID))
}

func missIsNil(p *payment.Payment, err error) (*payment.Payment, error) {
	if errors.Is(err, apperrors.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Locator struct {
	strategies []Strategy
}

func NewLocator(strategies ...Strategy) *Locator {
	return &Locator{strategies: strategies}
}

// DefaultLocator tries order id, then payment id, then payment-link metadata.
func DefaultLocator(store recordFinder) *Locator {
	return NewLocator(ByOrderID{store}, ByPaymentID{store}, ByLinkMetadata{store})
}

// Locate returns the first hit and the name of the strategy that found it.
// A store error stops the search.
func (l *Locator) Locate(ctx context.Context, ref Reference) (*payment.Payment, string, error) {
	for _, s := range l.strategies {
		p, err := s.Find(ctx, ref)
		if err != nil {
			return nil, s.Name(), err
		}
		if p != nil {
			return p, s.Name(), nil
		}
	}
	return nil, "", nil
}
