package payment

import (
	"context"
	"time"

	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/webhook"
	"gorm.io/datatypes"
)

// RepositoryAPI is the payment record store. Lookups return
// errors.ErrPaymentNotFound on a miss and Create returns
// errors.ErrDuplicateOrder when the gateway order id is taken.
type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByID(ctx context.Context, id int64) (*payment.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error)
	FindByMetadata(ctx context.Context, needle string) (*payment.Payment, error)
	ListByCard(ctx context.Context, vcardID int64) ([]*payment.Payment, error)

	// Transition moves a pending record to a terminal status and mirrors
	// the change onto its card in the same transaction. It reports false
	// when the record was no longer pending.
	Transition(ctx context.Context, t Transition) (bool, error)

	// CreatePaid inserts an already-paid record and marks its card paid
	// atomically.
	CreatePaid(ctx context.Context, p *payment.Payment, paidAt time.Time) error

	SaveDetails(ctx context.Context, id int64, details datatypes.JSON) error
}

type Transition struct {
	RecordID  int64
	VCardID   int64
	OrderID   string
	To        payment.Status
	PaymentID string
	// Metadata keys are merged into the record's existing metadata.
	Metadata map[string]interface{}
	Details  datatypes.JSON
	At       time.Time
}

// CardServiceAPI is what the payment flows need from cards.
type CardServiceAPI interface {
	GetOwned(ctx context.Context, userID, vcardID int64) (*vcard.VCard, error)
	Get(ctx context.Context, vcardID int64) (*vcard.VCard, error)
}

// WebhookLogAPI keeps one audit row per gateway delivery.
type WebhookLogAPI interface {
	Record(ctx context.Context, e *webhook.Event) error
	IsProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID, outcome string, procErr error) error
}

const ProviderRazorpay = "razorpay"
