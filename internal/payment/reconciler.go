package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/events"
	"github.com/frahmantamala/tagfinder/internal/paymentgateway"
	"github.com/frahmantamala/tagfinder/internal/signature"
	"github.com/frahmantamala/tagfinder/pkg/logger"
	"gorm.io/datatypes"
)

// Outcome is how an inbound event was absorbed.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeDropped Outcome = "dropped"
	OutcomeIgnored Outcome = "ignored"
)

type ReconcilerConfig struct {
	KeySecret      string
	Currency       string
	FetchTimeout   time.Duration
	AllowSynthesis bool
}

// Reconciler applies client confirmations, webhook deliveries and failure
// reports to payment records. Every state change goes through the store's
// compare-and-set Transition, so concurrent channels for one order converge.
type Reconciler struct {
	repo    RepositoryAPI
	cards   CardServiceAPI
	gateway paymentgateway.Gateway
	locator *Locator
	bus     *events.EventBus
	cfg     ReconcilerConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(repo RepositoryAPI, cards CardServiceAPI, gateway paymentgateway.Gateway, bus *events.EventBus, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Reconciler{
		repo:    repo,
		cards:   cards,
		gateway: gateway,
		locator: DefaultLocator(repo),
		bus:     bus,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type VerifyCommand struct {
	UserID    int64
	VCardID   int64
	OrderID   string
	PaymentID string
	Signature string
}

// ClientVerify settles an order from the checkout callback.
func (r *Reconciler) ClientVerify(ctx context.Context, cmd VerifyCommand) (Outcome, error) {
	log := r.log(ctx).With("event", "client_verify", "order_id", cmd.OrderID, "payment_id", cmd.PaymentID, "vcard_id", cmd.VCardID)

	if !signature.VerifyPayment(cmd.OrderID, cmd.PaymentID, cmd.Signature, r.cfg.KeySecret) {
		log.Warn("payment signature verification failed", "outcome", "rejected")
		return "", apperrors.ErrSignatureInvalid
	}

	card, err := r.cards.GetOwned(ctx, cmd.UserID, cmd.VCardID)
	if err != nil {
		return "", err
	}

	record, err := r.repo.GetByOrderID(ctx, cmd.OrderID)
	if err != nil {
		return "", err
	}
	if record.VCardID != card.ID {
		log.Warn("order belongs to another vcard", "record_vcard_id", record.VCardID)
		return "", apperrors.ErrOrderMismatch
	}
	if record.Status.IsTerminal() {
		log.Info("payment already settled", "status", record.Status, "outcome", OutcomeNoop)
		return OutcomeNoop, nil
	}

	t := Transition{
		RecordID:  record.ID,
		VCardID:   record.VCardID,
		OrderID:   record.RazorpayOrderID,
		To:        payment.StatusPaid,
		PaymentID: cmd.PaymentID,
		Metadata: map[string]interface{}{
			"client_verification": map[string]interface{}{
				"payment_id":  cmd.PaymentID,
				"verified_at": r.now(),
			},
		},
		Details: r.fetchDetails(ctx, cmd.PaymentID, log),
		At:      r.now(),
	}
	return r.apply(ctx, t, events.SourceClientVerify, log)
}

// fetchDetails is best effort; verification does not depend on it.
func (r *Reconciler) fetchDetails(ctx context.Context, paymentID string, log *slog.Logger) datatypes.JSON {
	if r.gateway == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	details, err := r.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		log.Warn("payment detail fetch failed", "error", err)
		return nil
	}
	raw, err := json.Marshal(details.Raw)
	if err != nil {
		log.Warn("payment detail encode failed", "error", err)
		return nil
	}
	return raw
}

// HandleWebhook reconciles a verified delivery. A returned error means the
// store could not be read or written and the delivery should be retried.
func (r *Reconciler) HandleWebhook(ctx context.Context, ev WebhookEvent) (Outcome, error) {
	switch e := ev.(type) {
	case CapturedEvent:
		return r.webhookCaptured(ctx, e)
	case FailedEvent:
		return r.webhookFailed(ctx, e)
	default:
		r.log(ctx).Info("ignoring webhook event", "event", ev.EventName(), "outcome", OutcomeIgnored)
		return OutcomeIgnored, nil
	}
}

func (r *Reconciler) webhookCaptured(ctx context.Context, e CapturedEvent) (Outcome, error) {
	log := r.webhookLog(ctx, e.Name, e.WebhookEntity)

	record, strategy, err := r.locator.Locate(ctx, e.Reference())
	if err != nil {
		log.Error("payment lookup failed", "strategy", strategy, "error", err)
		return "", err
	}
	if record == nil {
		return r.synthesize(ctx, e, log)
	}
	return r.settleCaptured(ctx, e, record, strategy, log)
}

func (r *Reconciler) settleCaptured(ctx context.Context, e CapturedEvent, record *payment.Payment, strategy string, log *slog.Logger) (Outcome, error) {
	log = log.With("payment_record_id", record.ID, "located_by", strategy)
	if record.Status.IsTerminal() {
		log.Info("payment already settled", "status", record.Status, "outcome", OutcomeNoop)
		return OutcomeNoop, nil
	}
	if e.Amount > 0 && !paymentgateway.MajorUnits(e.Amount).Equal(record.Amount) {
		log.Warn("captured amount differs from order amount",
			"captured", paymentgateway.MajorUnits(e.Amount).String(),
			"expected", record.Amount.String())
	}

	t := Transition{
		RecordID:  record.ID,
		VCardID:   record.VCardID,
		OrderID:   record.RazorpayOrderID,
		To:        payment.StatusPaid,
		PaymentID: e.PaymentID,
		Metadata:  map[string]interface{}{"webhook": webhookSnapshot(e.Name, e.WebhookEntity, strategy)},
		At:        r.now(),
	}
	return r.apply(ctx, t, events.SourceWebhook, log)
}

// synthesize creates a paid record for a capture with no prior order, as
// payment links do. The card named in the notes must exist and, when the
// notes carry a user, belong to that user.
func (r *Reconciler) synthesize(ctx context.Context, e CapturedEvent, log *slog.Logger) (Outcome, error) {
	if !r.cfg.AllowSynthesis {
		log.Warn("no payment record for capture", "outcome", OutcomeDropped)
		return OutcomeDropped, nil
	}
	if e.Notes.VCardID == 0 || e.OrderID == "" {
		log.Warn("capture cannot be linked to a vcard", "notes_vcard_id", e.Notes.VCardID, "outcome", OutcomeDropped)
		return OutcomeDropped, nil
	}

	card, err := r.cards.Get(ctx, e.Notes.VCardID)
	if errors.Is(err, apperrors.ErrCardNotFound) {
		log.Warn("capture references unknown vcard", "notes_vcard_id", e.Notes.VCardID, "outcome", OutcomeDropped)
		return OutcomeDropped, nil
	}
	if err != nil {
		return "", err
	}
	if e.Notes.UserID != 0 && e.Notes.UserID != card.UserID {
		log.Warn("capture notes user does not own vcard",
			"notes_user_id", e.Notes.UserID,
			"owner_user_id", card.UserID,
			"outcome", OutcomeDropped)
		return OutcomeDropped, nil
	}

	currency := e.Currency
	if currency == "" {
		currency = r.cfg.Currency
	}
	metadata, err := json.Marshal(map[string]interface{}{
		"synthesized":     true,
		"payment_link_id": e.LinkID,
		"webhook":         webhookSnapshot(e.Name, e.WebhookEntity, "notes"),
	})
	if err != nil {
		return "", err
	}

	record := &payment.Payment{
		UserID:          card.UserID,
		VCardID:         card.ID,
		RazorpayOrderID: e.OrderID,
		Amount:          paymentgateway.MajorUnits(e.Amount),
		Currency:        currency,
		Status:          payment.StatusPaid,
		Origin:          payment.OriginWebhook,
		Description:     "Virtual Card Payment",
		Metadata:        metadata,
	}
	if e.PaymentID != "" {
		pid := e.PaymentID
		record.RazorpayPaymentID = &pid
	}

	err = r.repo.CreatePaid(ctx, record, r.now())
	if errors.Is(err, apperrors.ErrDuplicateOrder) {
		// A concurrent delivery created it first; settle against that row.
		existing, lookupErr := r.repo.GetByOrderID(ctx, e.OrderID)
		if lookupErr != nil {
			return "", lookupErr
		}
		return r.settleCaptured(ctx, e, existing, ByOrderID{}.Name(), log)
	}
	if err != nil {
		log.Error("failed to synthesize payment record", "error", err)
		return "", err
	}

	log.Info("payment record synthesized from webhook",
		"payment_record_id", record.ID,
		"amount", record.Amount.String(),
		"outcome", OutcomeApplied)
	r.publish(ctx, events.NewPaymentCapturedEvent(record.ID, record.VCardID, record.RazorpayOrderID, e.PaymentID, events.SourceWebhook, true))
	return OutcomeApplied, nil
}

func (r *Reconciler) webhookFailed(ctx context.Context, e FailedEvent) (Outcome, error) {
	log := r.webhookLog(ctx, e.Name, e.WebhookEntity)

	record, strategy, err := r.locator.Locate(ctx, e.Reference())
	if err != nil {
		log.Error("payment lookup failed", "strategy", strategy, "error", err)
		return "", err
	}
	if record == nil {
		log.Warn("no payment record for failure", "outcome", OutcomeDropped)
		return OutcomeDropped, nil
	}

	log = log.With("payment_record_id", record.ID, "located_by", strategy)
	if record.Status.IsTerminal() {
		log.Info("payment already settled", "status", record.Status, "outcome", OutcomeNoop)
		return OutcomeNoop, nil
	}

	snapshot := webhookSnapshot(e.Name, e.WebhookEntity, strategy)
	if e.ErrorCode != "" {
		snapshot["error_code"] = e.ErrorCode
		snapshot["error_description"] = e.ErrorDescription
	}
	t := Transition{
		RecordID:  record.ID,
		VCardID:   record.VCardID,
		OrderID:   record.RazorpayOrderID,
		To:        payment.StatusFailed,
		PaymentID: e.PaymentID,
		Metadata:  map[string]interface{}{"webhook": snapshot},
		At:        r.now(),
	}
	return r.apply(ctx, t, events.SourceWebhook, log)
}

type OrderCommand struct {
	UserID  int64
	VCardID int64
	OrderID string
}

// ReportFailure records a failure the checkout reported for the caller's own
// order.
func (r *Reconciler) ReportFailure(ctx context.Context, cmd OrderCommand) (Outcome, error) {
	return r.closeOwned(ctx, cmd, payment.StatusFailed, events.SourceClientFailure)
}

// Cancel abandons the caller's pending order.
func (r *Reconciler) Cancel(ctx context.Context, cmd OrderCommand) (Outcome, error) {
	return r.closeOwned(ctx, cmd, payment.StatusCancelled, events.SourceClientFailure)
}

func (r *Reconciler) closeOwned(ctx context.Context, cmd OrderCommand, to payment.Status, source events.Source) (Outcome, error) {
	log := r.log(ctx).With("event", "client_"+string(to), "order_id", cmd.OrderID, "vcard_id", cmd.VCardID)

	card, err := r.cards.GetOwned(ctx, cmd.UserID, cmd.VCardID)
	if err != nil {
		return "", err
	}
	record, err := r.repo.GetByOrderID(ctx, cmd.OrderID)
	if err != nil {
		return "", err
	}
	if record.VCardID != card.ID {
		return "", apperrors.ErrOrderMismatch
	}
	if record.Status.IsTerminal() {
		log.Info("payment already settled", "status", record.Status, "outcome", OutcomeNoop)
		return OutcomeNoop, nil
	}

	t := Transition{
		RecordID: record.ID,
		VCardID:  record.VCardID,
		OrderID:  record.RazorpayOrderID,
		To:       to,
		Metadata: map[string]interface{}{
			"client_report": map[string]interface{}{"status": to, "reported_at": r.now()},
		},
		At: r.now(),
	}
	return r.apply(ctx, t, source, log)
}

func (r *Reconciler) History(ctx context.Context, userID, vcardID int64) (*History, error) {
	card, err := r.cards.GetOwned(ctx, userID, vcardID)
	if err != nil {
		return nil, err
	}
	records, err := r.repo.ListByCard(ctx, card.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to load payment history", err)
	}

	views := make([]PaymentView, 0, len(records))
	for _, p := range records {
		views = append(views, ToView(p))
	}
	return &History{VCardID: card.ID, Payments: views, CurrentStatus: card.PaymentStatus}, nil
}

// apply runs the compare-and-set. Losing the race to another channel is a
// no-op, not an error.
func (r *Reconciler) apply(ctx context.Context, t Transition, source events.Source, log *slog.Logger) (Outcome, error) {
	applied, err := r.repo.Transition(ctx, t)
	if err != nil {
		log.Error("payment transition failed", "to", t.To, "error", err)
		return "", apperrors.NewInternalError("failed to update payment", err)
	}
	if !applied {
		log.Info("payment settled concurrently", "to", t.To, "outcome", OutcomeNoop)
		return OutcomeNoop, nil
	}

	log.Info("payment transitioned", "to", t.To, "outcome", OutcomeApplied)
	switch t.To {
	case payment.StatusPaid:
		r.publish(ctx, events.NewPaymentCapturedEvent(t.RecordID, t.VCardID, t.OrderID, t.PaymentID, source, false))
	case payment.StatusFailed:
		r.publish(ctx, events.NewPaymentFailedEvent(t.RecordID, t.VCardID, t.OrderID, source))
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.bus != nil {
		r.bus.Publish(ctx, event)
	}
}

func (r *Reconciler) log(ctx context.Context) *slog.Logger {
	if l, ok := logger.Lookup(ctx); ok {
		return l
	}
	return r.logger
}

func (r *Reconciler) webhookLog(ctx context.Context, name string, e WebhookEntity) *slog.Logger {
	return r.log(ctx).With("event", name, "order_id", e.OrderID, "payment_id", e.PaymentID, "vcard_id", e.Notes.VCardID)
}

func webhookSnapshot(name string, e WebhookEntity, locatedBy string) map[string]interface{} {
	return map[string]interface{}{
		"event":           name,
		"payment_id":      e.PaymentID,
		"order_id":        e.OrderID,
		"payment_link_id": e.LinkID,
		"status":          e.Status,
		"amount":          paymentgateway.MajorUnits(e.Amount).String(),
		"currency":        e.Currency,
		"method":          e.Method,
		"located_by":      locatedBy,
	}
}
