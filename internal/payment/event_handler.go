package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/tagfinder/internal/core/events"
)

type jobQueue interface {
	Enqueue(job EnrichmentJob) bool
}

type EventHandler struct {
	processor jobQueue
	logger    *slog.Logger
}

func NewEventHandler(processor jobQueue, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		processor: processor,
		logger:    logger,
	}
}

// HandlePaymentCaptured queues a detail fetch for webhook captures. The
// client-verify path fetches details inline.
func (h *EventHandler) HandlePaymentCaptured(ctx context.Context, event events.Event) error {
	captured, ok := event.(*events.PaymentCapturedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment captured handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCapturedEvent, got %T", event)
	}
	if captured.Source != events.SourceWebhook || captured.GatewayPaymentID == "" {
		return nil
	}

	queued := h.processor.Enqueue(EnrichmentJob{
		RecordID:  captured.PaymentRecordID,
		PaymentID: captured.GatewayPaymentID,
	})
	h.logger.Debug("payment detail fetch requested",
		"payment_id", captured.GatewayPaymentID,
		"queued", queued,
		"event_id", captured.EventID())
	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}
	h.logger.Info("payment failed",
		"order_id", failed.GatewayOrderID,
		"vcard_id", failed.VCardID,
		"source", failed.Source,
		"event_id", failed.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCaptured, h.HandlePaymentCaptured)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypePaymentCaptured, events.EventTypePaymentFailed})
}
