package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/frahmantamala/tagfinder/internal/core/datamodel/webhook"
	"github.com/frahmantamala/tagfinder/internal/signature"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

const (
	SignatureHeader = "X-Razorpay-Signature"
	EventIDHeader   = "X-Razorpay-Event-Id"

	maxWebhookBody = 1 << 20
)

type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

// WebhookHandler answers gateway deliveries. 2xx tells the gateway to stop
// retrying, so only store failures answer 5xx.
type WebhookHandler struct {
	*transport.BaseHandler
	reconciler ReconcilerAPI
	log        WebhookLogAPI
	cfg        WebhookConfig
}

func NewWebhookHandler(base *transport.BaseHandler, reconciler ReconcilerAPI, log WebhookLogAPI, cfg WebhookConfig) *WebhookHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 800 * time.Millisecond
	}
	return &WebhookHandler{
		BaseHandler: base,
		reconciler:  reconciler,
		log:         log,
		cfg:         cfg,
	}
}

type WebhookResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

// HandleWebhook handles POST /api/v1/payments/webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.Logger.Warn("webhook body unreadable", "error", err)
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Status: "invalid_body"})
		return
	}

	digest := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(digest[:])
	eventID := r.Header.Get(EventIDHeader)
	if eventID == "" {
		eventID = "sha256:" + bodyHash
	}
	base := h.Logger
	if l, ok := logger.Lookup(r.Context()); ok {
		base = l
	}
	log := base.With("webhook_event_id", eventID)
	ctx := logger.NewContext(r.Context(), log)

	if !signature.VerifyWebhook(body, r.Header.Get(SignatureHeader), h.cfg.Secret) {
		log.Warn("webhook signature invalid", "outcome", "rejected")
		h.audit(ctx, &webhook.Event{
			Provider:        ProviderRazorpay,
			EventID:         "unverified:" + bodyHash,
			EventType:       "unknown",
			Payload:         string(body),
			SignatureValid:  false,
			Outcome:         "rejected",
			ProcessingError: "invalid signature",
		})
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Status: "invalid_signature"})
		return
	}

	if processed, err := h.log.IsProcessed(ctx, ProviderRazorpay, eventID); err != nil {
		log.Warn("webhook dedupe lookup failed", "error", err)
	} else if processed {
		log.Info("duplicate webhook delivery", "outcome", OutcomeNoop)
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Outcome: "duplicate"})
		return
	}

	ev, err := ParseWebhook(body)
	if err != nil {
		log.Warn("webhook payload malformed", "error", err)
		h.audit(ctx, &webhook.Event{
			Provider:        ProviderRazorpay,
			EventID:         eventID,
			EventType:       "unknown",
			Payload:         string(body),
			SignatureValid:  true,
			Outcome:         "malformed",
			ProcessingError: err.Error(),
		})
		h.WriteJSON(w, http.StatusBadRequest, WebhookResponse{Status: "invalid_body"})
		return
	}

	h.audit(ctx, &webhook.Event{
		Provider:       ProviderRazorpay,
		EventID:        eventID,
		EventType:      ev.EventName(),
		Payload:        string(body),
		SignatureValid: true,
	})

	rctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	outcome, err := h.reconciler.HandleWebhook(rctx, ev)
	if err != nil {
		log.Error("webhook reconciliation failed", "event", ev.EventName(), "error", err)
		h.markProcessed(ctx, eventID, "error", err)
		h.WriteJSON(w, http.StatusInternalServerError, WebhookResponse{Status: "retry"})
		return
	}

	h.markProcessed(ctx, eventID, string(outcome), nil)
	h.WriteJSON(w, http.StatusOK, WebhookResponse{Status: "ok", Outcome: string(outcome)})
}

// audit failures never change the response; the reconciliation write is
// what matters.
func (h *WebhookHandler) audit(ctx context.Context, e *webhook.Event) {
	if err := h.log.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.From(ctx).Warn("failed to record webhook event", "error", err)
	}
}

func (h *WebhookHandler) markProcessed(ctx context.Context, eventID, outcome string, procErr error) {
	err := h.log.MarkProcessed(context.WithoutCancel(ctx), ProviderRazorpay, eventID, outcome, procErr)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.From(ctx).Warn("failed to mark webhook event", "error", err)
	}
}
