package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/tagfinder/internal/core/datamodel/webhook"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/jmoiron/sqlx"
)

var _ paymentpkg.WebhookLogAPI = (*WebhookEventLog)(nil)

// WebhookEventLog stores one row per (provider, event id). Re-deliveries
// keep the first row.
type WebhookEventLog struct {
	db *sqlx.DB
}

func NewWebhookEventLog(db *sqlx.DB) *WebhookEventLog {
	return &WebhookEventLog{db: db}
}

func (l *WebhookEventLog) Record(ctx context.Context, e *webhook.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := l.db.Rebind(`
		INSERT INTO webhook_events
			(provider, event_id, event_type, payload, signature_valid, outcome, processing_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`)
	_, err := l.db.ExecContext(ctx, query,
		e.Provider, e.EventID, e.EventType, e.Payload, e.SignatureValid, e.Outcome, e.ProcessingError, e.CreatedAt)
	return err
}

// IsProcessed reports whether a verified delivery was already reconciled.
func (l *WebhookEventLog) IsProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	var n int
	query := l.db.Rebind(`
		SELECT COUNT(1) FROM webhook_events
		WHERE provider = ? AND event_id = ? AND signature_valid = ? AND processed_at IS NOT NULL`)
	if err := l.db.GetContext(ctx, &n, query, provider, eventID, true); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed stores the outcome. A non-nil procErr is recorded without
// setting processed_at so the retried delivery is reconciled again.
func (l *WebhookEventLog) MarkProcessed(ctx context.Context, provider, eventID, outcome string, procErr error) error {
	var processedAt *time.Time
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	} else {
		now := time.Now().UTC()
		processedAt = &now
	}
	query := l.db.Rebind(`
		UPDATE webhook_events
		SET outcome = ?, processing_error = ?, processed_at = ?
		WHERE provider = ? AND event_id = ?`)
	_, err := l.db.ExecContext(ctx, query, outcome, msg, processedAt, provider, eventID)
	return err
}
