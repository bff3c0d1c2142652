package webhook

import "time"

// Event is the audit row for one inbound gateway webhook delivery. EventID is
// the gateway's delivery id; deliveries without one are keyed by body digest.
type Event struct {
	ID              int64      `gorm:"primaryKey" db:"id"`
	Provider        string     `gorm:"column:provider;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" db:"provider"`
	EventID         string     `gorm:"column:event_id;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" db:"event_id"`
	EventType       string     `gorm:"column:event_type;not null" db:"event_type"`
	Payload         string     `gorm:"column:payload;type:text;not null" db:"payload"`
	SignatureValid  bool       `gorm:"column:signature_valid;not null;default:false" db:"signature_valid"`
	Outcome         string     `gorm:"column:outcome" db:"outcome"`
	ProcessingError string     `gorm:"column:processing_error" db:"processing_error"`
	ProcessedAt     *time.Time `gorm:"column:processed_at" db:"processed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at" db:"created_at"`
}

func (Event) TableName() string {
	return "webhook_events"
}
