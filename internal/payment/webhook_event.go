package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrMalformedWebhook = errors.New("malformed webhook payload")

// WebhookEvent is one of CapturedEvent, FailedEvent or UnrecognizedEvent.
type WebhookEvent interface {
	EventName() string
	webhookEvent()
}

// WebhookEntity is the flattened view of the payment, order and payment-link
// entities in a delivery. Amount is in minor units.
type WebhookEntity struct {
	PaymentID string
	OrderID   string
	LinkID    string
	Status    string
	Amount    int64
	Currency  string
	Method    string
	Notes     Notes
}

func (e WebhookEntity) Reference() Reference {
	return Reference{OrderID: e.OrderID, PaymentID: e.PaymentID, LinkID: e.LinkID}
}

type Notes struct {
	VCardID int64
	UserID  int64
}

type CapturedEvent struct {
	Name string
	WebhookEntity
}

type FailedEvent struct {
	Name string
	WebhookEntity
	ErrorCode        string
	ErrorDescription string
}

type UnrecognizedEvent struct {
	Name string
}

func (e CapturedEvent) EventName() string     { return e.Name }
func (e FailedEvent) EventName() string       { return e.Name }
func (e UnrecognizedEvent) EventName() string { return e.Name }

func (CapturedEvent) webhookEvent()     {}
func (FailedEvent) webhookEvent()       {}
func (UnrecognizedEvent) webhookEvent() {}

type rawEntity struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Status           string          `json:"status"`
	Amount           json.Number     `json:"amount"`
	Currency         string          `json:"currency"`
	Method           string          `json:"method"`
	Notes            json.RawMessage `json:"notes"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
}

type rawWrapper struct {
	Entity *rawEntity `json:"entity"`
}

type rawWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment     *rawWrapper `json:"payment"`
		Order       *rawWrapper `json:"order"`
		PaymentLink *rawWrapper `json:"payment_link"`
	} `json:"payload"`
}

// ParseWebhook decodes a gateway delivery. Event names outside the known set
// yield UnrecognizedEvent rather than an error.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var raw rawWebhook
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if raw.Event == "" {
		return nil, fmt.Errorf("%w: event name missing", ErrMalformedWebhook)
	}

	switch raw.Event {
	case "payment.captured", "order.paid", "payment_link.paid":
		entity, _, err := flatten(raw)
		if err != nil {
			return nil, err
		}
		return CapturedEvent{Name: raw.Event, WebhookEntity: entity}, nil
	case "payment.failed":
		entity, pay, err := flatten(raw)
		if err != nil {
			return nil, err
		}
		ev := FailedEvent{Name: raw.Event, WebhookEntity: entity}
		if pay != nil {
			ev.ErrorCode = pay.ErrorCode
			ev.ErrorDescription = pay.ErrorDescription
		}
		return ev, nil
	default:
		return UnrecognizedEvent{Name: raw.Event}, nil
	}
}

func unwrap(w *rawWrapper) *rawEntity {
	if w == nil {
		return nil
	}
	return w.Entity
}

// flatten merges the entities; the payment entity wins, then the payment
// link, then the order.
func flatten(raw rawWebhook) (WebhookEntity, *rawEntity, error) {
	pay := unwrap(raw.Payload.Payment)
	link := unwrap(raw.Payload.PaymentLink)
	order := unwrap(raw.Payload.Order)

	var out WebhookEntity
	var notes []json.RawMessage
	if pay != nil {
		out.PaymentID = pay.ID
		out.OrderID = pay.OrderID
		out.Status = pay.Status
		out.Currency = pay.Currency
		out.Method = pay.Method
		amount, err := minorAmount(pay.Amount)
		if err != nil {
			return out, nil, err
		}
		out.Amount = amount
		notes = append(notes, pay.Notes)
	}
	if link != nil {
		out.LinkID = link.ID
		if out.OrderID == "" {
			out.OrderID = link.OrderID
		}
		if err := fillFrom(&out, link); err != nil {
			return out, nil, err
		}
		notes = append(notes, link.Notes)
	}
	if order != nil {
		if out.OrderID == "" {
			out.OrderID = order.ID
		}
		if err := fillFrom(&out, order); err != nil {
			return out, nil, err
		}
		notes = append(notes, order.Notes)
	}

	for _, n := range notes {
		parsed := parseNotes(n)
		if out.Notes.VCardID == 0 {
			out.Notes.VCardID = parsed.VCardID
		}
		if out.Notes.UserID == 0 {
			out.Notes.UserID = parsed.UserID
		}
	}
	return out, pay, nil
}

func fillFrom(out *WebhookEntity, e *rawEntity) error {
	if out.Amount == 0 {
		amount, err := minorAmount(e.Amount)
		if err != nil {
			return err
		}
		out.Amount = amount
	}
	if out.Currency == "" {
		out.Currency = e.Currency
	}
	if out.Status == "" {
		out.Status = e.Status
	}
	return nil
}

func minorAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformedWebhook, n.String())
	}
	return v, nil
}

// parseNotes accepts an object with string or numeric values. The gateway
// sends an empty array when no notes were set; anything unreadable is
// treated as empty.
func parseNotes(raw json.RawMessage) Notes {
	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil {
		return Notes{}
	}
	return Notes{
		VCardID: noteID(fields["vcard_id"]),
		UserID:  noteID(fields["user_id"]),
	}
}

func noteID(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return 0
		}
		return id
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		id, err := n.Int64()
		if err != nil || id <= 0 {
			return 0
		}
		return id
	}
	return 0
}
