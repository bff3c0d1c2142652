package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var _ paymentpkg.RepositoryAPI = (*PaymentRepository)(nil)

// PaymentRepository expects a *gorm.DB opened with TranslateError so unique
// violations surface as gorm.ErrDuplicatedKey.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts the record and, for a pending one, points its card at the
// order in the same transaction. A cancelled card is reopened; a paid card
// keeps its settled order.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if p.Status != payment.StatusPending {
			return nil
		}
		return tx.Model(&vcard.VCard{}).
			Where("id = ? AND payment_status <> ?", p.VCardID, vcard.PaymentStatusPaid).
			Updates(map[string]interface{}{
				"razorpay_order_id": p.RazorpayOrderID,
				"amount":            p.Amount,
				"payment_status":    vcard.PaymentStatusPending,
				"updated_at":        time.Now().UTC(),
			}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.ErrDuplicateOrder.WithCause(err)
	}
	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*payment.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*payment.Payment, error) {
	return r.first(ctx, "razorpay_order_id = ?", orderID)
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error) {
	return r.first(ctx, "razorpay_payment_id = ?", paymentID)
}

// FindByMetadata returns the newest record whose metadata text contains
// needle.
func (r *PaymentRepository) FindByMetadata(ctx context.Context, needle string) (*payment.Payment, error) {
	if needle == "" {
		return nil, apperrors.ErrPaymentNotFound
	}
	var p payment.Payment
	err := r.db.WithContext(ctx).
		Where(`CAST(metadata AS TEXT) LIKE ? ESCAPE '\'`, "%"+escapeLike(needle)+"%").
		Order("id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByCard(ctx context.Context, vcardID int64) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("vcard_id = ?", vcardID).
		Order("created_at DESC, id DESC").
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) first(ctx context.Context, query string, arg interface{}) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where(query, arg).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) Transition(ctx context.Context, t paymentpkg.Transition) (bool, error) {
	if !t.To.IsTerminal() {
		return false, fmt.Errorf("transition target %q is not terminal", t.To)
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     t.To,
			"updated_at": at,
		}
		if t.PaymentID != "" {
			updates["razorpay_payment_id"] = gorm.Expr("COALESCE(razorpay_payment_id, ?)", t.PaymentID)
		}
		if len(t.Details) > 0 {
			updates["gateway_details"] = t.Details
		}

		res := tx.Model(&payment.Payment{}).
			Where("id = ? AND status = ?", t.RecordID, payment.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if len(t.Metadata) > 0 {
			if err := mergeMetadata(tx, t.RecordID, t.Metadata); err != nil {
				return err
			}
		}
		return propagate(tx, t, at)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *PaymentRepository) CreatePaid(ctx context.Context, p *payment.Payment, paidAt time.Time) error {
	if p.Status != payment.StatusPaid {
		return fmt.Errorf("record status %q is not paid", p.Status)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return propagate(tx, paymentpkg.Transition{
			RecordID:  p.ID,
			VCardID:   p.VCardID,
			OrderID:   p.RazorpayOrderID,
			To:        payment.StatusPaid,
			PaymentID: p.PaymentID(),
		}, paidAt)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.ErrDuplicateOrder.WithCause(err)
	}
	return err
}

func (r *PaymentRepository) SaveDetails(ctx context.Context, id int64, details datatypes.JSON) error {
	res := r.db.WithContext(ctx).
		Model(&payment.Payment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"gateway_details": details, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrPaymentNotFound
	}
	return nil
}

// propagate mirrors a won transition onto the card. paid_at is only written
// while the card is not yet paid, so it is set once. Failures leave the
// card alone.
func propagate(tx *gorm.DB, t paymentpkg.Transition, at time.Time) error {
	switch t.To {
	case payment.StatusPaid:
		updates := map[string]interface{}{
			"payment_status": vcard.PaymentStatusPaid,
			"paid_at":        at,
			"updated_at":     at,
		}
		if t.PaymentID != "" {
			updates["razorpay_payment_id"] = t.PaymentID
		}
		if t.OrderID != "" {
			updates["razorpay_order_id"] = t.OrderID
		}
		return tx.Model(&vcard.VCard{}).
			Where("id = ? AND payment_status <> ?", t.VCardID, vcard.PaymentStatusPaid).
			Updates(updates).Error
	case payment.StatusCancelled:
		return tx.Model(&vcard.VCard{}).
			Where("id = ? AND payment_status = ? AND razorpay_order_id = ?", t.VCardID, vcard.PaymentStatusPending, t.OrderID).
			Updates(map[string]interface{}{
				"payment_status": vcard.PaymentStatusCancelled,
				"updated_at":     at,
			}).Error
	}
	return nil
}

func mergeMetadata(tx *gorm.DB, id int64, extra map[string]interface{}) error {
	var current payment.Payment
	if err := tx.Select("id", "metadata").Where("id = ?", id).First(&current).Error; err != nil {
		return err
	}

	merged := map[string]interface{}{}
	if len(current.Metadata) > 0 {
		if err := json.Unmarshal(current.Metadata, &merged); err != nil {
			// Keep unparseable history under its own key instead of dropping it.
			merged = map[string]interface{}{"previous": string(current.Metadata)}
		}
	}
	for k, v := range extra {
		merged[k] = v
	}

	b, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return tx.Model(&payment.Payment{}).Where("id = ?", id).Update("metadata", datatypes.JSON(b)).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
