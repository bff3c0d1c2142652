package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"github.com/frahmantamala/tagfinder/internal/paymentgateway"
)

type OrderConfig struct {
	KeyID    string
	Currency string
}

// OrderService creates gateway orders and their pending payment records.
type OrderService struct {
	repo    RepositoryAPI
	cards   CardServiceAPI
	gateway paymentgateway.Gateway
	cfg     OrderConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewOrderService(repo RepositoryAPI, cards CardServiceAPI, gateway paymentgateway.Gateway, cfg OrderConfig, logger *slog.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &OrderService{
		repo:    repo,
		cards:   cards,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *OrderService) CreateOrder(ctx context.Context, userID int64, req CreateOrderRequest) (*CreateOrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	card, err := s.cards.GetOwned(ctx, userID, req.VCardID)
	if err != nil {
		return nil, err
	}
	if card.PaymentStatus == vcard.PaymentStatusPaid {
		return nil, apperrors.ErrCardAlreadyPaid
	}

	orderReq := paymentgateway.OrderRequest{
		Amount:      req.Amount,
		Currency:    s.cfg.Currency,
		Receipt:     fmt.Sprintf("vcard_%d_%d", card.ID, s.now().Unix()),
		Description: "Payment for Virtual Card - " + card.Name,
		Notes: map[string]string{
			"vcard_id": strconv.FormatInt(card.ID, 10),
			"user_id":  strconv.FormatInt(userID, 10),
		},
	}

	order, err := s.gateway.CreateOrder(ctx, orderReq)
	if err != nil {
		s.logger.Error("gateway order creation failed", "vcard_id", card.ID, "user_id", userID, "error", err)
		return nil, gatewayAppError(err)
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"order_request": map[string]interface{}{
			"amount":   paymentgateway.MinorUnits(orderReq.Amount),
			"currency": orderReq.Currency,
			"receipt":  orderReq.Receipt,
			"notes":    orderReq.Notes,
		},
		"order_response": order.Raw,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode order snapshot", err)
	}

	record := &payment.Payment{
		UserID:          userID,
		VCardID:         card.ID,
		RazorpayOrderID: order.ID,
		Amount:          req.Amount,
		Currency:        s.cfg.Currency,
		Status:          payment.StatusPending,
		Origin:          payment.OriginOrder,
		Description:     "Virtual Card Payment",
		Metadata:        metadata,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		s.logger.Error("failed to persist payment record", "order_id", order.ID, "vcard_id", card.ID, "error", err)
		if errors.Is(err, apperrors.ErrDuplicateOrder) {
			return nil, err
		}
		return nil, apperrors.NewInternalError("failed to create payment record", err)
	}

	s.logger.Info("payment order created",
		"order_id", order.ID,
		"payment_record_id", record.ID,
		"vcard_id", card.ID,
		"user_id", userID,
		"amount", req.Amount.String())

	return &CreateOrderResponse{
		OrderID:   order.ID,
		Amount:    req.Amount,
		Currency:  s.cfg.Currency,
		KeyID:     s.cfg.KeyID,
		PaymentID: record.ID,
	}, nil
}

func gatewayAppError(err error) *apperrors.AppError {
	if errors.Is(err, paymentgateway.ErrRejected) {
		return apperrors.ErrGatewayRejected.WithCause(err)
	}
	return apperrors.ErrGatewayUnavailable.WithCause(err)
}
