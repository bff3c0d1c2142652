package payment

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/go-chi/chi"
)

type OrderServiceAPI interface {
	CreateOrder(ctx context.Context, userID int64, req CreateOrderRequest) (*CreateOrderResponse, error)
}

type ReconcilerAPI interface {
	ClientVerify(ctx context.Context, cmd VerifyCommand) (Outcome, error)
	ReportFailure(ctx context.Context, cmd OrderCommand) (Outcome, error)
	Cancel(ctx context.Context, cmd OrderCommand) (Outcome, error)
	History(ctx context.Context, userID, vcardID int64) (*History, error)
	HandleWebhook(ctx context.Context, ev WebhookEvent) (Outcome, error)
}

type Handler struct {
	*transport.BaseHandler
	Orders     OrderServiceAPI
	Reconciler ReconcilerAPI
}

func NewHandler(base *transport.BaseHandler, orders OrderServiceAPI, reconciler ReconcilerAPI) *Handler {
	return &Handler{
		BaseHandler: base,
		Orders:      orders,
		Reconciler:  reconciler,
	}
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID := apperrors.UserIDFromContext(r.Context())
	if userID == 0 {
		h.HandleError(w, apperrors.NewUnauthorizedError("authentication required", apperrors.ErrCodeInvalidToken))
		return 0, false
	}
	return userID, true
}

// CreateOrder handles POST /api/v1/payments/create-order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if appErr := h.DecodeJSON(w, r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	resp, err := h.Orders.CreateOrder(r.Context(), userID, req)
	if err != nil {
		h.Logger.Warn("CreateOrder: service error", "error", err, "vcard_id", req.VCardID, "user_id", userID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*CreateOrderResponse
	}{true, resp})
}

// Verify handles POST /api/v1/payments/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req VerifyRequest
	if appErr := h.DecodeJSON(w, r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	_, err := h.Reconciler.ClientVerify(r.Context(), VerifyCommand{
		UserID:    userID,
		VCardID:   req.VCardID,
		OrderID:   req.RazorpayOrderID,
		PaymentID: req.RazorpayPaymentID,
		Signature: req.RazorpaySignature,
	})
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, VerifyResponse{
		Success: true,
		Message: "Payment verified successfully",
		VCardID: req.VCardID,
	})
}

// PaymentFailed handles POST /api/v1/payments/failed
func (h *Handler) PaymentFailed(w http.ResponseWriter, r *http.Request) {
	h.closeOrder(w, r, h.Reconciler.ReportFailure, "Payment failure recorded")
}

// CancelOrder handles POST /api/v1/payments/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.closeOrder(w, r, h.Reconciler.Cancel, "Payment cancelled")
}

func (h *Handler) closeOrder(w http.ResponseWriter, r *http.Request, op func(context.Context, OrderCommand) (Outcome, error), message string) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req OrderActionRequest
	if appErr := h.DecodeJSON(w, r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if _, err := op(r.Context(), OrderCommand{UserID: userID, VCardID: req.VCardID, OrderID: req.RazorpayOrderID}); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: message})
}

// History handles GET /api/v1/payments/history/{vcardId}
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	vcardID, err := strconv.ParseInt(chi.URLParam(r, "vcardId"), 10, 64)
	if err != nil || vcardID <= 0 {
		h.HandleError(w, apperrors.NewValidationError("invalid vcard id", apperrors.ErrCodeInvalidCard))
		return
	}

	history, err := h.Reconciler.History(r.Context(), userID, vcardID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, HistoryResponse{Success: true, History: *history})
}
