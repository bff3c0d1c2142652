package payment_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/frahmantamala/tagfinder/internal/paymentgateway"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

var _ = Describe("OrderService", func() {
	var (
		store   *memStore
		gateway *fakeGateway
		svc     *paymentpkg.OrderService
		ctx     context.Context
	)

	BeforeEach(func() {
		store = newMemStore()
		store.addCard(42, 7)
		gateway = &fakeGateway{orderID: "order_abc"}
		svc = paymentpkg.NewOrderService(store, &memCards{store}, gateway, paymentpkg.OrderConfig{
			KeyID:    "rzp_test_key",
			Currency: "INR",
		}, logger.Discard())
		ctx = context.Background()
	})

	request := func(amount string) paymentpkg.CreateOrderRequest {
		return paymentpkg.CreateOrderRequest{VCardID: 42, Amount: decimal.RequireFromString(amount)}
	}

	It("creates a pending record that can be found by order id", func() {
		resp, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.OrderID).To(Equal("order_abc"))
		Expect(resp.KeyID).To(Equal("rzp_test_key"))
		Expect(resp.Currency).To(Equal("INR"))
		Expect(resp.Amount.Equal(decimal.RequireFromString("29"))).To(BeTrue())

		found, err := store.GetByOrderID(ctx, "order_abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.ID).To(Equal(resp.PaymentID))
		Expect(found.Status).To(Equal(payment.StatusPending))
		Expect(found.Origin).To(Equal(payment.OriginOrder))
		Expect(found.Currency).To(Equal("INR"))
		Expect(found.Amount.Equal(decimal.RequireFromString("29.00"))).To(BeTrue())
		Expect(found.UserID).To(Equal(int64(7)))
	})

	It("sends the amount, receipt and notes to the gateway", func() {
		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())

		Expect(gateway.orders).To(HaveLen(1))
		req := gateway.orders[0]
		Expect(paymentgateway.MinorUnits(req.Amount)).To(Equal(int64(2900)))
		Expect(req.Receipt).To(HavePrefix("vcard_42_"))
		Expect(req.Notes).To(HaveKeyWithValue("vcard_id", "42"))
		Expect(req.Notes).To(HaveKeyWithValue("user_id", "7"))
	})

	It("snapshots the order request and response in metadata", func() {
		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())

		var meta map[string]interface{}
		Expect(json.Unmarshal(store.record("order_abc").Metadata, &meta)).To(Succeed())
		Expect(meta).To(HaveKey("order_request"))
		Expect(meta).To(HaveKey("order_response"))
	})

	It("denormalizes the order onto the card", func() {
		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())

		card := store.card(42)
		Expect(card.RazorpayOrderID).NotTo(BeNil())
		Expect(*card.RazorpayOrderID).To(Equal("order_abc"))
		Expect(card.PaymentStatus).To(Equal(vcard.PaymentStatusPending))
	})

	DescribeTable("rejects invalid amounts before calling the gateway",
		func(amount string) {
			_, err := svc.CreateOrder(ctx, 7, request(amount))
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
			Expect(gateway.orders).To(BeEmpty())
			Expect(store.count()).To(BeZero())
		},
		Entry("zero", "0"),
		Entry("negative", "-5.00"),
		Entry("three decimal places", "29.001"),
		Entry("above the column limit", "100000000.00"),
	)

	It("refuses cards owned by someone else", func() {
		_, err := svc.CreateOrder(ctx, 8, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrCardNotOwned)).To(BeTrue())
		Expect(gateway.orders).To(BeEmpty())
	})

	It("refuses to order for a card that is already paid", func() {
		store.mu.Lock()
		store.cards[42].PaymentStatus = vcard.PaymentStatusPaid
		store.mu.Unlock()

		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrCardAlreadyPaid)).To(BeTrue())
		Expect(gateway.orders).To(BeEmpty())
	})

	It("surfaces gateway failures and persists nothing", func() {
		gateway.orderErr = &paymentgateway.Error{Op: "create_order", Err: paymentgateway.ErrTimeout}

		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrGatewayUnavailable)).To(BeTrue())
		Expect(store.count()).To(BeZero())
	})

	It("maps upstream rejections separately", func() {
		gateway.orderErr = &paymentgateway.Error{Op: "create_order", Err: paymentgateway.ErrRejected}

		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrGatewayRejected)).To(BeTrue())
	})

	It("treats an open breaker as unavailable", func() {
		gateway.orderErr = paymentgateway.ErrCircuitOpen

		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrGatewayUnavailable)).To(BeTrue())
	})

	It("reports a reused gateway order id as a conflict", func() {
		_, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(errors.Is(err, apperrors.ErrDuplicateOrder)).To(BeTrue())
		Expect(store.count()).To(Equal(1))
	})

	It("leaves neither record nor card changed when the card write fails", func() {
		store.fail["CardOrder"] = errors.New("card table locked")

		resp, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).To(HaveOccurred())
		Expect(resp).To(BeNil())

		appErr, ok := apperrors.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Type).To(Equal(apperrors.ErrorTypeInternal))
		Expect(store.count()).To(BeZero())
		Expect(store.card(42).RazorpayOrderID).To(BeNil())
	})

	It("lets a cancelled order's card be cancelled", func() {
		resp, err := svc.CreateOrder(ctx, 7, request("29.00"))
		Expect(err).NotTo(HaveOccurred())

		reconciler := paymentpkg.NewReconciler(store, &memCards{store}, gateway, nil, paymentpkg.ReconcilerConfig{KeySecret: keySecret}, logger.Discard())
		_, err = reconciler.Cancel(ctx, paymentpkg.OrderCommand{UserID: 7, VCardID: 42, OrderID: resp.OrderID})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusCancelled))
	})
})
