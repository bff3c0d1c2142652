package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	"github.com/frahmantamala/tagfinder/internal/core/events"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/frahmantamala/tagfinder/internal/signature"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

const keySecret = "test_key_secret"

func clientSig(orderID, paymentID string) string {
	return signature.Sign(signature.PaymentPayload(orderID, paymentID), keySecret)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) captured() []*events.PaymentCapturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.PaymentCapturedEvent
	for _, e := range r.events {
		if c, ok := e.(*events.PaymentCapturedEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *eventRecorder) failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if _, ok := e.(*events.PaymentFailedEvent); ok {
			n++
		}
	}
	return n
}

func captured(orderID, paymentID string, minor int64) paymentpkg.CapturedEvent {
	return paymentpkg.CapturedEvent{
		Name: "payment.captured",
		WebhookEntity: paymentpkg.WebhookEntity{
			PaymentID: paymentID,
			OrderID:   orderID,
			Status:    "captured",
			Amount:    minor,
			Currency:  "INR",
			Method:    "upi",
		},
	}
}

var _ = Describe("Reconciler", func() {
	var (
		store      *memStore
		gateway    *fakeGateway
		bus        *events.EventBus
		recorder   *eventRecorder
		reconciler *paymentpkg.Reconciler
		cfg        paymentpkg.ReconcilerConfig
		ctx        context.Context
	)

	build := func() {
		reconciler = paymentpkg.NewReconciler(store, &memCards{store}, gateway, bus, cfg, logger.Discard())
	}

	drain := func() {
		dctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		Expect(bus.Drain(dctx)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		store.addCard(42, 7)
		gateway = &fakeGateway{}
		bus = events.NewEventBus(logger.Discard())
		recorder = &eventRecorder{}
		bus.Subscribe(events.EventTypePaymentCaptured, recorder.handle)
		bus.Subscribe(events.EventTypePaymentFailed, recorder.handle)
		cfg = paymentpkg.ReconcilerConfig{
			KeySecret:      keySecret,
			Currency:       "INR",
			FetchTimeout:   200 * time.Millisecond,
			AllowSynthesis: true,
		}
		build()
	})

	verify := func(orderID, paymentID string) (paymentpkg.Outcome, error) {
		return reconciler.ClientVerify(ctx, paymentpkg.VerifyCommand{
			UserID:    7,
			VCardID:   42,
			OrderID:   orderID,
			PaymentID: paymentID,
			Signature: clientSig(orderID, paymentID),
		})
	}

	Describe("end to end", func() {
		It("settles a new order from the client callback", func() {
			gateway.orderID = "order_abc"
			orders := paymentpkg.NewOrderService(store, &memCards{store}, gateway, paymentpkg.OrderConfig{KeyID: "rzp", Currency: "INR"}, logger.Discard())
			_, err := orders.CreateOrder(ctx, 7, paymentpkg.CreateOrderRequest{VCardID: 42, Amount: decimal.RequireFromString("29.00")})
			Expect(err).NotTo(HaveOccurred())

			outcome, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))

			card := store.card(42)
			Expect(card.PaymentStatus).To(Equal(vcard.PaymentStatusPaid))
			Expect(card.PaidAt).NotTo(BeNil())
			Expect(*card.RazorpayPaymentID).To(Equal("pay_123"))

			rec := store.record("order_abc")
			Expect(rec.Status).To(Equal(payment.StatusPaid))
			Expect(rec.PaymentID()).To(Equal("pay_123"))
		})
	})

	Describe("ClientVerify", func() {
		BeforeEach(func() {
			store.insertPending(7, 42, "order_abc", "29.00")
		})

		It("rejects an invalid signature without touching state", func() {
			_, err := reconciler.ClientVerify(ctx, paymentpkg.VerifyCommand{
				UserID: 7, VCardID: 42, OrderID: "order_abc", PaymentID: "pay_123",
				Signature: clientSig("order_abc", "pay_other"),
			})
			Expect(errors.Is(err, apperrors.ErrSignatureInvalid)).To(BeTrue())
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPending))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPending))
			Expect(gateway.fetchCount()).To(BeZero())
		})

		It("refuses another user's card", func() {
			_, err := reconciler.ClientVerify(ctx, paymentpkg.VerifyCommand{
				UserID: 8, VCardID: 42, OrderID: "order_abc", PaymentID: "pay_123",
				Signature: clientSig("order_abc", "pay_123"),
			})
			Expect(errors.Is(err, apperrors.ErrCardNotOwned)).To(BeTrue())
		})

		It("surfaces an unknown order", func() {
			_, err := verify("order_missing", "pay_123")
			Expect(errors.Is(err, apperrors.ErrPaymentNotFound)).To(BeTrue())
		})

		It("refuses an order that belongs to another card", func() {
			store.addCard(43, 7)
			store.insertPending(7, 43, "order_other", "29.00")

			_, err := verify("order_other", "pay_123")
			Expect(errors.Is(err, apperrors.ErrOrderMismatch)).To(BeTrue())
			Expect(store.record("order_other").Status).To(Equal(payment.StatusPending))
		})

		It("stores gateway details when the fetch succeeds", func() {
			_, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())

			var details map[string]interface{}
			Expect(json.Unmarshal(store.record("order_abc").GatewayDetails, &details)).To(Succeed())
			Expect(details).To(HaveKeyWithValue("method", "upi"))
		})

		It("still settles when the detail fetch times out", func() {
			gateway.fetchWait = time.Second

			start := time.Now()
			outcome, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(time.Since(start)).To(BeNumerically("<", 900*time.Millisecond))
			Expect(store.record("order_abc").GatewayDetails).To(BeEmpty())
		})

		It("is a no-op on a settled record", func() {
			_, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())
			paidAt := *store.card(42).PaidAt

			outcome, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeNoop))
			Expect(*store.card(42).PaidAt).To(Equal(paidAt))
		})

		It("publishes one capture event with the client source", func() {
			_, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())
			drain()

			evs := recorder.captured()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].Source).To(Equal(events.SourceClientVerify))
			Expect(evs[0].GatewayPaymentID).To(Equal("pay_123"))
		})

		It("wraps store failures as internal errors", func() {
			store.fail["Transition"] = errors.New("connection reset")

			_, err := verify("order_abc", "pay_123")
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeInternal))
		})
	})

	Describe("HandleWebhook captured", func() {
		It("settles a located order", func() {
			store.insertPending(7, 42, "order_abc", "29.00")

			outcome, err := reconciler.HandleWebhook(ctx, captured("order_abc", "pay_123", 2900))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPaid))

			var meta map[string]interface{}
			Expect(json.Unmarshal(store.record("order_abc").Metadata, &meta)).To(Succeed())
			Expect(meta).To(HaveKey("webhook"))
		})

		It("applies once when the same delivery arrives twice", func() {
			store.insertPending(7, 42, "order_abc", "29.00")
			ev := captured("order_abc", "pay_123", 2900)

			first, err := reconciler.HandleWebhook(ctx, ev)
			Expect(err).NotTo(HaveOccurred())
			afterFirst := store.record("order_abc")
			cardAfterFirst := store.card(42)

			second, err := reconciler.HandleWebhook(ctx, ev)
			Expect(err).NotTo(HaveOccurred())

			Expect(first).To(Equal(paymentpkg.OutcomeApplied))
			Expect(second).To(Equal(paymentpkg.OutcomeNoop))
			Expect(store.record("order_abc")).To(Equal(afterFirst))
			Expect(store.card(42)).To(Equal(cardAfterFirst))
			Expect(store.paidWrites).To(Equal(1))
			drain()
			Expect(recorder.captured()).To(HaveLen(1))
		})

		It("falls back to the payment id", func() {
			rec := store.insertPending(7, 42, "order_abc", "29.00")
			pid := "pay_known"
			store.mu.Lock()
			store.records[rec.ID].RazorpayPaymentID = &pid
			store.mu.Unlock()

			outcome, err := reconciler.HandleWebhook(ctx, captured("order_unrelated", "pay_known", 2900))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPaid))
		})

		It("falls back to the payment-link id in metadata", func() {
			rec := store.insertPending(7, 42, "order_abc", "29.00")
			store.mu.Lock()
			store.records[rec.ID].Metadata = []byte(`{"payment_link":{"id":"plink_9"}}`)
			store.mu.Unlock()

			ev := captured("", "pay_123", 2900)
			ev.Name = "payment_link.paid"
			ev.LinkID = "plink_9"
			outcome, err := reconciler.HandleWebhook(ctx, ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPaid))
		})

		It("settles even when the captured amount differs", func() {
			store.insertPending(7, 42, "order_abc", "29.00")

			outcome, err := reconciler.HandleWebhook(ctx, captured("order_abc", "pay_123", 100))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
		})

		It("does not revive a failed record", func() {
			store.insertPending(7, 42, "order_abc", "29.00")
			_, err := reconciler.HandleWebhook(ctx, paymentpkg.FailedEvent{
				Name:          "payment.failed",
				WebhookEntity: paymentpkg.WebhookEntity{OrderID: "order_abc", PaymentID: "pay_1"},
			})
			Expect(err).NotTo(HaveOccurred())

			outcome, err := reconciler.HandleWebhook(ctx, captured("order_abc", "pay_2", 2900))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeNoop))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusFailed))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPending))
		})

		It("propagates store errors so the delivery is retried", func() {
			store.fail["GetByOrderID"] = errors.New("connection refused")

			_, err := reconciler.HandleWebhook(ctx, captured("order_abc", "pay_123", 2900))
			Expect(err).To(HaveOccurred())
		})

		It("publishes a webhook-sourced capture", func() {
			store.insertPending(7, 42, "order_abc", "29.00")
			_, err := reconciler.HandleWebhook(ctx, captured("order_abc", "pay_123", 2900))
			Expect(err).NotTo(HaveOccurred())
			drain()

			evs := recorder.captured()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].Source).To(Equal(events.SourceWebhook))
		})
	})

	Describe("synthesis", func() {
		linkCapture := func(vcardID, userID int64) paymentpkg.CapturedEvent {
			ev := captured("order_link", "pay_link", 2900)
			ev.Name = "payment_link.paid"
			ev.LinkID = "plink_1"
			ev.Notes = paymentpkg.Notes{VCardID: vcardID, UserID: userID}
			return ev
		}

		It("creates a paid record linked to the card in the notes", func() {
			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(42, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))

			rec := store.record("order_link")
			Expect(rec.Status).To(Equal(payment.StatusPaid))
			Expect(rec.VCardID).To(Equal(int64(42)))
			Expect(rec.UserID).To(Equal(int64(7)))
			Expect(rec.Origin).To(Equal(payment.OriginWebhook))
			Expect(rec.Amount.Equal(decimal.RequireFromString("29.00"))).To(BeTrue())
			Expect(rec.PaymentID()).To(Equal("pay_link"))

			card := store.card(42)
			Expect(card.PaymentStatus).To(Equal(vcard.PaymentStatusPaid))
			Expect(card.PaidAt).NotTo(BeNil())

			drain()
			evs := recorder.captured()
			Expect(evs).To(HaveLen(1))
			Expect(evs[0].Synthesized).To(BeTrue())
		})

		It("accepts notes naming the card owner", func() {
			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(42, 7))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
		})

		It("drops notes naming another user", func() {
			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(42, 8))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeDropped))
			Expect(store.count()).To(BeZero())
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPending))
		})

		It("drops an unknown card", func() {
			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(99, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeDropped))
			Expect(store.count()).To(BeZero())
		})

		It("drops captures without a card in the notes", func() {
			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(0, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeDropped))
		})

		It("drops everything when disabled", func() {
			cfg.AllowSynthesis = false
			build()

			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(42, 7))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeDropped))
			Expect(store.count()).To(BeZero())
		})

		It("is idempotent across redeliveries", func() {
			_, err := reconciler.HandleWebhook(ctx, linkCapture(42, 0))
			Expect(err).NotTo(HaveOccurred())

			outcome, err := reconciler.HandleWebhook(ctx, linkCapture(42, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeNoop))
			Expect(store.count()).To(Equal(1))
		})

		It("propagates card lookup failures", func() {
			store.fail["CardGet"] = errors.New("timeout")

			_, err := reconciler.HandleWebhook(ctx, linkCapture(42, 0))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("HandleWebhook failed", func() {
		failed := func(orderID string) paymentpkg.FailedEvent {
			return paymentpkg.FailedEvent{
				Name:             "payment.failed",
				WebhookEntity:    paymentpkg.WebhookEntity{OrderID: orderID, PaymentID: "pay_f"},
				ErrorCode:        "BAD_REQUEST_ERROR",
				ErrorDescription: "card declined",
			}
		}

		It("fails a pending record and leaves the card alone", func() {
			store.insertPending(7, 42, "order_abc", "29.00")

			outcome, err := reconciler.HandleWebhook(ctx, failed("order_abc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusFailed))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPending))
			drain()
			Expect(recorder.failed()).To(Equal(1))
		})

		It("never moves a paid record", func() {
			store.insertPending(7, 42, "order_abc", "29.00")
			_, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := reconciler.HandleWebhook(ctx, failed("order_abc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeNoop))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPaid))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPaid))
		})

		It("drops failures for unknown orders", func() {
			outcome, err := reconciler.HandleWebhook(ctx, failed("order_missing"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeDropped))
		})
	})

	It("ignores unrecognized events", func() {
		outcome, err := reconciler.HandleWebhook(ctx, paymentpkg.UnrecognizedEvent{Name: "refund.created"})
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(paymentpkg.OutcomeIgnored))
	})

	Describe("concurrent channels", func() {
		It("applies exactly one paid transition", func() {
			store.insertPending(7, 42, "order_abc", "29.00")

			const rounds = 10
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				outcomes []paymentpkg.Outcome
				errs     []error
			)
			collect := func(o paymentpkg.Outcome, err error) {
				mu.Lock()
				defer mu.Unlock()
				outcomes = append(outcomes, o)
				if err != nil {
					errs = append(errs, err)
				}
			}
			for i := 0; i < rounds; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					collect(verify("order_abc", "pay_123"))
				}()
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					collect(reconciler.HandleWebhook(ctx, captured("order_abc", "pay_123", 2900)))
				}()
			}
			wg.Wait()

			Expect(errs).To(BeEmpty())
			applied := 0
			for _, o := range outcomes {
				if o == paymentpkg.OutcomeApplied {
					applied++
				} else {
					Expect(o).To(Equal(paymentpkg.OutcomeNoop))
				}
			}
			Expect(applied).To(Equal(1))
			Expect(store.paidWrites).To(Equal(1))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPaid))
		})
	})

	Describe("ReportFailure and Cancel", func() {
		BeforeEach(func() {
			store.insertPending(7, 42, "order_abc", "29.00")
			store.mu.Lock()
			oid := "order_abc"
			store.cards[42].RazorpayOrderID = &oid
			store.mu.Unlock()
		})

		cmd := paymentpkg.OrderCommand{UserID: 7, VCardID: 42, OrderID: "order_abc"}

		It("marks the record failed", func() {
			outcome, err := reconciler.ReportFailure(ctx, cmd)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusFailed))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPending))
		})

		It("cancels the record and the card's pending order", func() {
			outcome, err := reconciler.Cancel(ctx, cmd)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeApplied))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusCancelled))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusCancelled))
		})

		It("is a no-op after payment", func() {
			_, err := verify("order_abc", "pay_123")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := reconciler.ReportFailure(ctx, cmd)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(paymentpkg.OutcomeNoop))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPaid))
		})

		It("requires ownership", func() {
			_, err := reconciler.ReportFailure(ctx, paymentpkg.OrderCommand{UserID: 8, VCardID: 42, OrderID: "order_abc"})
			Expect(errors.Is(err, apperrors.ErrCardNotOwned)).To(BeTrue())
		})

		It("requires the order to belong to the card", func() {
			store.addCard(43, 7)
			_, err := reconciler.ReportFailure(ctx, paymentpkg.OrderCommand{UserID: 7, VCardID: 43, OrderID: "order_abc"})
			Expect(errors.Is(err, apperrors.ErrOrderMismatch)).To(BeTrue())
		})
	})

	Describe("History", func() {
		It("lists newest first with the card status", func() {
			store.insertPending(7, 42, "order_1", "29.00")
			store.insertPending(7, 42, "order_2", "29.00")

			h, err := reconciler.History(ctx, 7, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.VCardID).To(Equal(int64(42)))
			Expect(h.CurrentStatus).To(Equal(vcard.PaymentStatusPending))
			Expect(h.Payments).To(HaveLen(2))
			Expect(h.Payments[0].RazorpayOrderID).To(Equal("order_2"))
		})

		It("refuses other users' cards", func() {
			_, err := reconciler.History(ctx, 8, 42)
			Expect(errors.Is(err, apperrors.ErrCardNotOwned)).To(BeTrue())
		})
	})
})
