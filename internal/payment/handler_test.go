package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/tagfinder/internal"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/payment"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	paymentpkg "github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/frahmantamala/tagfinder/internal/transport"
	"github.com/frahmantamala/tagfinder/pkg/logger"
)

// asUser stands in for the auth middleware. The id is read per request.
func asUser(userID *int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if *userID != 0 {
				r = r.WithContext(apperrors.ContextWithUserID(r.Context(), *userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = Describe("Handler", func() {
	var (
		store   *memStore
		gateway *fakeGateway
		user    int64
		router  *chi.Mux
	)

	BeforeEach(func() {
		store = newMemStore()
		store.addCard(42, 7)
		gateway = &fakeGateway{orderID: "order_abc"}
		user = 7

		cards := &memCards{store}
		orders := paymentpkg.NewOrderService(store, cards, gateway, paymentpkg.OrderConfig{KeyID: "rzp_test_key", Currency: "INR"}, logger.Discard())
		reconciler := paymentpkg.NewReconciler(store, cards, gateway, nil, paymentpkg.ReconcilerConfig{
			KeySecret:    keySecret,
			FetchTimeout: 100 * time.Millisecond,
		}, logger.Discard())
		h := paymentpkg.NewHandler(transport.NewBaseHandler(logger.Discard()), orders, reconciler)

		router = chi.NewRouter()
		router.Group(func(r chi.Router) {
			r.Use(asUser(&user))
			r.Post("/payments/create-order", h.CreateOrder)
			r.Post("/payments/verify", h.Verify)
			r.Post("/payments/failed", h.PaymentFailed)
			r.Post("/payments/cancel", h.CancelOrder)
			r.Get("/payments/history/{vcardId}", h.History)
		})
	})

	send := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			if s, ok := body.(string); ok {
				buf.WriteString(s)
			} else {
				Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	decodeError := func(rec *httptest.ResponseRecorder) errorBody {
		var body errorBody
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("POST /payments/create-order", func() {
		It("returns the order with the public key", func() {
			rec := send(http.MethodPost, "/payments/create-order", map[string]interface{}{"vcard_id": 42, "amount": 29.00})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]interface{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("success", true))
			Expect(body).To(HaveKeyWithValue("order_id", "order_abc"))
			Expect(body).To(HaveKeyWithValue("key_id", "rzp_test_key"))
			Expect(body).To(HaveKeyWithValue("currency", "INR"))
		})

		It("accepts the amount as a string", func() {
			rec := send(http.MethodPost, "/payments/create-order", `{"vcard_id": 42, "amount": "29.00"}`)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("answers 400 for an invalid amount", func() {
			rec := send(http.MethodPost, "/payments/create-order", map[string]interface{}{"vcard_id": 42, "amount": 0})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Error.Type).To(Equal(string(apperrors.ErrorTypeValidation)))
		})

		It("answers 400 for a broken body", func() {
			rec := send(http.MethodPost, "/payments/create-order", `{"vcard_id":`)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 403 for someone else's card", func() {
			user = 8
			rec := send(http.MethodPost, "/payments/create-order", map[string]interface{}{"vcard_id": 42, "amount": 29})
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(decodeError(rec).Error.Code).To(Equal(string(apperrors.ErrCodeCardNotOwned)))
		})

		It("answers 502 when the gateway is down", func() {
			gateway.orderErr = context.DeadlineExceeded
			rec := send(http.MethodPost, "/payments/create-order", map[string]interface{}{"vcard_id": 42, "amount": 29})
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
			Expect(decodeError(rec).Error.Code).To(Equal(string(apperrors.ErrCodeGatewayUnavailable)))
		})

		It("answers 401 without a user", func() {
			user = 0
			rec := send(http.MethodPost, "/payments/create-order", map[string]interface{}{"vcard_id": 42, "amount": 29})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("POST /payments/verify", func() {
		BeforeEach(func() {
			store.insertPending(7, 42, "order_abc", "29.00")
		})

		verifyBody := func(sig string) map[string]interface{} {
			return map[string]interface{}{
				"razorpay_order_id":   "order_abc",
				"razorpay_payment_id": "pay_123",
				"razorpay_signature":  sig,
				"vcard_id":            42,
			}
		}

		It("marks the card paid", func() {
			rec := send(http.MethodPost, "/payments/verify", verifyBody(clientSig("order_abc", "pay_123")))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body paymentpkg.VerifyResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Success).To(BeTrue())
			Expect(body.VCardID).To(Equal(int64(42)))
			Expect(store.card(42).PaymentStatus).To(Equal(vcard.PaymentStatusPaid))
		})

		It("answers 200 again for a repeated callback", func() {
			Expect(send(http.MethodPost, "/payments/verify", verifyBody(clientSig("order_abc", "pay_123"))).Code).To(Equal(http.StatusOK))
			Expect(send(http.MethodPost, "/payments/verify", verifyBody(clientSig("order_abc", "pay_123"))).Code).To(Equal(http.StatusOK))
		})

		It("answers 400 for a bad signature", func() {
			rec := send(http.MethodPost, "/payments/verify", verifyBody("00"))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decodeError(rec).Error.Code).To(Equal(string(apperrors.ErrCodeSignatureInvalid)))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusPending))
		})

		It("answers 400 when fields are missing", func() {
			rec := send(http.MethodPost, "/payments/verify", map[string]interface{}{"vcard_id": 42})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /payments/failed and /payments/cancel", func() {
		BeforeEach(func() {
			store.insertPending(7, 42, "order_abc", "29.00")
		})

		It("records the failure", func() {
			rec := send(http.MethodPost, "/payments/failed", map[string]interface{}{"razorpay_order_id": "order_abc", "vcard_id": 42})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusFailed))
		})

		It("cancels the order", func() {
			rec := send(http.MethodPost, "/payments/cancel", map[string]interface{}{"razorpay_order_id": "order_abc", "vcard_id": 42})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(store.record("order_abc").Status).To(Equal(payment.StatusCancelled))
		})

		It("answers 404 for an unknown order", func() {
			rec := send(http.MethodPost, "/payments/failed", map[string]interface{}{"razorpay_order_id": "order_nope", "vcard_id": 42})
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /payments/history/{vcardId}", func() {
		It("lists the card's payments", func() {
			store.insertPending(7, 42, "order_abc", "29.00")

			rec := send(http.MethodGet, "/payments/history/42", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body paymentpkg.HistoryResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Success).To(BeTrue())
			Expect(body.CurrentStatus).To(Equal(vcard.PaymentStatusPending))
			Expect(body.Payments).To(HaveLen(1))
			Expect(body.Payments[0].RazorpayOrderID).To(Equal("order_abc"))
		})

		It("answers 400 for a non-numeric id", func() {
			rec := send(http.MethodGet, "/payments/history/abc", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 403 for another user's card", func() {
			user = 8
			rec := send(http.MethodGet, "/payments/history/42", nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})
})
