package paymentgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// orderAPI and paymentAPI are the subsets of the razorpay-go resources used
// here.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Config struct {
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

type RazorpayClient struct {
	orders   orderAPI
	payments paymentAPI
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRazorpayClient(cfg Config, logger *slog.Logger) *RazorpayClient {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newRazorpayClient(client.Order, client.Payment, cfg.Timeout, logger)
}

func newRazorpayClient(orders orderAPI, payments paymentAPI, timeout time.Duration, logger *slog.Logger) *RazorpayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RazorpayClient{
		orders:   orders,
		payments: payments,
		timeout:  timeout,
		logger:   logger,
	}
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	notes := make(map[string]interface{}, len(req.Notes))
	for k, v := range req.Notes {
		notes[k] = v
	}
	data := map[string]interface{}{
		"amount":          MinorUnits(req.Amount),
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
		"notes":           notes,
	}

	start := time.Now()
	body, err := c.call(ctx, "order.create", func() (map[string]interface{}, error) {
		return c.orders.Create(data, nil)
	})
	if err != nil {
		c.logger.Error("razorpay order creation failed",
			"receipt", req.Receipt,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return nil, err
	}

	order, err := orderFromBody(body)
	if err != nil {
		return nil, &Error{Op: "order.create", Err: err}
	}

	c.logger.Info("razorpay order created",
		"order_id", order.ID,
		"receipt", req.Receipt,
		"amount", order.Amount.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return order, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	body, err := c.call(ctx, "payment.fetch", func() (map[string]interface{}, error) {
		return c.payments.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		c.logger.Warn("razorpay payment fetch failed", "payment_id", paymentID, "error", err)
		return nil, err
	}

	details, err := paymentFromBody(body)
	if err != nil {
		return nil, &Error{Op: "payment.fetch", Err: err}
	}
	return details, nil
}

// call bounds a blocking SDK call by the client timeout and ctx. The SDK has
// no context support, so an abandoned call finishes in the background.
func (c *RazorpayClient) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())}
	case r := <-done:
		if r.err != nil {
			return nil, &Error{Op: op, Err: classify(r.err)}
		}
		return r.body, nil
	}
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrRejected, err)
}

func orderFromBody(body map[string]interface{}) (*Order, error) {
	id := stringField(body, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: order id missing", ErrMalformed)
	}
	return &Order{
		ID:       id,
		Amount:   MajorUnits(intField(body, "amount")),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
		Raw:      body,
	}, nil
}

func paymentFromBody(body map[string]interface{}) (*PaymentDetails, error) {
	id := stringField(body, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: payment id missing", ErrMalformed)
	}
	captured, _ := body["captured"].(bool)
	return &PaymentDetails{
		ID:       id,
		OrderID:  stringField(body, "order_id"),
		Status:   stringField(body, "status"),
		Method:   stringField(body, "method"),
		Amount:   MajorUnits(intField(body, "amount")),
		Currency: stringField(body, "currency"),
		Captured: captured,
		Raw:      body,
	}, nil
}

func stringField(body map[string]interface{}, key string) string {
	if v, ok := body[key].(string); ok {
		return v
	}
	return ""
}

// intField reads a JSON number; the SDK decodes into float64.
func intField(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}
