package paymentgateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	// IsFailure decides which errors count towards opening the circuit.
	// Rejections are the caller's fault and do not.
	IsFailure func(error) bool
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerGateway wraps a Gateway and fails fast with ErrCircuitOpen while the
// provider is unhealthy.
type BreakerGateway struct {
	next Gateway
	cfg  BreakerConfig
	now  func() time.Time

	mu           sync.Mutex
	state        breakerState
	failures     int
	successes    int
	openedAt     time.Time
	halfInFlight bool
}

func NewBreakerGateway(next Gateway, cfg BreakerConfig) *BreakerGateway {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return errors.Is(err, ErrTimeout) ||
				errors.Is(err, ErrUnavailable) ||
				errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &BreakerGateway{next: next, cfg: cfg, now: time.Now, state: stateClosed}
}

func (g *BreakerGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := g.beforeCall(); err != nil {
		return nil, &Error{Op: "order.create", Err: err}
	}
	order, err := g.next.CreateOrder(ctx, req)
	g.afterCall(err)
	return order, err
}

func (g *BreakerGateway) FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	if err := g.beforeCall(); err != nil {
		return nil, &Error{Op: "payment.fetch", Err: err}
	}
	details, err := g.next.FetchPayment(ctx, paymentID)
	g.afterCall(err)
	return details, err
}

// State reports the current breaker state for health output.
func (g *BreakerGateway) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.String()
}

func (g *BreakerGateway) beforeCall() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case stateClosed:
		return nil
	case stateOpen:
		if g.now().Sub(g.openedAt) < g.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		g.state = stateHalfOpen
		g.successes = 0
		g.halfInFlight = false
		fallthrough
	case stateHalfOpen:
		if g.halfInFlight {
			return ErrCircuitOpen
		}
		g.halfInFlight = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (g *BreakerGateway) afterCall(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateHalfOpen {
		g.halfInFlight = false
	}

	if err == nil {
		switch g.state {
		case stateClosed:
			g.failures = 0
		case stateHalfOpen:
			g.successes++
			if g.successes >= g.cfg.SuccessThreshold {
				g.state = stateClosed
				g.failures = 0
				g.successes = 0
			}
		}
		return
	}

	if !g.cfg.IsFailure(err) {
		return
	}

	switch g.state {
	case stateClosed:
		g.failures++
		if g.failures >= g.cfg.FailureThreshold {
			g.trip()
		}
	case stateHalfOpen:
		g.trip()
	}
}

func (g *BreakerGateway) trip() {
	g.state = stateOpen
	g.openedAt = g.now()
	g.successes = 0
	g.halfInFlight = false
}
