package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Broker defines the interface for interacting with the brokerage.
type Broker interface {
	// Account operations
	GetProfile(ctx context.Context) (*Profile, error)
	GetFunds(ctx context.Context) (*Funds, error)
	GetPositions(ctx context.Context) ([]Position, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetCandles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error)
	GetNearestExpiry(ctx context.Context, symbol string) (time.Time, error)

	// Order placement. Never retried: a placement failure surfaces to
	// the caller, which decides whether the basket continues.
	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error)
}

// Ensure FyersAPI implements Broker at compile time.
var _ Broker = (*FyersAPI)(nil)

// IsPermanentAPIError reports whether an error is a 4xx rejection that
// retrying cannot fix (429 excepted).
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// execCircuitBreaker is a typed helper to reduce repetition in wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker, logger *zap.SugaredLogger) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, logger, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, logger *zap.SugaredLogger, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// GetProfile delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetProfile(ctx context.Context) (*Profile, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Profile, error) { return b.GetProfile(ctx) })
}

// GetFunds delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetFunds(ctx context.Context) (*Funds, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Funds, error) { return b.GetFunds(ctx) })
}

// GetPositions delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) { return b.GetPositions(ctx) })
}

// GetQuote delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) { return b.GetQuote(ctx, symbol) })
}

// GetCandles delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetCandles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Candle, error) {
		return b.GetCandles(ctx, symbol, resolution, from, to)
	})
}

// GetNearestExpiry delegates through the circuit breaker.
func (c *CircuitBreakerBroker) GetNearestExpiry(ctx context.Context, symbol string) (time.Time, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (time.Time, error) { return b.GetNearestExpiry(ctx, symbol) })
}

// PlaceOrder delegates through the circuit breaker. The breaker guards
// against a dead API; it never re-submits an order.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResponse, error) { return b.PlaceOrder(ctx, req) })
}
