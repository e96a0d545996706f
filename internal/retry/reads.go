// Package retry wraps idempotent broker reads with bounded retries.
// Order placement is deliberately outside its scope.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/nifty_basket/internal/broker"
	"go.uber.org/zap"
)

// Config tunes retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig suits polling reads against a flaky API.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Reader retries broker read operations that are safe to repeat.
type Reader struct {
	broker broker.Broker
	logger *zap.SugaredLogger
	config Config
}

// NewReader creates a Reader over the given broker.
func NewReader(b broker.Broker, logger *zap.SugaredLogger, config ...Config) *Reader {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reader{broker: b, logger: logger, config: cfg}
}

// withRetry runs fn until it succeeds, the error is permanent, retries
// are exhausted, or the context ends.
func withRetry[T any](ctx context.Context, r *Reader, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		result, err := fn(opCtx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		r.logger.Debugw("read attempt failed", "op", op, "attempt", attempt+1, "error", err)

		if !isTransientError(err) || attempt == r.config.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff = r.nextBackoff(backoff)
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, r.config.MaxRetries+1, lastErr)
}

// GetQuote retries broker.GetQuote.
func (r *Reader) GetQuote(ctx context.Context, symbol string) (*broker.Quote, error) {
	return withRetry(ctx, r, "quote", func(ctx context.Context) (*broker.Quote, error) {
		return r.broker.GetQuote(ctx, symbol)
	})
}

// GetPositions retries broker.GetPositions.
func (r *Reader) GetPositions(ctx context.Context) ([]broker.Position, error) {
	return withRetry(ctx, r, "positions", func(ctx context.Context) ([]broker.Position, error) {
		return r.broker.GetPositions(ctx)
	})
}

// GetFunds retries broker.GetFunds.
func (r *Reader) GetFunds(ctx context.Context) (*broker.Funds, error) {
	return withRetry(ctx, r, "funds", func(ctx context.Context) (*broker.Funds, error) {
		return r.broker.GetFunds(ctx)
	})
}

// GetNearestExpiry retries broker.GetNearestExpiry.
func (r *Reader) GetNearestExpiry(ctx context.Context, symbol string) (time.Time, error) {
	return withRetry(ctx, r, "expiry", func(ctx context.Context) (time.Time, error) {
		return r.broker.GetNearestExpiry(ctx, symbol)
	})
}

// GetCandles retries broker.GetCandles.
func (r *Reader) GetCandles(ctx context.Context, symbol, resolution string, from, to time.Time) ([]broker.Candle, error) {
	return withRetry(ctx, r, "candles", func(ctx context.Context) ([]broker.Candle, error) {
		return r.broker.GetCandles(ctx, symbol, resolution, from, to)
	})
}

func (r *Reader) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > r.config.MaxBackoff {
		backoff = r.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			r.logger.Warnw("failed to generate jitter", "error", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if broker.IsPermanentAPIError(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
		"eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
