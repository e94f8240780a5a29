package middleware

import (
	"context"
	"log/slog"
	"time"

	"certisure/internal/ratelimit/metrics"
	"certisure/internal/ratelimit/models"
	"certisure/internal/ratelimit/store/bucket"
)

// BucketStore is a sliding-window counter keyed by string.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// Limiter checks a primary store (usually Redis) and answers from an in-memory
// store while the primary is failing.
type Limiter struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *breaker
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type LimiterOption func(*Limiter)

func WithFallback(store BucketStore) LimiterOption {
	return func(l *Limiter) {
		l.fallback = store
	}
}

func WithBreakerThresholds(failures, successes int) LimiterOption {
	return func(l *Limiter) {
		l.breaker = newBreaker(failures, successes)
	}
}

func WithLimiterLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		l.logger = logger
	}
}

func WithLimiterMetrics(m *metrics.Metrics) LimiterOption {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// NewLimiter admits limit requests per window per key. A nil primary uses the
// in-memory store alone.
func NewLimiter(primary BucketStore, limit int, window time.Duration, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		primary: primary,
		breaker: newBreaker(defaultTripAfter, defaultRecoverAfter),
		limit:   limit,
		window:  window,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.fallback == nil {
		l.fallback = bucket.NewInMemoryBucketStore()
	}
	if l.primary == nil {
		l.primary = l.fallback
	}
	return l
}

// Check admits or rejects one request for key. degraded is true when the
// answer came from the fallback store.
func (l *Limiter) Check(ctx context.Context, key string) (result *models.RateLimitResult, degraded bool, err error) {
	if !l.breaker.Tripped() {
		res, err := l.primary.Allow(ctx, key, l.limit, l.window)
		if err == nil {
			l.breaker.Succeed()
			return res, false, nil
		}
		opened := l.breaker.Fail()
		l.metrics.SetCircuitOpen(opened)
		l.logger.WarnContext(ctx, "primary rate limit store failed, using fallback",
			"error", err,
			"circuit_open", opened,
		)
		return l.fromFallback(ctx, key)
	}

	// Open: probe the primary so the circuit can close, but answer from the
	// fallback until it does.
	probe, err := l.primary.Allow(ctx, key, l.limit, l.window)
	if err == nil {
		if closed := l.breaker.Succeed(); closed {
			l.metrics.SetCircuitOpen(false)
			l.logger.InfoContext(ctx, "primary rate limit store recovered")
			return probe, false, nil
		}
	} else {
		l.breaker.Fail()
	}
	return l.fromFallback(ctx, key)
}

func (l *Limiter) fromFallback(ctx context.Context, key string) (*models.RateLimitResult, bool, error) {
	l.metrics.IncrementFallback()
	res, err := l.fallback.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return nil, true, err
	}
	return res, true, nil
}
