package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"certisure/internal/ratelimit/metrics"
	"certisure/internal/ratelimit/models"
	"certisure/pkg/platform/audit"
	"certisure/pkg/platform/httputil"
	"certisure/pkg/requestcontext"
)

// AuditEmitter records rejected requests.
type AuditEmitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RateLimiter decides whether a keyed request may proceed.
type RateLimiter interface {
	Check(ctx context.Context, key string) (*models.RateLimitResult, bool, error)
}

type Middleware struct {
	limiter  RateLimiter
	logger   *slog.Logger
	auditor  AuditEmitter
	metrics  *metrics.Metrics
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for testing/demo mode).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithAuditor(auditor AuditEmitter) Option {
	return func(m *Middleware) {
		m.auditor = auditor
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func New(limiter RateLimiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit limits requests per client IP within class. Limiter errors fail
// open so an outage never blocks verification.
func (m *Middleware) RateLimit(class string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled || m.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)

			result, degraded, err := m.limiter.Check(ctx, class+":"+ip)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check IP rate limit",
					"error", err,
					"class", class,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			m.metrics.IncrementCheck(class, result.Allowed)

			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"class", class,
					"client_ip", ip,
					"request_id", requestcontext.RequestID(ctx),
				)
				if m.auditor != nil {
					if err := m.auditor.Emit(ctx, audit.Event{
						Action:    string(audit.EventRateLimitExceeded),
						Decision:  "rejected",
						Reason:    class,
						RequestID: requestcontext.RequestID(ctx),
						ClientIP:  ip,
					}); err != nil {
						m.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
					}
				}
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "rate_limited",
		ErrorDescription: "Too many uploads from this IP address. Please try again later.",
		RetryAfter:       result.RetryAfter,
	})
}
