package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"certisure/internal/capability"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/httputil"
	"certisure/pkg/requestcontext"
)

// CapabilityValidator checks a bearer token for one capability.
type CapabilityValidator interface {
	Enabled() bool
	Validate(token string, want capability.Capability) (*capability.Claims, error)
}

// RequireCapability admits requests whose bearer token grants want. When the
// validator is disabled every request passes and no subject is set.
func RequireCapability(validator CapabilityValidator, want capability.Capability, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil || !validator.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			requestID := GetRequestID(ctx)

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.Validate(token, want)
			if err != nil {
				logger.WarnContext(ctx, "capability check failed",
					"error", err,
					"capability", string(want),
					"request_id", requestID,
				)
				httputil.WriteError(w, err)
				return
			}

			ctx = requestcontext.WithInstitution(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
