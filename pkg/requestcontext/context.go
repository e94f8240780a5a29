// Package requestcontext carries request-scoped values from HTTP middleware
// to services without either importing the other.
//
// Tests set values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClientMetadata(ctx, "203.0.113.7", "curl/8")
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	institutionKey key = iota
	clientIPKey
	userAgentKey
	requestIDKey
	requestTimeKey
)

func str(ctx context.Context, k key) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// InstitutionID is the subject of the capability token that authorized the
// request, or "" when capabilities are off.
func InstitutionID(ctx context.Context) string { return str(ctx, institutionKey) }

// WithInstitution records the token subject.
func WithInstitution(ctx context.Context, institutionID string) context.Context {
	return context.WithValue(ctx, institutionKey, institutionID)
}

func ClientIP(ctx context.Context) string  { return str(ctx, clientIPKey) }
func UserAgent(ctx context.Context) string { return str(ctx, userAgentKey) }

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey, clientIP)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func RequestID(ctx context.Context) string { return str(ctx, requestIDKey) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now is the time the request arrived, or the wall clock outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey, t)
}
