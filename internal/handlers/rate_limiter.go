package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/httpx"
	"github.com/karimtraders/grocery/internal/platform/ratelimit"
	"github.com/karimtraders/grocery/internal/platform/requestctx"
)

// rateLimit answers 429 once key has spent its budget. A nil limiter disables the check, and a
// failing backend lets the request through.
func rateLimit(limiter ratelimit.Limiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := limiter.Allow(ctx, key(r))
			if err != nil {
				requestctx.LoggerOr(ctx, zap.NewNop()).Warn("rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
				httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userRateKey buckets authenticated callers by uid and everyone else by address.
func userRateKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return "uid:" + identity.UID
	}
	return ipRateKey(r)
}

// ipRateKey expects chi's RealIP middleware to have rewritten RemoteAddr.
func ipRateKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
