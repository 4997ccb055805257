package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/karimtraders/grocery/internal/platform/httpx"
)

// ServiceIdentity is the Google service account calling an internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the caller stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, _ := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, identity != nil
}

// OIDCValidator checks Google-signed ID tokens, or IAP assertions, on operator routes such as
// webhook replay.
type OIDCValidator struct {
	cache  *JWKSCache
	logger *zap.Logger
}

// NewOIDCValidator verifies signatures against cache.
func NewOIDCValidator(cache *JWKSCache, logger *zap.Logger) *OIDCValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCValidator{cache: cache, logger: logger}
}

// RequireOIDC admits RS256 tokens carrying audience and, when issuers is non-empty, one of
// those issuers. Without an audience every request gets 503.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	var allowed []string
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowed = append(allowed, issuer)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if audience == "" || v == nil || v.cache == nil {
				httpx.WriteError(ctx, w, httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable))
				return
			}
			identity, apiErr := v.verify(ctx, oidcToken(r), audience, allowed)
			if apiErr != nil {
				httpx.WriteError(ctx, w, *apiErr)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityKey{}, identity)))
		})
	}
}

func (v *OIDCValidator) verify(ctx context.Context, raw, audience string, issuers []string) (*ServiceIdentity, *httpx.Error) {
	if raw == "" {
		return nil, unauthorized("unauthenticated", "oidc token missing")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			v.logger.Warn("oidc jwks unavailable", zap.Error(err))
			unavailable := httpx.NewError("verification_unavailable", "oidc verification unavailable", http.StatusServiceUnavailable)
			return nil, &unavailable
		}
		v.logger.Info("oidc token rejected", zap.Error(err))
		return nil, unauthorized("invalid_token", "oidc token verification failed")
	}

	identity := &ServiceIdentity{}
	identity.Issuer, _ = claims["iss"].(string)
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)

	if len(issuers) > 0 && !slices.Contains(issuers, identity.Issuer) {
		v.logger.Info("oidc issuer mismatch", zap.String("issuer", identity.Issuer))
		return nil, unauthorized("invalid_token", "oidc issuer mismatch")
	}
	if !claims.VerifyAudience(audience, true) {
		v.logger.Info("oidc audience mismatch", zap.String("expected", audience))
		return nil, unauthorized("invalid_token", "oidc audience mismatch")
	}
	return identity, nil
}

// oidcToken prefers the bearer token and falls back to the IAP assertion header.
func oidcToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion"))
}
