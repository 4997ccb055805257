package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/karimtraders/grocery/internal/platform/httpx"
)

const (
	roleClaim     = "role"
	emailClaim    = "email"
	verifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired lets verifier fakes report an expired token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid lets verifier fakes report a rejected token.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens. *FirebaseVerifier satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator wraps verifier. Roles are read from the "role" custom claim.
func NewAuthenticator(verifier TokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// RequireFirebaseAuth rejects requests without a valid ID token. With roles given, the caller
// must also hold one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, apiErr := a.authenticate(ctx, r.Header.Get("Authorization"))
			if apiErr != nil {
				httpx.WriteError(ctx, w, *apiErr)
				return
			}
			if len(required) > 0 && !slices.ContainsFunc(required, identity.HasRole) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, header string) (*Identity, *httpx.Error) {
	raw, ok := bearerToken(header)
	if !ok {
		return nil, unauthorized("unauthenticated", "authorization header missing or invalid")
	}
	if a == nil || a.verifier == nil {
		return nil, unauthorized("unauthenticated", "authorization service unavailable")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
	cancel()
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return nil, unauthorized("token_expired", "firebase id token expired")
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return nil, unauthorized("invalid_token", "firebase id token invalid")
	default:
		return nil, unauthorized("invalid_token", "firebase id token verification failed")
	}

	email, _ := token.Claims[emailClaim].(string)
	identity := &Identity{
		UID:   token.UID,
		Email: strings.TrimSpace(email),
		Roles: rolesFromClaim(token.Claims[roleClaim]),
	}
	if !identity.HasRole(RoleUser) {
		identity.Roles = append(identity.Roles, RoleUser)
	}
	return identity, nil
}

// rolesFromClaim accepts "admin", ["admin"] and {"admin": true}. The result is lower-cased
// and free of duplicates.
func rolesFromClaim(claim any) []string {
	var raw []string
	switch v := claim.(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, _ := enabled.(bool); on {
				raw = append(raw, name)
			}
		}
	}

	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = normaliseRole(r); r != "" && !slices.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

func unauthorized(code, message string) *httpx.Error {
	err := httpx.NewError(code, message, http.StatusUnauthorized)
	return &err
}

func bearerToken(header string) (string, bool) {
	scheme, token, _ := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	return token, strings.EqualFold(scheme, "Bearer") && token != ""
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
