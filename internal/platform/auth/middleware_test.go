package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	verifyFn func(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

func (s stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return s.verifyFn(ctx, idToken)
}

func tokenFor(uid string, claims map[string]any) stubTokenVerifier {
	return stubTokenVerifier{verifyFn: func(context.Context, string) (*firebaseauth.Token, error) {
		return &firebaseauth.Token{UID: uid, Claims: claims}, nil
	}}
}

func failWith(err error) stubTokenVerifier {
	return stubTokenVerifier{verifyFn: func(context.Context, string) (*firebaseauth.Token, error) { return nil, err }}
}

// guarded runs one request through RequireFirebaseAuth and returns the response along with the
// identity the downstream handler saw, if it ran.
func guarded(t *testing.T, verifier TokenVerifier, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := NewAuthenticator(verifier).RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestRequireFirebaseAuthAdmitsAdmin(t *testing.T) {
	var received string
	verifier := stubTokenVerifier{verifyFn: func(_ context.Context, raw string) (*firebaseauth.Token, error) {
		received = raw
		return &firebaseauth.Token{UID: "ops-1", Claims: map[string]any{
			"role":  map[string]any{"admin": true, "picker": false},
			"email": " ops@karimtraders.in ",
		}}, nil
	}}

	rr, identity := guarded(t, verifier, "bearer  token-value", RoleAdmin)
	if rr.Code != http.StatusNoContent || identity == nil {
		t.Fatalf("expected handler to run, got %d", rr.Code)
	}
	if received != "token-value" {
		t.Fatalf("verifier received %q", received)
	}
	if identity.UID != "ops-1" || identity.Email != "ops@karimtraders.in" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if !identity.IsAdmin() || !identity.HasRole(RoleUser) || identity.HasRole("picker") {
		t.Fatalf("unexpected roles %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthRoles(t *testing.T) {
	cases := []struct {
		name   string
		claim  any
		roles  []string
		status int
		want   []string
	}{
		{name: "shopper on admin route", claim: nil, roles: []string{RoleAdmin}, status: http.StatusForbidden},
		{name: "duplicates collapse", claim: []any{"USER", "user"}, status: http.StatusNoContent, want: []string{RoleUser}},
		{name: "single string claim", claim: "Admin", roles: []string{" ADMIN "}, status: http.StatusNoContent, want: []string{RoleAdmin, RoleUser}},
		{name: "any listed role admits", claim: []string{"picker"}, roles: []string{RoleAdmin, "picker"}, status: http.StatusNoContent, want: []string{"picker", RoleUser}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := map[string]any{}
			if tc.claim != nil {
				claims["role"] = tc.claim
			}
			rr, identity := guarded(t, tokenFor("uid-1", claims), "Bearer t", tc.roles...)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			if tc.status == http.StatusForbidden {
				if code := errorCode(t, rr); code != "insufficient_role" {
					t.Fatalf("error = %q", code)
				}
				return
			}
			if !slices.Equal(identity.Roles, tc.want) {
				t.Fatalf("roles = %v, want %v", identity.Roles, tc.want)
			}
		})
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier TokenVerifier
		header   string
		code     string
	}{
		{name: "missing header", verifier: tokenFor("u", nil), code: "unauthenticated"},
		{name: "basic scheme", verifier: tokenFor("u", nil), header: "Basic dXNlcg==", code: "unauthenticated"},
		{name: "empty bearer", verifier: tokenFor("u", nil), header: "Bearer   ", code: "unauthenticated"},
		{name: "expired", verifier: failWith(ErrTokenExpired), header: "Bearer old", code: "token_expired"},
		{name: "invalid", verifier: failWith(ErrTokenInvalid), header: "Bearer bad", code: "invalid_token"},
		{name: "no verifier", verifier: nil, header: "Bearer t", code: "unauthenticated"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, identity := guarded(t, tc.verifier, tc.header)
			if identity != nil {
				t.Fatalf("handler ran for %s", tc.name)
			}
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("error = %q, want %q", code, tc.code)
			}
		})
	}
}
