package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/httpx"
)

const defaultMaxBodySize = 16 * 1024

// readBody returns the raw request body, or writes 413 when it exceeds limit bytes and 400
// when it is blank. ok is false once a response has been written.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) (body []byte, ok bool) {
	ctx := r.Context()
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "read request body: "+err.Error(), http.StatusBadRequest))
			return nil, false
		}
	}
	switch {
	case int64(len(body)) > limit:
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return nil, false
	case len(bytes.TrimSpace(body)) == 0:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return nil, false
	}
	return body, true
}

// decodeJSONBody is readBody followed by json.Unmarshal into dst.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	body, ok := readBody(w, r, limit)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "invalid JSON payload: "+err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

// requireIdentity returns the authenticated caller or writes 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// formatTime renders RFC 3339 in UTC; zero and nil times render as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
