package idempotency

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/httpx"
)

const (
	// HeaderName carries the client-chosen idempotency key.
	HeaderName       = "Idempotency-Key"
	replayHeaderName = "X-Idempotent-Replay"
)

type middlewareConfig struct {
	header   string
	ttl      time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	optional bool
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL configures how long completed responses are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Optional lets requests without the header through unguarded.
func Optional() MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.optional = true }
}

const maxKeyLen = 255

// Middleware replays the stored response for a repeated Idempotency-Key, so a retried order
// submission never places a second order. Keys are scoped to the authenticated user.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{header: HeaderName, ttl: DefaultTTL, clock: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		g := &guard{store: store, cfg: cfg, next: next}
		return http.HandlerFunc(g.serve)
	}
}

type guard struct {
	store Store
	cfg   middlewareConfig
	next  http.Handler
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.cfg.header))
	switch {
	case key == "" && g.cfg.optional:
		g.next.ServeHTTP(w, r)
		return
	case key == "":
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.cfg.header+" header", http.StatusBadRequest))
		return
	case len(key) > maxKeyLen:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", g.cfg.header+" is too long", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	requester := requesterID(ctx)
	scoped := requester + "|" + key
	fingerprint := requestFingerprint(r, body, requester)

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", g.cfg.header+" already used for a different request", http.StatusUnprocessableEntity))
		return
	case err != nil:
		g.cfg.logger.Error("idempotency reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process "+g.cfg.header, http.StatusServiceUnavailable))
		return
	case reservation.State == ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this "+g.cfg.header+" is in progress", http.StatusConflict))
		return
	}

	captured := newCapture()
	g.next.ServeHTTP(captured, r)
	g.settle(context.WithoutCancel(ctx), scoped, fingerprint, captured)
	captured.copyTo(w)
}

// settle stores the captured response, or frees the key after a 5xx so the client can retry.
func (g *guard) settle(ctx context.Context, scoped, fingerprint string, c *capture) {
	if c.code() >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, scoped); err != nil {
			g.cfg.logger.Warn("idempotency release failed", zap.Error(err))
		}
		return
	}
	resp := Response{Status: c.code(), Headers: c.header, Body: c.body.Bytes()}
	if err := g.store.SaveResponse(ctx, scoped, fingerprint, resp, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.cfg.logger.Error("idempotency save failed", zap.Error(err))
	}
}

// bufferBody reads the body and puts an in-memory copy back for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	for _, part := range []string{strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, requester} {
		b.WriteString(part)
		b.WriteByte('|')
	}
	b.WriteString(sha256Hex(body))
	return sha256Hex([]byte(b.String()))
}

func requesterID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity.UID == "" {
		return "anonymous"
	}
	return identity.UID
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		header[name] = append(header[name], values...)
	}
	header.Set(replayHeaderName, "true")
	w.WriteHeader(cmp.Or(record.ResponseStatus, http.StatusOK))
	_, _ = w.Write(record.ResponseBody)
}

// capture buffers the downstream response until it has been stored.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *capture { return &capture{header: make(http.Header)} }

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(data []byte) (int, error) {
	c.WriteHeader(http.StatusOK)
	return c.body.Write(data)
}

func (c *capture) code() int { return cmp.Or(c.status, http.StatusOK) }

func (c *capture) copyTo(w http.ResponseWriter) {
	maps.Copy(w.Header(), c.header)
	w.WriteHeader(c.code())
	_, _ = w.Write(c.body.Bytes())
}
