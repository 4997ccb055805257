package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karimtraders/grocery/internal/platform/httpx"
	"github.com/karimtraders/grocery/internal/platform/ratelimit"
	"github.com/karimtraders/grocery/internal/services"
)

// PSPs send payloads well under this; anything larger is not a payment event.
const maxWebhookBodySize = 512 * 1024

// WebhookHandlers receives PSP callbacks. Authentication is the provider signature, checked by
// the reconciliation service against the raw body.
type WebhookHandlers struct {
	payments services.PaymentReconciliationService
	limiter  ratelimit.Limiter
	maxBody  int64
}

// WebhookHandlersOption customises WebhookHandlers.
type WebhookHandlersOption func(*WebhookHandlers)

// WithWebhookRateLimiter caps deliveries per source IP. A nil limiter disables the cap.
func WithWebhookRateLimiter(limiter ratelimit.Limiter) WebhookHandlersOption {
	return func(h *WebhookHandlers) { h.limiter = limiter }
}

// WithWebhookBodyLimit overrides the maximum accepted payload size in bytes.
func WithWebhookBodyLimit(limit int64) WebhookHandlersOption {
	return func(h *WebhookHandlers) {
		if limit > 0 {
			h.maxBody = limit
		}
	}
}

// NewWebhookHandlers constructs the webhook endpoint handlers.
func NewWebhookHandlers(payments services.PaymentReconciliationService, opts ...WebhookHandlersOption) *WebhookHandlers {
	h := &WebhookHandlers{payments: payments, maxBody: maxWebhookBodySize}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /webhooks/payments/{provider}.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimit(h.limiter, ipRateKey)).Post("/webhooks/payments/{provider}", h.receive)
}

type webhookResultPayload struct {
	LogID   string `json:"logId,omitempty"`
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
}

func (h *WebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}
	body, ok := readBody(w, r, h.maxBody)
	if !ok {
		return
	}

	result, err := h.payments.HandleWebhook(ctx, services.WebhookDelivery{
		Provider: chi.URLParam(r, "provider"),
		Payload:  body,
		Header:   r.Header.Clone(),
	})
	if err != nil {
		// everything except a bad signature or unknown provider is worth a PSP retry
		if errors.Is(err, services.ErrWebhookSignatureInvalid) || errors.Is(err, services.ErrWebhookUnknownProvider) {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_not_recorded", "delivery could not be recorded", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResultPayload{
		LogID:   result.LogID,
		Status:  string(result.Status),
		Outcome: result.Outcome,
	})
}

// InternalHandlers exposes operator endpoints reachable only with a Google-signed OIDC token.
type InternalHandlers struct {
	payments services.PaymentReconciliationService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(payments services.PaymentReconciliationService) *InternalHandlers {
	return &InternalHandlers{payments: payments}
}

// Routes registers /internal endpoints. The OIDC guard is applied by the router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/internal/webhooks/{logID}:replay", h.replayWebhook)
}

func (h *InternalHandlers) replayWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "webhook")
		return
	}
	result, err := h.payments.ReplayWebhook(ctx, chi.URLParam(r, "logID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResultPayload{
		LogID:   result.LogID,
		Status:  string(result.Status),
		Outcome: result.Outcome,
	})
}
