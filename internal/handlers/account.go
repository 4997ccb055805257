package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/httpx"
	"github.com/karimtraders/grocery/internal/platform/pagination"
	"github.com/karimtraders/grocery/internal/services"
)

// AccountHandlers serves the caller's wallet and in-app notifications.
type AccountHandlers struct {
	authn         *auth.Authenticator
	wallets       services.WalletService
	notifications services.NotificationService
}

// NewAccountHandlers constructs wallet and notification handlers.
func NewAccountHandlers(authn *auth.Authenticator, wallets services.WalletService, notifications services.NotificationService) *AccountHandlers {
	return &AccountHandlers{authn: authn, wallets: wallets, notifications: notifications}
}

// Routes registers /wallet and /notifications endpoints.
func (h *AccountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/wallet", h.getWallet)
	r.Post("/wallet:topup", h.topUp)
	r.Get("/notifications", h.listNotifications)
	r.Post("/notifications/{notificationID}:read", h.markRead)
}

type topUpRequest struct {
	Amount     int64  `json:"amount"`
	Provider   string `json:"provider"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

func (h *AccountHandlers) getWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallets == nil {
		serviceUnavailable(ctx, w, "wallet")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	summary, err := h.wallets.GetWallet(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildWalletPayload(summary))
}

func (h *AccountHandlers) topUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallets == nil {
		serviceUnavailable(ctx, w, "wallet")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req topUpRequest
	if !decodeJSONBody(w, r, defaultMaxBodySize, &req) {
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be positive", http.StatusBadRequest))
		return
	}
	session, err := h.wallets.StartTopUp(ctx, services.WalletTopUpCommand{
		UserID:     identity.UID,
		Amount:     req.Amount,
		Provider:   req.Provider,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCheckoutSessionPayload(session))
}

func (h *AccountHandlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.notifications.List(ctx, identity.UID, params.Domain())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildNotificationListPayload(page))
}

func (h *AccountHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.notifications == nil {
		serviceUnavailable(ctx, w, "notification")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(ctx, identity.UID, chi.URLParam(r, "notificationID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
