package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/httpx"
	"github.com/karimtraders/grocery/internal/platform/pagination"
	"github.com/karimtraders/grocery/internal/platform/ratelimit"
	"github.com/karimtraders/grocery/internal/services"
)

const maxOrderBodySize = 8 * 1024

// OrderHandlers serves the caller's orders: placement, history, cancellation and online payment.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
	limiter     ratelimit.Limiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order placement with an Idempotency-Key middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// WithOrderRateLimiter caps order placement per user. A nil limiter disables the cap.
func WithOrderRateLimiter(limiter ratelimit.Limiter) OrderHandlersOption {
	return func(h *OrderHandlers) { h.limiter = limiter }
}

// NewOrderHandlers constructs order handlers guarded by Firebase authentication.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders, checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	place := []func(http.Handler) http.Handler{rateLimit(h.limiter, userRateKey)}
	if h.idempotency != nil {
		place = append(place, h.idempotency)
	}
	r.With(place...).Post("/orders", h.placeOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Post("/orders/{orderID}:pay", h.payOrder)
}

type placeOrderRequest struct {
	AddressID      string `json:"addressId"`
	PaymentMethod  string `json:"paymentMethod"`
	DeliverySlotID string `json:"deliverySlotId"`
	Notes          string `json:"notes"`
	CouponCode     string `json:"couponCode"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type payOrderRequest struct {
	Provider   string `json:"provider"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	method := domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod)))
	if !method.IsValid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be CASH, WALLET or ONLINE", http.StatusBadRequest))
		return
	}
	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:         identity.UID,
		AddressID:      req.AddressID,
		PaymentMethod:  method,
		DeliverySlotID: req.DeliverySlotID,
		Notes:          req.Notes,
		CouponCode:     req.CouponCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
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
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     identity.UID,
		Status:     parseStatusFilter(r),
		Pagination: params.Domain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  identity.UID,
		Admin:   identity.IsAdmin(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if r.ContentLength != 0 && !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req payOrderRequest
	if r.ContentLength != 0 && !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	session, err := h.checkout.StartPayment(ctx, services.StartPaymentCommand{
		UserID:     identity.UID,
		OrderID:    chi.URLParam(r, "orderID"),
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

// parseStatusFilter accepts ?status=PENDING&status=CONFIRMED or a comma separated list.
func parseStatusFilter(r *http.Request) []domain.OrderStatus {
	var out []domain.OrderStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
				out = append(out, domain.OrderStatus(part))
			}
		}
	}
	return out
}

// AdminOrderHandlers exposes order operations for staff with the admin role.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs admin handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/admin/orders", h.listOrders)
	r.Put("/admin/orders/{orderID}/status", h.transitionStatus)
	r.Post("/admin/orders/{orderID}:cancel", h.cancelOrder)
}

type statusTransitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 50})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("userId")),
		Status:     parseStatusFilter(r),
		Pagination: params.Domain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page))
}

func (h *AdminOrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req statusTransitionRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !target.IsValid() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: target,
		ActorID:      identity.UID,
		Note:         req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if r.ContentLength != 0 && !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
		Reason:  req.Reason,
		Admin:   true,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}
