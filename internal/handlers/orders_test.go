package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/platform/idempotency"
	"github.com/karimtraders/grocery/internal/platform/ratelimit"
	"github.com/karimtraders/grocery/internal/services"
)

func newOrderRouter(orders services.OrderService, checkout services.CheckoutService, opts ...OrderHandlersOption) http.Handler {
	h := NewOrderHandlers(nil, orders, checkout, opts...)
	return NewRouter(WithMiddlewares(asUser("u1")), WithOrderRoutes(h.Routes))
}

func TestOrderHandlers_PlaceOrder(t *testing.T) {
	var got services.PlaceOrderCommand
	router := newOrderRouter(&stubOrderService{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
			got = cmd
			return sampleOrder("ord_1"), nil
		},
	}, nil)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", map[string]any{
		"addressId":     "addr_1",
		"paymentMethod": "cash",
		"couponCode":    "SAVE10",
		"notes":         "ring twice",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected Location %q", loc)
	}
	if got.UserID != "u1" || got.AddressID != "addr_1" || got.PaymentMethod != domain.PaymentMethodCash || got.CouponCode != "SAVE10" {
		t.Fatalf("unexpected command: %+v", got)
	}
	body := decodeBody(t, rr)
	if body["orderNumber"] != "GR-20260314-000001" || body["status"] != "PENDING" {
		t.Fatalf("unexpected payload: %v", body)
	}
	if timeline := body["timeline"].([]any); len(timeline) != 1 {
		t.Fatalf("expected one timeline entry, got %v", timeline)
	}
}

func TestOrderHandlers_PlaceOrderRejectsUnknownPaymentMethod(t *testing.T) {
	router := newOrderRouter(&stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called")
			return services.Order{}, nil
		},
	}, nil)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", map[string]any{"addressId": "addr_1", "paymentMethod": "cheque"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlers_PlaceOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		check  func(t *testing.T, body map[string]any)
	}{
		{name: "empty cart", err: services.ErrOrderEmptyCart, status: http.StatusUnprocessableEntity, code: "empty_cart"},
		{name: "bad address", err: fmt.Errorf("lookup: %w", services.ErrOrderInvalidAddress), status: http.StatusUnprocessableEntity, code: "invalid_address"},
		{name: "wallet short", err: services.ErrOrderInsufficientBalance, status: http.StatusPaymentRequired, code: "insufficient_balance"},
		{name: "coupon expired", err: services.ErrCouponExpired, status: http.StatusUnprocessableEntity, code: "coupon_expired"},
		{name: "coupon exhausted", err: services.ErrCouponUsageExceeded, status: http.StatusUnprocessableEntity, code: "coupon_usage_exceeded"},
		{name: "conflict", err: services.ErrOrderConflict, status: http.StatusConflict, code: "order_conflict"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
		{
			name:   "stock",
			err:    &services.InsufficientStockError{ProductID: "milk", Requested: 4, Available: 1},
			status: http.StatusConflict,
			code:   "insufficient_stock",
			check: func(t *testing.T, body map[string]any) {
				if body["productId"] != "milk" || body["requested"].(float64) != 4 || body["available"].(float64) != 1 {
					t.Fatalf("unexpected stock details: %v", body)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newOrderRouter(&stubOrderService{
				placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}, nil)
			rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", map[string]any{"addressId": "addr_1", "paymentMethod": "WALLET"})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestOrderHandlers_PlaceOrderIdempotentReplay(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	svc := &stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return sampleOrder(fmt.Sprintf("ord_%d", calls)), nil
		},
	}
	router := newOrderRouter(svc, nil, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))
	body := map[string]any{"addressId": "addr_1", "paymentMethod": "CASH"}

	first := doJSON(t, router, http.MethodPost, "/api/v1/orders", body, idempotency.HeaderName, "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := doJSON(t, router, http.MethodPost, "/api/v1/orders", body, idempotency.HeaderName, "key-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on second response")
	}
	if decodeBody(t, second)["id"] != "ord_1" {
		t.Fatalf("expected replay of first order, got %s", second.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected one order placed, got %d", calls)
	}

	changed := doJSON(t, router, http.MethodPost, "/api/v1/orders", map[string]any{"addressId": "addr_2", "paymentMethod": "CASH"}, idempotency.HeaderName, "key-1")
	if changed.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reused key with new body, got %d", changed.Code)
	}
	missing := doJSON(t, router, http.MethodPost, "/api/v1/orders", body)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", missing.Code)
	}
}

func TestOrderHandlers_PlaceOrderRateLimited(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	router := newOrderRouter(&stubOrderService{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.Order, error) {
			return sampleOrder("ord_1"), nil
		},
	}, nil, WithOrderRateLimiter(ratelimit.NewMemory(2, time.Minute, func() time.Time { return now })))
	body := map[string]any{"addressId": "addr_1", "paymentMethod": "CASH"}

	for i := 0; i < 2; i++ {
		if rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", body); rr.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, rr.Code)
		}
	}
	rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", body)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	now = now.Add(time.Minute + time.Second)
	if rr := doJSON(t, router, http.MethodPost, "/api/v1/orders", body); rr.Code != http.StatusCreated {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestOrderHandlers_ListOrdersPassesFilter(t *testing.T) {
	var got services.OrderListFilter
	router := newOrderRouter(&stubOrderService{
		listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			got = filter
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder("ord_1")}, NextPageToken: "next"}, nil
		},
	}, nil)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/orders?status=pending,confirmed&status=DELIVERED&pageSize=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	want := []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusDelivered}
	if len(got.Status) != len(want) {
		t.Fatalf("unexpected statuses %v", got.Status)
	}
	for i := range want {
		if got.Status[i] != want[i] {
			t.Fatalf("status[%d] = %s, want %s", i, got.Status[i], want[i])
		}
	}
	if got.UserID != "u1" || got.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", got)
	}
	body := decodeBody(t, rr)
	if body["nextPageToken"] != "next" {
		t.Fatalf("expected next page token, got %v", body)
	}

	rr = doJSON(t, router, http.MethodGet, "/api/v1/orders?pageSize=abc", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page size, got %d", rr.Code)
	}
}

func TestOrderHandlers_GetOrderScopesToCaller(t *testing.T) {
	var got services.OrderQuery
	router := newOrderRouter(&stubOrderService{
		getFn: func(_ context.Context, query services.OrderQuery) (services.Order, error) {
			got = query
			return services.Order{}, services.ErrOrderNotFound
		},
	}, nil)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/orders/ord_9", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if got.OrderID != "ord_9" || got.UserID != "u1" || got.Admin {
		t.Fatalf("unexpected query %+v", got)
	}
}

func TestOrderHandlers_CancelOrder(t *testing.T) {
	var got services.CancelOrderCommand
	router := newOrderRouter(&stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			got = cmd
			if cmd.OrderID == "ord_shipped" {
				return services.Order{}, services.ErrOrderInvalidState
			}
			order := sampleOrder(cmd.OrderID)
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = cmd.Reason
			return order, nil
		},
	}, nil)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/orders/ord_1:cancel", map[string]any{"reason": "changed my mind"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.ActorID != "u1" || got.Admin || got.Reason != "changed my mind" {
		t.Fatalf("unexpected command %+v", got)
	}
	if decodeBody(t, rr)["cancelReason"] != "changed my mind" {
		t.Fatalf("expected cancel reason in payload")
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/orders/ord_shipped:cancel", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "invalid_state" {
		t.Fatalf("expected invalid_state, got %v", code)
	}
}

func TestOrderHandlers_PayOrder(t *testing.T) {
	var got services.StartPaymentCommand
	expires := time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)
	checkout := &stubCheckoutService{
		startFn: func(_ context.Context, cmd services.StartPaymentCommand) (services.CheckoutSession, error) {
			got = cmd
			if cmd.OrderID == "ord_paid" {
				return services.CheckoutSession{}, services.ErrCheckoutNotPayable
			}
			if cmd.OrderID == "ord_psp_down" {
				return services.CheckoutSession{}, services.ErrCheckoutPaymentFailed
			}
			return services.CheckoutSession{Provider: "stripe", SessionID: "cs_1", RedirectURL: "https://checkout.example/cs_1", ExpiresAt: expires}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, checkout)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/orders/ord_1:pay", map[string]any{"provider": "stripe", "successUrl": "https://app/ok"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_1" || got.UserID != "u1" || got.Provider != "stripe" || got.SuccessURL != "https://app/ok" {
		t.Fatalf("unexpected command %+v", got)
	}
	if body := decodeBody(t, rr); body["sessionId"] != "cs_1" || body["redirectUrl"] != "https://checkout.example/cs_1" {
		t.Fatalf("unexpected session payload %v", body)
	}

	if rr := doJSON(t, router, http.MethodPost, "/api/v1/orders/ord_paid:pay", nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodPost, "/api/v1/orders/ord_psp_down:pay", nil); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
}

func newAdminRouter(orders services.OrderService) http.Handler {
	h := NewAdminOrderHandlers(nil, orders)
	return NewRouter(WithMiddlewares(asUser("staff", auth.RoleAdmin)), WithAdminRoutes(h.Routes))
}

func TestAdminOrderHandlers_TransitionStatus(t *testing.T) {
	var got services.OrderStatusTransitionCommand
	router := newAdminRouter(&stubOrderService{
		transitionFn: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			got = cmd
			if cmd.TargetStatus == domain.OrderStatusPending {
				return services.Order{}, services.ErrOrderInvalidState
			}
			order := sampleOrder(cmd.OrderID)
			order.Status = cmd.TargetStatus
			return order, nil
		},
	})

	rr := doJSON(t, router, http.MethodPut, "/api/v1/admin/orders/ord_1/status", map[string]any{"status": "out_for_delivery", "note": "rider assigned"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TargetStatus != domain.OrderStatusOutForDelivery || got.ActorID != "staff" || got.Note != "rider assigned" {
		t.Fatalf("unexpected command %+v", got)
	}

	if rr := doJSON(t, router, http.MethodPut, "/api/v1/admin/orders/ord_1/status", map[string]any{"status": "LOST"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
	if rr := doJSON(t, router, http.MethodPut, "/api/v1/admin/orders/ord_1/status", map[string]any{"status": "PENDING"}); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for backwards transition, got %d", rr.Code)
	}
}

func TestAdminOrderHandlers_ListAndCancel(t *testing.T) {
	var filter services.OrderListFilter
	var cancel services.CancelOrderCommand
	router := newAdminRouter(&stubOrderService{
		listFn: func(_ context.Context, f services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			filter = f
			return domain.CursorPage[services.Order]{}, nil
		},
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			cancel = cmd
			return sampleOrder(cmd.OrderID), nil
		},
	})

	rr := doJSON(t, router, http.MethodGet, "/api/v1/admin/orders?userId=u7&status=PREPARING", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if filter.UserID != "u7" || len(filter.Status) != 1 || filter.Status[0] != domain.OrderStatusPreparing || filter.Pagination.PageSize != 50 {
		t.Fatalf("unexpected filter %+v", filter)
	}
	if items := decodeBody(t, rr)["items"].([]any); len(items) != 0 {
		t.Fatalf("expected empty list, got %v", items)
	}

	rr = doJSON(t, router, http.MethodPost, "/api/v1/admin/orders/ord_3:cancel", map[string]any{"reason": "out of area"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !cancel.Admin || cancel.ActorID != "staff" || cancel.OrderID != "ord_3" {
		t.Fatalf("unexpected cancel command %+v", cancel)
	}
}
