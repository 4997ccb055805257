package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/auth"
	"github.com/karimtraders/grocery/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubCartService struct {
	getFn    func(context.Context, string) (services.Cart, error)
	addFn    func(context.Context, services.CartItemCommand) (services.Cart, error)
	setFn    func(context.Context, services.CartItemCommand) (services.Cart, error)
	removeFn func(context.Context, string, string) (services.Cart, error)
	clearFn  func(context.Context, string) error
	mergeFn  func(context.Context, string, []services.CartMergeLine) (services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.CartItemCommand) (services.Cart, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) SetQuantity(ctx context.Context, cmd services.CartItemCommand) (services.Cart, error) {
	if s.setFn != nil {
		return s.setFn(ctx, cmd)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, productID string) (services.Cart, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, userID, productID)
	}
	return services.Cart{}, errNotStubbed
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	if s.clearFn != nil {
		return s.clearFn(ctx, userID)
	}
	return errNotStubbed
}

func (s *stubCartService) Merge(ctx context.Context, userID string, lines []services.CartMergeLine) (services.Cart, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, userID, lines)
	}
	return services.Cart{}, errNotStubbed
}

type stubCouponService struct {
	previewFn func(context.Context, string, string) (services.CouponEvaluation, error)
}

func (s *stubCouponService) Evaluate(context.Context, string, int64) (services.CouponEvaluation, error) {
	return services.CouponEvaluation{}, errNotStubbed
}

func (s *stubCouponService) Preview(ctx context.Context, userID, code string) (services.CouponEvaluation, error) {
	if s.previewFn != nil {
		return s.previewFn(ctx, userID, code)
	}
	return services.CouponEvaluation{}, errNotStubbed
}

type stubOrderService struct {
	placeFn      func(context.Context, services.PlaceOrderCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	getFn        func(context.Context, services.OrderQuery) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.OrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

type stubCheckoutService struct {
	startFn func(context.Context, services.StartPaymentCommand) (services.CheckoutSession, error)
}

func (s *stubCheckoutService) StartPayment(ctx context.Context, cmd services.StartPaymentCommand) (services.CheckoutSession, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.CheckoutSession{}, errNotStubbed
}

type stubWalletService struct {
	getFn   func(context.Context, string) (services.WalletSummary, error)
	topUpFn func(context.Context, services.WalletTopUpCommand) (services.CheckoutSession, error)
}

func (s *stubWalletService) GetWallet(ctx context.Context, userID string) (services.WalletSummary, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.WalletSummary{}, errNotStubbed
}

func (s *stubWalletService) StartTopUp(ctx context.Context, cmd services.WalletTopUpCommand) (services.CheckoutSession, error) {
	if s.topUpFn != nil {
		return s.topUpFn(ctx, cmd)
	}
	return services.CheckoutSession{}, errNotStubbed
}

type stubNotificationService struct {
	listFn     func(context.Context, string, services.Pagination) (domain.CursorPage[services.Notification], error)
	markReadFn func(context.Context, string, string) error
}

func (s *stubNotificationService) List(ctx context.Context, userID string, pager services.Pagination) (domain.CursorPage[services.Notification], error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID, pager)
	}
	return domain.CursorPage[services.Notification]{}, nil
}

func (s *stubNotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	if s.markReadFn != nil {
		return s.markReadFn(ctx, userID, notificationID)
	}
	return errNotStubbed
}

type stubReconciliationService struct {
	handleFn func(context.Context, services.WebhookDelivery) (services.WebhookResult, error)
	replayFn func(context.Context, string) (services.WebhookResult, error)
}

func (s *stubReconciliationService) HandleWebhook(ctx context.Context, delivery services.WebhookDelivery) (services.WebhookResult, error) {
	if s.handleFn != nil {
		return s.handleFn(ctx, delivery)
	}
	return services.WebhookResult{}, errNotStubbed
}

func (s *stubReconciliationService) ReplayWebhook(ctx context.Context, logID string) (services.WebhookResult, error) {
	if s.replayFn != nil {
		return s.replayFn(ctx, logID)
	}
	return services.WebhookResult{}, errNotStubbed
}

// asUser stands in for the Firebase middleware in tests.
func asUser(uid string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleCart(userID string) services.Cart {
	return services.Cart{
		UserID:   userID,
		Currency: "INR",
		Items: []services.CartLine{
			{ProductID: "apples", Name: "Apples", UnitPrice: 12000, Quantity: 2, LineTotal: 24000, StockStatus: domain.StockStatusInStock},
			{ProductID: "bread", Name: "Bread", UnitPrice: 4000, Quantity: 1, Unavailable: true},
		},
		Subtotal:    24000,
		DeliveryFee: 4000,
		Total:       28000,
	}
}

func sampleOrder(id string) services.Order {
	return services.Order{
		ID:            id,
		OrderNumber:   "GR-20260314-000001",
		UserID:        "u1",
		Currency:      "INR",
		Items:         []services.OrderItem{{ProductID: "apples", Name: "Apples", UnitPrice: 12000, Quantity: 2, LineTotal: 24000}},
		Subtotal:      24000,
		DeliveryFee:   4000,
		Total:         28000,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodCash,
		Timeline:      []domain.TimelineEntry{{Status: domain.OrderStatusPending, Title: "Order Placed"}},
	}
}
