package services

import (
	"context"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	Product           = domain.Product
	Cart              = domain.Cart
	CartLine          = domain.CartLine
	CartItem          = domain.CartItem
	Coupon            = domain.Coupon
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	PaymentStatus     = domain.PaymentStatus
	PaymentMethod     = domain.PaymentMethod
	Address           = domain.Address
	Wallet            = domain.Wallet
	WalletTransaction = domain.WalletTransaction
	WebhookLog        = domain.WebhookLog
	Notification      = domain.Notification
	CheckoutSession   = domain.CheckoutSession
	HealthReport      = domain.HealthReport
	OrderListFilter   = repositories.OrderListFilter
)

// CartService manages the live cart and its priced view.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd CartItemCommand) (Cart, error)
	SetQuantity(ctx context.Context, cmd CartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (Cart, error)
	Clear(ctx context.Context, userID string) error
	// Merge reconciles a client-held cart with the server copy, keeping the larger quantity per
	// product.
	Merge(ctx context.Context, userID string, lines []CartMergeLine) (Cart, error)
}

// CouponService evaluates promotional codes.
type CouponService interface {
	Evaluate(ctx context.Context, code string, subtotal int64) (CouponEvaluation, error)
	Preview(ctx context.Context, userID, code string) (CouponEvaluation, error)
}

// OrderService runs the order workflow: placement, cancellation and admin transitions.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// PaymentReconciliationService applies PSP webhooks to orders and wallets.
type PaymentReconciliationService interface {
	HandleWebhook(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error)
	ReplayWebhook(ctx context.Context, logID string) (WebhookResult, error)
}

// CheckoutService opens hosted payment pages for ONLINE orders.
type CheckoutService interface {
	StartPayment(ctx context.Context, cmd StartPaymentCommand) (CheckoutSession, error)
}

// WalletService exposes balances and top-ups.
type WalletService interface {
	GetWallet(ctx context.Context, userID string) (WalletSummary, error)
	StartTopUp(ctx context.Context, cmd WalletTopUpCommand) (CheckoutSession, error)
}

// NotificationService lists and acknowledges in-app notifications.
type NotificationService interface {
	List(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Notification], error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// CartItemCommand adds to or sets the quantity of one cart line.
type CartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// CartMergeLine is one line of a client-held cart.
type CartMergeLine struct {
	ProductID string
	Quantity  int
}

// CouponEvaluation reports the effect of a coupon on a subtotal.
type CouponEvaluation struct {
	Coupon      Coupon
	Subtotal    int64
	Discount    int64
	DeliveryFee int64
	Total       int64
}

// PlaceOrderCommand turns the caller's cart into an order.
type PlaceOrderCommand struct {
	UserID         string
	AddressID      string
	PaymentMethod  PaymentMethod
	DeliverySlotID string
	Notes          string
	CouponCode     string
}

// CancelOrderCommand cancels an order on behalf of its owner or an admin.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
	Admin   bool
}

// OrderStatusTransitionCommand moves an order to TargetStatus (admin only).
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
	Note         string
}

// OrderQuery loads one order. Non-admin callers only see their own orders.
type OrderQuery struct {
	OrderID string
	UserID  string
	Admin   bool
}

// WebhookDelivery is a raw inbound PSP callback.
type WebhookDelivery struct {
	Provider string
	Payload  []byte
	Header   map[string][]string
}

// WebhookResult summarises how a delivery was handled.
type WebhookResult struct {
	LogID          string
	Status         domain.WebhookStatus
	Outcome        string
	SignatureValid bool
}

// StartPaymentCommand opens a checkout session for an order.
type StartPaymentCommand struct {
	UserID     string
	OrderID    string
	Provider   string
	SuccessURL string
	CancelURL  string
}

// WalletTopUpCommand opens a checkout session that credits the wallet once captured.
type WalletTopUpCommand struct {
	UserID     string
	Amount     int64
	Provider   string
	SuccessURL string
	CancelURL  string
}

// WalletSummary is the wallet balance with the most recent ledger entries.
type WalletSummary struct {
	Wallet       Wallet
	Transactions []WalletTransaction
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// UserDirectory resolves the e-mail address for a user id.
type UserDirectory interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// WebhookArchive stores raw webhook payloads outside the primary database.
type WebhookArchive interface {
	Archive(ctx context.Context, log WebhookLog) error
}
