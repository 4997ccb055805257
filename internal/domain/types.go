package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// StockStatus is the label derived from a product's numeric stock against the low-stock threshold.
type StockStatus string

const (
	StockStatusInStock    StockStatus = "IN_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// Product is the catalog record read by the cart and order workflow.
type Product struct {
	ID          string
	Name        string
	ImageURL    string
	Unit        string
	Price       int64
	Stock       int
	StockStatus StockStatus
	IsActive    bool
	UpdatedAt   time.Time
}

// CartItem is one (user, product) line in a live cart.
type CartItem struct {
	UserID    string
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// CartLine joins a cart item with the product's current catalog values.
type CartLine struct {
	ProductID   string
	Name        string
	ImageURL    string
	Unit        string
	UnitPrice   int64
	Quantity    int
	LineTotal   int64
	Stock       int
	StockStatus StockStatus
	Unavailable bool
}

// Cart is the priced view of a user's cart at current catalog prices.
type Cart struct {
	UserID      string
	Currency    string
	Items       []CartLine
	Subtotal    int64
	DeliveryFee int64
	Total       int64
}

// CouponDiscountType enumerates the supported coupon discount formulas.
type CouponDiscountType string

const (
	CouponDiscountPercentage CouponDiscountType = "PERCENTAGE"
	CouponDiscountFixed      CouponDiscountType = "FIXED"
)

// Coupon describes a promotional code that reduces an order subtotal.
type Coupon struct {
	ID             string
	Code           string
	Description    string
	DiscountType   CouponDiscountType
	Value          int64
	MinOrderAmount int64
	MaxDiscount    *int64
	UsageLimit     *int
	UsedCount      int
	ValidFrom      time.Time
	ValidUntil     time.Time
	IsActive       bool
	UpdatedAt      time.Time
}

// OrderStatus enumerates the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// IsValid reports whether the status is one of the defined lifecycle states.
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the payment lifecycle independently from fulfilment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentMethod selects how an order is settled.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodWallet PaymentMethod = "WALLET"
	PaymentMethodOnline PaymentMethod = "ONLINE"
)

// IsValid reports whether the payment method is supported.
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodWallet || m == PaymentMethodOnline
}

// Address is a delivery address owned by a user.
type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Phone      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem snapshots catalog values at the time the order was placed.
type OrderItem struct {
	ProductID string
	Name      string
	ImageURL  string
	Unit      string
	UnitPrice int64
	Quantity  int
	LineTotal int64
}

// TimelineEntry is one append-only audit record on an order.
type TimelineEntry struct {
	Status      OrderStatus
	Title       string
	Description string
	CreatedAt   time.Time
}

// Order is the persisted aggregate created from a cart snapshot.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	AddressID         string
	Address           Address
	Items             []OrderItem
	Currency          string
	Subtotal          int64
	Discount          int64
	DeliveryFee       int64
	Total             int64
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     PaymentMethod
	CouponID          string
	CouponCode        string
	PaymentProvider   string
	ProviderPaymentID string
	DeliverySlotID    string
	Notes             string
	CancelReason      string
	Timeline          []TimelineEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// Wallet holds a user's stored-value balance.
type Wallet struct {
	UserID    string
	Currency  string
	Balance   int64
	UpdatedAt time.Time
}

// WalletTransactionType distinguishes credits from debits.
type WalletTransactionType string

const (
	WalletTransactionCredit WalletTransactionType = "CREDIT"
	WalletTransactionDebit  WalletTransactionType = "DEBIT"
)

// WalletTransaction is an append-only ledger entry against a wallet.
type WalletTransaction struct {
	ID           string
	UserID       string
	Type         WalletTransactionType
	Amount       int64
	BalanceAfter int64
	Description  string
	ReferenceID  string
	CreatedAt    time.Time
}

// WebhookStatus is the processing state of an inbound webhook delivery.
type WebhookStatus string

const (
	WebhookStatusPending WebhookStatus = "PENDING"
	WebhookStatusSuccess WebhookStatus = "SUCCESS"
	WebhookStatusFailed  WebhookStatus = "FAILED"
)

// WebhookEventSignatureFailed is recorded as the event type when verification fails.
const WebhookEventSignatureFailed = "SIGNATURE_FAILED"

// WebhookLog durably records one inbound payment-provider callback.
type WebhookLog struct {
	ID             string
	Provider       string
	EventType      string
	EventID        string
	RawPayload     []byte
	Status         WebhookStatus
	Error          string
	Outcome        string
	SignatureValid bool
	Attempts       int
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
}

// NotificationType groups in-app notifications.
type NotificationType string

const (
	NotificationTypeOrder     NotificationType = "ORDER"
	NotificationTypeWallet    NotificationType = "WALLET"
	NotificationTypePromotion NotificationType = "PROMOTION"
	NotificationTypeSystem    NotificationType = "SYSTEM"
)

// Notification is an in-app message shown to a user.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	IsRead    bool
	CreatedAt time.Time
}

// CheckoutSession describes a hosted payment page created with a PSP.
type CheckoutSession struct {
	Provider    string
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency probes for the health endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
