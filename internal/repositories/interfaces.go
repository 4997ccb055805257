package repositories

import (
	"context"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Wallets() WalletRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	WebhookLogs() WebhookLogRepository
	WebhookEvents() WebhookEventRepository
	Notifications() NotificationRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one atomic transaction. Inside fn every read must
// happen before the first write; repositories reuse the snapshots read earlier in the same
// transaction when they mutate a document. fn may run more than once on contention.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository is the catalog store used by carts and orders.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// DecrementStock removes qty units only when the resulting stock stays non-negative and
	// returns the recomputed stock status. Violations return *StockError.
	DecrementStock(ctx context.Context, productID string, qty int) (domain.StockStatus, error)
	IncrementStock(ctx context.Context, productID string, qty int) (domain.StockStatus, error)
}

// CartRepository persists per-user cart lines keyed by product.
type CartRepository interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	UpsertItem(ctx context.Context, item domain.CartItem) error
	DeleteItem(ctx context.Context, userID, productID string) error
	// DeleteItems removes the given lines without reading them first so it is safe after writes
	// inside a transaction.
	DeleteItems(ctx context.Context, userID string, productIDs []string) error
}

// CouponRepository looks up coupons and tracks usage.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	IncrementUsage(ctx context.Context, couponID string) error
}

// WalletRepository manages balances and the append-only ledger.
type WalletRepository interface {
	// Get returns a zero-balance wallet when none exists yet.
	Get(ctx context.Context, userID string) (domain.Wallet, error)
	// Debit fails with *WalletError when the balance would become negative.
	Debit(ctx context.Context, userID string, amount int64) (domain.Wallet, error)
	Credit(ctx context.Context, userID string, amount int64) (domain.Wallet, error)
	AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error)
}

// AddressRepository reads user delivery addresses.
type AddressRepository interface {
	FindByID(ctx context.Context, userID, addressID string) (domain.Address, error)
	List(ctx context.Context, userID string) ([]domain.Address, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// OrderRepository persists orders with their items and timeline.
type OrderRepository interface {
	// Insert fails with a conflict error when the order id is already taken.
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// WebhookLogUpdate carries the mutable fields of a webhook log.
type WebhookLogUpdate struct {
	Status      domain.WebhookStatus
	EventType   string
	EventID     string
	Error       string
	Outcome     string
	ProcessedAt time.Time
	Attempts    int
}

// WebhookLogRepository records every inbound webhook delivery.
type WebhookLogRepository interface {
	Insert(ctx context.Context, log domain.WebhookLog) error
	Update(ctx context.Context, logID string, update WebhookLogUpdate) error
	FindByID(ctx context.Context, logID string) (domain.WebhookLog, error)
}

// WebhookEventRepository claims provider event ids so a redelivered event is applied once.
type WebhookEventRepository interface {
	// Claim fails with a conflict error when the event was already claimed.
	Claim(ctx context.Context, provider, eventID, logID string, at time.Time) error
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error)
	MarkRead(ctx context.Context, userID, notificationID string) error
}

// CounterRepository provides monotonic sequences stored transactionally.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
