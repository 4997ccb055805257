package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/karimtraders/grocery/internal/domain"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
	"github.com/karimtraders/grocery/internal/repositories"
)

// Registry wires every Firestore repository around one shared provider.
type Registry struct {
	provider *pfirestore.Provider

	products      *ProductRepository
	carts         *CartRepository
	coupons       *CouponRepository
	wallets       *WalletRepository
	addresses     *AddressRepository
	orders        *OrderRepository
	webhookLogs   *WebhookLogRepository
	webhookEvents *WebhookEventRepository
	notifications *NotificationRepository
	counters      *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs all repositories. rules drive stock labels and the wallet currency.
func NewRegistry(provider *pfirestore.Provider, rules domain.PricingRules) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.products, err = NewProductRepository(provider, rules); err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("carts: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("coupons: %w", err)
	}
	if reg.wallets, err = NewWalletRepository(provider, rules.Currency); err != nil {
		return nil, fmt.Errorf("wallets: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("addresses: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	if reg.webhookLogs, err = NewWebhookLogRepository(provider); err != nil {
		return nil, fmt.Errorf("webhook logs: %w", err)
	}
	if reg.webhookEvents, err = NewWebhookEventRepository(provider); err != nil {
		return nil, fmt.Errorf("webhook events: %w", err)
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("counters: %w", err)
	}
	return reg, nil
}

// RunInTx runs fn in a Firestore transaction. Firestore does not nest transactions, so a call made
// while one is already attached to ctx joins it.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore registry: transaction function is nil")
	}
	if _, inTx := pfirestore.TransactionFrom(ctx); inTx {
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

// Ping issues a cheap read used by readiness checks.
func (r *Registry) Ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(countersCollection).Limit(1).Documents(ctx).GetAll()
	return pfirestore.WrapError("ping", err)
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository           { return r.products }
func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository             { return r.coupons }
func (r *Registry) Wallets() repositories.WalletRepository             { return r.wallets }
func (r *Registry) Addresses() repositories.AddressRepository          { return r.addresses }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) WebhookLogs() repositories.WebhookLogRepository     { return r.webhookLogs }
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhookEvents }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) Counters() repositories.CounterRepository           { return r.counters }

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
