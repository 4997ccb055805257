package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// Metadata keys attached to hosted checkout sessions and read back from webhooks.
const (
	MetadataOrderID = "order_id"
	MetadataUserID  = "user_id"
	MetadataPurpose = "purpose"

	PurposeOrder       = "order"
	PurposeWalletTopUp = "wallet_topup"
)

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name     string
	Quantity int64
	Amount   int64
}

// CheckoutSessionRequest captures the payload required to create a hosted checkout session.
type CheckoutSessionRequest struct {
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is the PSP session returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// Provider is implemented by PSP adapters able to open hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// Manager picks the PSP for a checkout: the caller's choice when given, otherwise the default.
// Stripe is the default whenever it is registered; a lone provider is the default otherwise.
type Manager struct {
	providers map[string]Provider
	fallback  string
}

// ManagerOption customises NewManager.
type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when the caller has no preference.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) { m.fallback = normaliseProvider(provider) }
}

// NewManager registers providers under their lower-cased names.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for name, provider := range providers {
		key := normaliseProvider(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = provider
		if len(providers) == 1 || key == ProviderStripe {
			m.fallback = key
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateCheckoutSession opens a session with the resolved provider and stamps its name on the
// result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, preferred string, req CheckoutSessionRequest) (CheckoutSession, error) {
	if m == nil {
		return CheckoutSession{}, errors.New("payments: no providers registered")
	}
	key := normaliseProvider(preferred)
	if key == "" {
		key = m.fallback
	}
	provider, ok := m.providers[key]
	if !ok {
		return CheckoutSession{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, key)
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

func normaliseProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
