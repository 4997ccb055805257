package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/platform/config"
	"github.com/karimtraders/grocery/internal/platform/metrics"
	"github.com/karimtraders/grocery/internal/platform/observability"
	"github.com/karimtraders/grocery/internal/repositories"
	"github.com/karimtraders/grocery/internal/services"
)

// CheckoutSessions opens hosted payment pages. *payments.Manager satisfies it.
type CheckoutSessions interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// Infra carries the already-dialled clients the services are built on. Only Registry is
// required; a nil collaborator switches the dependent feature off.
type Infra struct {
	Registry  repositories.Registry
	Health    repositories.HealthRepository
	Checkout  CheckoutSessions
	Verifiers []payments.WebhookVerifier
	Archive   services.WebhookArchive
	Emails    services.EmailSender
	Events    services.OrderEventPublisher
	Users     services.UserDirectory
	Metrics   *metrics.Recorder
	Build     services.BuildInfo
	Logger    *zap.Logger
	Clock     func() time.Time
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart          services.CartService
	Coupons       services.CouponService
	Orders        services.OrderService
	Checkout      services.CheckoutService
	Wallets       services.WalletService
	Notifications services.NotificationService
	Payments      services.PaymentReconciliationService
	System        services.SystemService
	Dispatcher    *services.NotificationDispatcher
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// PricingRules maps the pricing section of the configuration onto the domain rules.
func PricingRules(cfg config.Config) domain.PricingRules {
	return domain.PricingRules{
		Currency:              cfg.Pricing.Currency,
		FreeDeliveryThreshold: cfg.Pricing.FreeDeliveryThreshold,
		DeliveryFee:           cfg.Pricing.DeliveryFee,
		LowStockThreshold:     cfg.Pricing.LowStockThreshold,
	}
}

// NewContainer constructs the runtime dependencies. Tests supply an in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, infra Infra) (*Container, error) {
	if infra.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(ctx, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: infra.Registry,
		Services:     svc,
	}, nil
}

// Close waits for in-flight notifications, then releases the repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Services.Dispatcher != nil {
		done := make(chan struct{})
		go func() {
			c.Services.Dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("wait for notifications: %w", ctx.Err())
		}
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, infra Infra) (Services, error) {
	var svc Services
	reg := infra.Registry
	rules := PricingRules(cfg)
	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(infra.Logger.Named(name))
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		UnitOfWork: reg,
		Rules:      rules,
		Clock:      infra.Clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Carts:   cartSvc,
		Rules:   rules,
		Clock:   infra.Clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	dispatcherDeps := services.NotificationDispatcherDeps{
		Events:  infra.Events,
		Metrics: infra.Metrics,
		From:    cfg.Email.From,
		Timeout: cfg.Email.SendTimeout,
		Async:   true,
		Clock:   infra.Clock,
		Logger:  eventLogger("notifications"),
	}
	if infra.Emails != nil && infra.Users != nil {
		renderer, err := services.NewEmailRenderer(language.MustParse("en-IN"))
		if err != nil {
			return Services{}, fmt.Errorf("build email renderer: %w", err)
		}
		dispatcherDeps.Emails = infra.Emails
		dispatcherDeps.Users = infra.Users
		dispatcherDeps.Renderer = renderer
	}
	dispatcher, err := services.NewNotificationDispatcher(dispatcherDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build notification dispatcher: %w", err)
	}
	svc.Dispatcher = dispatcher

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Products:      reg.Products(),
		Carts:         reg.Carts(),
		Coupons:       reg.Coupons(),
		Wallets:       reg.Wallets(),
		Addresses:     reg.Addresses(),
		Notifications: reg.Notifications(),
		Counters:      reg.Counters(),
		UnitOfWork:    reg,
		Rules:         rules,
		Notifier:      dispatcher,
		Metrics:       infra.Metrics,
		Clock:         infra.Clock,
		Logger:        eventLogger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	notificationSvc, err := services.NewNotificationService(reg.Notifications())
	if err != nil {
		return Services{}, fmt.Errorf("build notification service: %w", err)
	}
	svc.Notifications = notificationSvc

	walletDeps := services.WalletServiceDeps{
		Wallets:    reg.Wallets(),
		Currency:   rules.Currency,
		SuccessURL: cfg.PSP.CheckoutSuccessURL,
		CancelURL:  cfg.PSP.CheckoutCancelURL,
		Logger:     eventLogger("wallet"),
	}
	if infra.Checkout != nil {
		walletDeps.Payments = infra.Checkout

		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:     reg.Orders(),
			UnitOfWork: reg,
			Payments:   infra.Checkout,
			Users:      infra.Users,
			SuccessURL: cfg.PSP.CheckoutSuccessURL,
			CancelURL:  cfg.PSP.CheckoutCancelURL,
			Clock:      infra.Clock,
			Logger:     eventLogger("checkout"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}
	walletSvc, err := services.NewWalletService(walletDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build wallet service: %w", err)
	}
	svc.Wallets = walletSvc

	if len(infra.Verifiers) > 0 {
		reconciliation, err := services.NewPaymentReconciliationService(services.PaymentReconciliationDeps{
			Logs:          reg.WebhookLogs(),
			Events:        reg.WebhookEvents(),
			Orders:        reg.Orders(),
			Wallets:       reg.Wallets(),
			Notifications: reg.Notifications(),
			UnitOfWork:    reg,
			Verifiers:     infra.Verifiers,
			Archive:       infra.Archive,
			Notifier:      dispatcher,
			Metrics:       infra.Metrics,
			Clock:         infra.Clock,
			Logger:        eventLogger("webhooks"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment reconciliation service: %w", err)
		}
		svc.Payments = reconciliation
	}

	if infra.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			Health: infra.Health,
			Clock:  infra.Clock,
			Build:  infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
