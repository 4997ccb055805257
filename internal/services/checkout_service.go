package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/repositories"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutNotPayable indicates the order is not an unpaid ONLINE order.
	ErrCheckoutNotPayable = errors.New("checkout: order is not awaiting online payment")
	// ErrCheckoutPaymentFailed indicates the PSP session could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment provider error")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, preferred string, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Payments   checkoutSessionManager
	Users      UserDirectory
	SuccessURL string
	CancelURL  string
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	payments   checkoutSessionManager
	users      UserDirectory
	successURL string
	cancelURL  string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		orders:     deps.Orders,
		unitOfWork: unit,
		payments:   deps.Payments,
		users:      deps.Users,
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// StartPayment opens a hosted checkout for a PENDING ONLINE order whose payment is pending or
// previously failed. The order id travels in the session metadata and comes back on the webhook.
func (s *checkoutService) StartPayment(ctx context.Context, cmd StartPaymentCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id and order id are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSession{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return CheckoutSession{}, err
	}
	if order.UserID != userID {
		return CheckoutSession{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err := payable(order); err != nil {
		return CheckoutSession{}, err
	}

	req := payments.CheckoutSessionRequest{
		Amount:     order.Total,
		Currency:   order.Currency,
		SuccessURL: firstNonBlank(cmd.SuccessURL, s.successURL),
		CancelURL:  firstNonBlank(cmd.CancelURL, s.cancelURL),
		Metadata: map[string]string{
			payments.MetadataOrderID: order.ID,
			payments.MetadataUserID:  order.UserID,
			payments.MetadataPurpose: payments.PurposeOrder,
		},
		IdempotencyKey: fmt.Sprintf("checkout:%s:%s", order.ID, order.PaymentStatus),
		Items:          []payments.CheckoutLineItem{{Name: "Order " + order.OrderNumber, Quantity: 1, Amount: order.Total}},
	}
	if s.users != nil {
		if email, err := s.users.LookupEmail(ctx, userID); err == nil {
			req.CustomerEmail = email
		}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, cmd.Provider, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		s.logger(ctx, "checkout.session.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		if payable(current) != nil {
			return nil
		}
		current.PaymentProvider = session.Provider
		current.UpdatedAt = s.now()
		return s.orders.Update(txCtx, current)
	})
	if err != nil {
		s.logger(ctx, "checkout.order.update.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"orderId":   order.ID,
		"provider":  session.Provider,
		"sessionId": session.ID,
	})
	return CheckoutSession{
		Provider:    session.Provider,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func payable(order Order) error {
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return fmt.Errorf("%w: payment method is %s", ErrCheckoutNotPayable, order.PaymentMethod)
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: order is %s", ErrCheckoutNotPayable, order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusFailed {
		return fmt.Errorf("%w: payment is %s", ErrCheckoutNotPayable, order.PaymentStatus)
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
