package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/metrics"
	"github.com/karimtraders/grocery/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	notificationIDPrefix = "ntf_"
	walletTxnIDPrefix    = "wtx_"
	orderNumberPrefix    = "GR"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order cannot move to the requested state.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart indicates the cart has no lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderInvalidAddress indicates the address is missing or belongs to someone else.
	ErrOrderInvalidAddress = errors.New("order: invalid address")
	// ErrOrderInsufficientStock indicates a cart line exceeds current stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderInsufficientBalance indicates the wallet cannot cover the order total.
	ErrOrderInsufficientBalance = errors.New("order: insufficient wallet balance")
)

// InsufficientStockError names the first product that cannot be fulfilled.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("order: product %s requested %d but only %d in stock", e.ProductID, e.Requested, e.Available)
}

// Unwrap lets callers match ErrOrderInsufficientStock.
func (e *InsufficientStockError) Unwrap() error { return ErrOrderInsufficientStock }

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Carts         repositories.CartRepository
	Coupons       repositories.CouponRepository
	Wallets       repositories.WalletRepository
	Addresses     repositories.AddressRepository
	Notifications repositories.NotificationRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	Rules         domain.PricingRules
	Notifier      OrderNotifier
	Metrics       *metrics.Recorder
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	carts         repositories.CartRepository
	coupons       repositories.CouponRepository
	wallets       repositories.WalletRepository
	addresses     repositories.AddressRepository
	notifications repositories.NotificationRepository
	counters      repositories.CounterRepository
	unitOfWork    repositories.UnitOfWork
	rules         domain.PricingRules
	notifier      OrderNotifier
	metrics       *metrics.Recorder
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order service: cart repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("order service: coupon repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("order service: wallet repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("order service: address repository is required")
	case deps.Notifications == nil:
		return nil, errors.New("order service: notification repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:        deps.Orders,
		products:      deps.Products,
		carts:         deps.Carts,
		coupons:       deps.Coupons,
		wallets:       deps.Wallets,
		addresses:     deps.Addresses,
		notifications: deps.Notifications,
		counters:      deps.Counters,
		unitOfWork:    unit,
		rules:         deps.Rules,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder converts the user's cart into a PENDING order. Preconditions are checked in a fixed
// order (cart, address, stock, coupon, wallet balance) against data read inside the transaction
// that also writes the order, so a concurrent checkout either sees the decremented stock or is
// retried.
func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	method := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(cmd.PaymentMethod))))
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if !method.IsValid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	now := s.now()
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	var order Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		items, err := s.carts.ListItems(txCtx, userID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if len(items) == 0 {
			return ErrOrderEmptyCart
		}

		if addressID == "" {
			return fmt.Errorf("%w: address id is required", ErrOrderInvalidAddress)
		}
		address, err := s.addresses.FindByID(txCtx, userID, addressID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrOrderInvalidAddress, addressID)
			}
			return s.mapRepositoryError(err)
		}

		products, err := s.products.FindByIDs(txCtx, cartProductIDs(items))
		if err != nil {
			return s.mapRepositoryError(err)
		}
		lines := make([]OrderItem, 0, len(items))
		var subtotal int64
		for _, item := range items {
			product, ok := products[item.ProductID]
			if !ok || !product.IsActive {
				return &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity}
			}
			if product.Stock < item.Quantity {
				return &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: product.Stock}
			}
			line := OrderItem{
				ProductID: product.ID,
				Name:      product.Name,
				ImageURL:  product.ImageURL,
				Unit:      product.Unit,
				UnitPrice: product.Price,
				Quantity:  item.Quantity,
				LineTotal: product.Price * int64(item.Quantity),
			}
			subtotal += line.LineTotal
			lines = append(lines, line)
		}

		var (
			coupon   Coupon
			discount int64
		)
		if code := strings.TrimSpace(cmd.CouponCode); code != "" {
			coupon, err = lookupCoupon(txCtx, s.coupons, code)
			if err != nil {
				return err
			}
			if discount, err = EvaluateCoupon(&coupon, subtotal, now); err != nil {
				return err
			}
		}
		fee := s.rules.DeliveryFeeFor(subtotal)
		total := domain.OrderTotal(subtotal, discount, fee)

		if method == domain.PaymentMethodWallet {
			wallet, err := s.wallets.Get(txCtx, userID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if wallet.Balance < total {
				return fmt.Errorf("%w: balance %d, total %d", ErrOrderInsufficientBalance, wallet.Balance, total)
			}
		}

		// reads end here; everything below writes
		order = Order{
			ID:             s.nextID(orderIDPrefix),
			OrderNumber:    number,
			UserID:         userID,
			AddressID:      address.ID,
			Address:        address,
			Items:          lines,
			Currency:       s.rules.Currency,
			Subtotal:       subtotal,
			Discount:       discount,
			DeliveryFee:    fee,
			Total:          total,
			Status:         domain.OrderStatusPending,
			PaymentStatus:  domain.PaymentStatusPending,
			PaymentMethod:  method,
			CouponID:       coupon.ID,
			CouponCode:     coupon.Code,
			DeliverySlotID: strings.TrimSpace(cmd.DeliverySlotID),
			Notes:          strings.TrimSpace(cmd.Notes),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		appendTimeline(&order, domain.OrderStatusPending, "Order Placed",
			fmt.Sprintf("Order %s placed with %s payment", number, method), now)
		if method == domain.PaymentMethodWallet {
			order.PaymentStatus = domain.PaymentStatusPaid
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		for _, line := range lines {
			if _, err := s.products.DecrementStock(txCtx, line.ProductID, line.Quantity); err != nil {
				return s.mapStockError(err)
			}
		}
		if coupon.ID != "" {
			if err := s.coupons.IncrementUsage(txCtx, coupon.ID); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if method == domain.PaymentMethodWallet && total > 0 {
			wallet, err := s.wallets.Debit(txCtx, userID, total)
			if err != nil {
				var walletErr *repositories.WalletError
				if errors.As(err, &walletErr) {
					return fmt.Errorf("%w: %v", ErrOrderInsufficientBalance, walletErr)
				}
				return s.mapRepositoryError(err)
			}
			if err := s.wallets.AppendTransaction(txCtx, WalletTransaction{
				ID:           s.nextID(walletTxnIDPrefix),
				UserID:       userID,
				Type:         domain.WalletTransactionDebit,
				Amount:       total,
				BalanceAfter: wallet.Balance,
				Description:  "Payment for order " + number,
				ReferenceID:  order.ID,
				CreatedAt:    now,
			}); err != nil {
				return s.mapRepositoryError(err)
			}
		}
		if err := s.carts.DeleteItems(txCtx, userID, cartProductIDs(items)); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.notify(txCtx, order, "Order Placed", fmt.Sprintf("Your order %s has been placed.", number), now)
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.OrderPlaced(string(method))
	s.logger(ctx, "order.placed", map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"total":         order.Total,
		"paymentMethod": string(method),
	})
	s.dispatch(ctx, OrderNotice{Event: OrderEventPlaced, Order: order, ActorID: userID})
	return order, nil
}

// CancelOrder cancels on behalf of the owner (only while payment is pending) or an admin (any
// non-terminal state). Repeating a cancellation returns the order unchanged.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	now := s.now()
	var (
		order    Order
		previous OrderStatus
		changed  bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changed = false
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if !cmd.Admin && order.UserID != actorID {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.Status == domain.OrderStatusCancelled {
			return nil
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: %s order cannot be cancelled", ErrOrderInvalidState, order.Status)
		}
		if !cmd.Admin && order.PaymentStatus != domain.PaymentStatusPending {
			return fmt.Errorf("%w: payment is %s", ErrOrderInvalidState, order.PaymentStatus)
		}
		previous = order.Status
		reason := strings.TrimSpace(cmd.Reason)
		if reason == "" {
			reason = "Cancelled by customer"
			if cmd.Admin {
				reason = "Cancelled by store"
			}
		}
		if err := s.cancelInTx(txCtx, &order, reason, now); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		s.afterStatusChange(ctx, order, previous, actorID, cmd.Reason)
	}
	return order, nil
}

// TransitionStatus moves a non-terminal order to any defined status. Cancelling through this path
// applies the same stock and refund effects as CancelOrder.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.TargetStatus))))
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !target.IsValid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	now := s.now()
	var (
		order    Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is final", ErrOrderInvalidState, order.Status)
		}
		if order.Status == target {
			return fmt.Errorf("%w: order already %s", ErrOrderInvalidState, target)
		}
		previous = order.Status

		if target == domain.OrderStatusCancelled {
			reason := strings.TrimSpace(cmd.Note)
			if reason == "" {
				reason = "Cancelled by store"
			}
			return s.cancelInTx(txCtx, &order, reason, now)
		}

		order.Status = target
		order.UpdatedAt = now
		if target == domain.OrderStatusDelivered {
			order.DeliveredAt = &now
			if order.PaymentMethod == domain.PaymentMethodCash && order.PaymentStatus == domain.PaymentStatusPending {
				order.PaymentStatus = domain.PaymentStatusPaid
			}
		}
		title := statusTitle(target)
		appendTimeline(&order, target, title, strings.TrimSpace(cmd.Note), now)
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return s.notify(txCtx, order, title, statusMessage(order), now)
	})
	if err != nil {
		return Order{}, err
	}
	s.afterStatusChange(ctx, order, previous, cmd.ActorID, cmd.Note)
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !query.Admin && order.UserID != strings.TrimSpace(query.UserID) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	for _, status := range filter.Status {
		if !status.IsValid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// cancelInTx applies the cancellation effects to an order read earlier in the same transaction:
// stock goes back to the catalog and a paid order is refunded to the wallet. All reads happen
// before the first write.
func (s *orderService) cancelInTx(ctx context.Context, order *Order, reason string, now time.Time) error {
	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	refund := order.PaymentStatus == domain.PaymentStatusPaid && order.Total > 0
	if refund {
		if _, err := s.wallets.Get(ctx, order.UserID); err != nil {
			return s.mapRepositoryError(err)
		}
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.CancelReason = reason
	order.UpdatedAt = now
	appendTimeline(order, domain.OrderStatusCancelled, statusTitle(domain.OrderStatusCancelled), reason, now)

	for _, item := range order.Items {
		if _, ok := products[item.ProductID]; !ok {
			s.logger(ctx, "order.cancel.restock.skipped", map[string]any{
				"orderId":   order.ID,
				"productId": item.ProductID,
			})
			continue
		}
		if _, err := s.products.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			return s.mapStockError(err)
		}
	}
	if refund {
		if err := refundToWallet(ctx, s.wallets, order, s.nextID(walletTxnIDPrefix), now); err != nil {
			return s.mapRepositoryError(err)
		}
	}
	if err := s.orders.Update(ctx, *order); err != nil {
		return s.mapRepositoryError(err)
	}
	return s.notify(ctx, *order, statusTitle(domain.OrderStatusCancelled), statusMessage(*order), now)
}

func (s *orderService) afterStatusChange(ctx context.Context, order Order, previous OrderStatus, actorID, note string) {
	s.metrics.OrderStatusChanged(string(order.Status))
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": order.ID,
		"from":    string(previous),
		"to":      string(order.Status),
		"actor":   actorID,
	})
	event := OrderEventStatusChanged
	if order.Status == domain.OrderStatusCancelled {
		event = OrderEventCancelled
	}
	s.dispatch(ctx, OrderNotice{Event: event, Order: order, PreviousStatus: previous, ActorID: actorID, Note: note})
}

func (s *orderService) notify(ctx context.Context, order Order, title, message string, now time.Time) error {
	if err := s.notifications.Insert(ctx, orderNotification(s.nextID(notificationIDPrefix), order, title, message, now)); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *orderService) dispatch(ctx context.Context, notice OrderNotice) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notice)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) mapStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient, repositories.StockErrorProductNotFound:
			return &InsufficientStockError{ProductID: stockErr.ProductID, Requested: stockErr.Requested, Available: stockErr.Available}
		}
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, stockErr)
	}
	return s.mapRepositoryError(err)
}

// generateOrderNumber allocates GR-YYYYMMDD-NNNNNN from a per-day counter. The counter runs in its
// own transaction, so a rejected checkout leaves a gap in the sequence.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, "orders-"+day, 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate order number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, day, seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextID(prefix string) string {
	return prefix + s.newID()
}

// refundToWallet credits the order total back and records the ledger entry. The wallet must have
// been read earlier in the transaction.
func refundToWallet(ctx context.Context, wallets repositories.WalletRepository, order *Order, txnID string, now time.Time) error {
	wallet, err := wallets.Credit(ctx, order.UserID, order.Total)
	if err != nil {
		return err
	}
	if err := wallets.AppendTransaction(ctx, WalletTransaction{
		ID:           txnID,
		UserID:       order.UserID,
		Type:         domain.WalletTransactionCredit,
		Amount:       order.Total,
		BalanceAfter: wallet.Balance,
		Description:  "Refund for order " + order.OrderNumber,
		ReferenceID:  order.ID,
		CreatedAt:    now,
	}); err != nil {
		return err
	}
	order.PaymentStatus = domain.PaymentStatusRefunded
	return nil
}

func appendTimeline(order *Order, status OrderStatus, title, description string, now time.Time) {
	order.Timeline = append(slices.Clone(order.Timeline), domain.TimelineEntry{
		Status:      status,
		Title:       title,
		Description: description,
		CreatedAt:   now,
	})
}

func statusTitle(status OrderStatus) string {
	switch status {
	case domain.OrderStatusPending:
		return "Order Pending"
	case domain.OrderStatusConfirmed:
		return "Order Confirmed"
	case domain.OrderStatusPreparing:
		return "Preparing Order"
	case domain.OrderStatusOutForDelivery:
		return "Out for Delivery"
	case domain.OrderStatusDelivered:
		return "Order Delivered"
	case domain.OrderStatusCancelled:
		return "Order Cancelled"
	default:
		return "Order Updated"
	}
}

func statusMessage(order Order) string {
	switch order.Status {
	case domain.OrderStatusCancelled:
		if order.PaymentStatus == domain.PaymentStatusRefunded {
			return fmt.Sprintf("Your order %s was cancelled and the amount refunded to your wallet.", order.OrderNumber)
		}
		return fmt.Sprintf("Your order %s was cancelled.", order.OrderNumber)
	case domain.OrderStatusDelivered:
		return fmt.Sprintf("Your order %s has been delivered.", order.OrderNumber)
	default:
		return fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, strings.ToLower(statusLabel(order.Status)))
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
