package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

var (
	// ErrCartInvalidInput signals the caller provided invalid data.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the product is unknown or no longer sold.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartOutOfStock indicates the requested quantity exceeds current stock.
	ErrCartOutOfStock = errors.New("cart: out of stock")
)

// OutOfStockError reports how many units of a product are still available.
type OutOfStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("cart: product %s requested %d but only %d available", e.ProductID, e.Requested, e.Available)
}

// Unwrap lets callers match ErrCartOutOfStock.
func (e *OutOfStockError) Unwrap() error { return ErrCartOutOfStock }

// CartServiceDeps bundles collaborators required to construct the cart service.
type CartServiceDeps struct {
	Carts      repositories.CartRepository
	Products   repositories.ProductRepository
	UnitOfWork repositories.UnitOfWork
	Rules      domain.PricingRules
	Clock      func() time.Time
}

type cartService struct {
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	rules      domain.PricingRules
	clock      func() time.Time
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &cartService{
		carts:      deps.Carts,
		products:   deps.Products,
		unitOfWork: unit,
		rules:      deps.Rules,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	items, err := s.carts.ListItems(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	products, err := s.products.FindByIDs(ctx, cartProductIDs(items))
	if err != nil {
		return Cart{}, err
	}
	return priceCart(userID, items, products, s.rules), nil
}

func (s *cartService) AddItem(ctx context.Context, cmd CartItemCommand) (Cart, error) {
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	return s.writeLine(ctx, cmd, func(existing int) int { return existing + cmd.Quantity })
}

func (s *cartService) SetQuantity(ctx context.Context, cmd CartItemCommand) (Cart, error) {
	if cmd.Quantity <= 0 {
		return s.RemoveItem(ctx, cmd.UserID, cmd.ProductID)
	}
	return s.writeLine(ctx, cmd, func(int) int { return cmd.Quantity })
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	userID, productID = strings.TrimSpace(userID), strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteItem(ctx, userID, productID); err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		items, err := s.carts.ListItems(txCtx, userID)
		if err != nil {
			return err
		}
		return s.carts.DeleteItems(txCtx, userID, cartProductIDs(items))
	})
}

func (s *cartService) Merge(ctx context.Context, userID string, lines []CartMergeLine) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	client := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Quantity <= 0 {
			continue
		}
		client[id] = max(client[id], line.Quantity)
	}

	now := s.clock()
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		items, err := s.carts.ListItems(txCtx, userID)
		if err != nil {
			return err
		}
		server := make(map[string]CartItem, len(items))
		ids := cartProductIDs(items)
		for _, item := range items {
			server[item.ProductID] = item
		}
		for id := range client {
			if _, ok := server[id]; !ok {
				ids = append(ids, id)
			}
		}
		products, err := s.products.FindByIDs(txCtx, ids)
		if err != nil {
			return err
		}

		var drop []string
		for id, qty := range client {
			existing, onServer := server[id]
			want := max(existing.Quantity, qty)
			product, ok := products[id]
			if !ok || !product.IsActive {
				continue
			}
			want = min(want, product.Stock)
			if want <= 0 {
				if onServer {
					drop = append(drop, id)
				}
				continue
			}
			if onServer && want == existing.Quantity {
				continue
			}
			item := CartItem{UserID: userID, ProductID: id, Quantity: want, AddedAt: now, UpdatedAt: now}
			if onServer {
				item.AddedAt = existing.AddedAt
			}
			if err := s.carts.UpsertItem(txCtx, item); err != nil {
				return err
			}
		}
		if len(drop) > 0 {
			return s.carts.DeleteItems(txCtx, userID, drop)
		}
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

// writeLine reads the current line and product in one transaction and stores the quantity computed
// by next, rejecting it when stock cannot cover it.
func (s *cartService) writeLine(ctx context.Context, cmd CartItemCommand, next func(existing int) int) (Cart, error) {
	userID, productID := strings.TrimSpace(cmd.UserID), strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	now := s.clock()
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.products.FindByID(txCtx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
			}
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		items, err := s.carts.ListItems(txCtx, userID)
		if err != nil {
			return err
		}
		line := CartItem{UserID: userID, ProductID: productID, AddedAt: now}
		for _, item := range items {
			if item.ProductID == productID {
				line = item
				break
			}
		}
		qty := next(line.Quantity)
		if qty > product.Stock {
			return &OutOfStockError{ProductID: productID, Requested: qty, Available: product.Stock}
		}
		line.Quantity = qty
		line.UpdatedAt = now
		return s.carts.UpsertItem(txCtx, line)
	})
	if err != nil {
		return Cart{}, err
	}
	return s.GetCart(ctx, userID)
}

// priceCart joins cart lines with current catalog data. Unknown or inactive products stay visible
// but are flagged unavailable and left out of the totals.
func priceCart(userID string, items []CartItem, products map[string]Product, rules domain.PricingRules) Cart {
	cart := Cart{UserID: userID, Currency: rules.Currency, Items: make([]CartLine, 0, len(items))}
	for _, item := range items {
		line := CartLine{ProductID: item.ProductID, Quantity: item.Quantity}
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive {
			line.Unavailable = true
			if ok {
				line.Name = product.Name
				line.ImageURL = product.ImageURL
				line.Unit = product.Unit
			}
			cart.Items = append(cart.Items, line)
			continue
		}
		line.Name = product.Name
		line.ImageURL = product.ImageURL
		line.Unit = product.Unit
		line.UnitPrice = product.Price
		line.LineTotal = product.Price * int64(item.Quantity)
		line.Stock = product.Stock
		line.StockStatus = product.StockStatus
		cart.Subtotal += line.LineTotal
		cart.Items = append(cart.Items, line)
	}
	cart.DeliveryFee = rules.DeliveryFeeFor(cart.Subtotal)
	cart.Total = domain.OrderTotal(cart.Subtotal, 0, cart.DeliveryFee)
	return cart
}

func cartProductIDs(items []CartItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
