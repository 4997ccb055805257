package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

var (
	// ErrCouponNotFound covers unknown and deactivated codes alike.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponExpired indicates now is outside the coupon validity window.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponUsageExceeded indicates the usage limit has been reached.
	ErrCouponUsageExceeded = errors.New("coupon: usage limit reached")
	// ErrCouponBelowMinimum indicates the subtotal is below the coupon minimum.
	ErrCouponBelowMinimum = errors.New("coupon: subtotal below minimum order amount")
)

var hundred = decimal.NewFromInt(100)

// EvaluateCoupon returns the discount coupon grants on subtotal at now. Checks run in a fixed
// order: existence and activity, validity window, usage limit, minimum amount. Percentage discounts
// round half-up to the minor unit and honour MaxDiscount; no discount exceeds the subtotal.
func EvaluateCoupon(coupon *Coupon, subtotal int64, now time.Time) (int64, error) {
	if coupon == nil || !coupon.IsActive {
		return 0, ErrCouponNotFound
	}
	if (!coupon.ValidFrom.IsZero() && now.Before(coupon.ValidFrom)) ||
		(!coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil)) {
		return 0, fmt.Errorf("%w: %s", ErrCouponExpired, coupon.Code)
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return 0, fmt.Errorf("%w: %s", ErrCouponUsageExceeded, coupon.Code)
	}
	if subtotal < coupon.MinOrderAmount {
		return 0, fmt.Errorf("%w: requires %d", ErrCouponBelowMinimum, coupon.MinOrderAmount)
	}

	var discount int64
	switch coupon.DiscountType {
	case domain.CouponDiscountPercentage:
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(coupon.Value)).
			Div(hundred).
			Round(0).
			IntPart()
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case domain.CouponDiscountFixed:
		discount = coupon.Value
	default:
		return 0, fmt.Errorf("%w: unsupported discount type %q", ErrCouponNotFound, coupon.DiscountType)
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Carts   CartService
	Rules   domain.PricingRules
	Clock   func() time.Time
}

type couponService struct {
	coupons repositories.CouponRepository
	carts   CartService
	rules   domain.PricingRules
	clock   func() time.Time
}

// NewCouponService constructs a CouponService.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &couponService{
		coupons: deps.Coupons,
		carts:   deps.Carts,
		rules:   deps.Rules,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *couponService) Evaluate(ctx context.Context, code string, subtotal int64) (CouponEvaluation, error) {
	if subtotal < 0 {
		return CouponEvaluation{}, fmt.Errorf("%w: subtotal must not be negative", ErrCouponBelowMinimum)
	}
	coupon, err := lookupCoupon(ctx, s.coupons, code)
	if err != nil {
		return CouponEvaluation{}, err
	}
	discount, err := EvaluateCoupon(&coupon, subtotal, s.clock())
	if err != nil {
		return CouponEvaluation{}, err
	}
	fee := s.rules.DeliveryFeeFor(subtotal)
	return CouponEvaluation{
		Coupon:      coupon,
		Subtotal:    subtotal,
		Discount:    discount,
		DeliveryFee: fee,
		Total:       domain.OrderTotal(subtotal, discount, fee),
	}, nil
}

func (s *couponService) Preview(ctx context.Context, userID, code string) (CouponEvaluation, error) {
	if s.carts == nil {
		return CouponEvaluation{}, errors.New("coupon service: cart service not configured")
	}
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return CouponEvaluation{}, err
	}
	return s.Evaluate(ctx, code, cart.Subtotal)
}

// lookupCoupon maps a missing code to ErrCouponNotFound; other repository failures pass through.
func lookupCoupon(ctx context.Context, coupons repositories.CouponRepository, code string) (Coupon, error) {
	if strings.TrimSpace(code) == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponNotFound)
	}
	coupon, err := coupons.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, strings.TrimSpace(code))
		}
		return Coupon{}, err
	}
	return coupon, nil
}
