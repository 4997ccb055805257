package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/karimtraders/grocery/internal/domain"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
)

const couponsCollection = "coupons"

type couponDocument struct {
	Code           string    `firestore:"code"`
	Description    string    `firestore:"description,omitempty"`
	DiscountType   string    `firestore:"discountType"`
	Value          int64     `firestore:"value"`
	MinOrderAmount int64     `firestore:"minOrderAmount"`
	MaxDiscount    *int64    `firestore:"maxDiscount,omitempty"`
	UsageLimit     *int      `firestore:"usageLimit,omitempty"`
	UsedCount      int       `firestore:"usedCount"`
	ValidFrom      time.Time `firestore:"validFrom"`
	ValidUntil     time.Time `firestore:"validUntil"`
	IsActive       bool      `firestore:"isActive"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

var codeFolder = cases.Upper(language.Und)

// NormalizeCouponCode folds a user-entered code to the stored form.
func NormalizeCouponCode(code string) string {
	return codeFolder.String(strings.TrimSpace(code))
}

// CouponRepository looks coupons up by their folded code.
type CouponRepository struct {
	coupons *pfirestore.BaseRepository[couponDocument]
	clock   func() time.Time
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		coupons: pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection),
		clock:   time.Now,
	}, nil
}

// FindByCode returns the coupon whose stored code equals the folded input.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	normalized := NormalizeCouponCode(code)
	docs, err := r.coupons.Query(ctx, "", func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.NotFoundError("coupons.find", normalized)
	}
	doc := docs[0]
	return domain.Coupon{
		ID:             doc.ID,
		Code:           doc.Data.Code,
		Description:    doc.Data.Description,
		DiscountType:   domain.CouponDiscountType(doc.Data.DiscountType),
		Value:          doc.Data.Value,
		MinOrderAmount: doc.Data.MinOrderAmount,
		MaxDiscount:    doc.Data.MaxDiscount,
		UsageLimit:     doc.Data.UsageLimit,
		UsedCount:      doc.Data.UsedCount,
		ValidFrom:      doc.Data.ValidFrom.UTC(),
		ValidUntil:     doc.Data.ValidUntil.UTC(),
		IsActive:       doc.Data.IsActive,
		UpdatedAt:      doc.Data.UpdatedAt.UTC(),
	}, nil
}

// IncrementUsage bumps usedCount by one with a server-side increment.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	return r.coupons.Update(ctx, "", strings.TrimSpace(couponID), []firestore.Update{
		{Path: "usedCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
}
