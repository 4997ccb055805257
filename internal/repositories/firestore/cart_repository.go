package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/karimtraders/grocery/internal/domain"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
)

const (
	usersCollection     = "users"
	cartItemsCollection = "cartItems"
)

type cartItemDocument struct {
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository persists cart lines under users/{uid}/cartItems/{productID}, which makes the
// (user, product) pair unique by construction.
type CartRepository struct {
	items *pfirestore.BaseRepository[cartItemDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		items: pfirestore.NewSubcollectionRepository[cartItemDocument](provider, usersCollection, cartItemsCollection),
	}, nil
}

// ListItems returns the user's cart lines ordered by when they were first added.
func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	uid := strings.TrimSpace(userID)
	docs, err := r.items.Query(ctx, uid, func(q firestore.Query) firestore.Query {
		return q.OrderBy("addedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.CartItem{
			UserID:    uid,
			ProductID: doc.ID,
			Quantity:  doc.Data.Quantity,
			AddedAt:   doc.Data.AddedAt.UTC(),
			UpdatedAt: doc.Data.UpdatedAt.UTC(),
		})
	}
	return items, nil
}

// UpsertItem writes the line, replacing any previous quantity.
func (r *CartRepository) UpsertItem(ctx context.Context, item domain.CartItem) error {
	addedAt := item.AddedAt.UTC()
	if addedAt.IsZero() {
		addedAt = item.UpdatedAt.UTC()
	}
	return r.items.Set(ctx, strings.TrimSpace(item.UserID), strings.TrimSpace(item.ProductID), cartItemDocument{
		Quantity:  item.Quantity,
		AddedAt:   addedAt,
		UpdatedAt: item.UpdatedAt.UTC(),
	})
}

// DeleteItem removes a single line. Deleting a missing line is not an error.
func (r *CartRepository) DeleteItem(ctx context.Context, userID, productID string) error {
	return r.items.Delete(ctx, strings.TrimSpace(userID), strings.TrimSpace(productID))
}

// DeleteItems removes the listed lines.
func (r *CartRepository) DeleteItems(ctx context.Context, userID string, productIDs []string) error {
	uid := strings.TrimSpace(userID)
	for _, id := range uniqueTrimmed(productIDs) {
		if err := r.items.Delete(ctx, uid, id); err != nil {
			return err
		}
	}
	return nil
}
