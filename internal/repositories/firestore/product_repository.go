package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/karimtraders/grocery/internal/domain"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
	"github.com/karimtraders/grocery/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name        string    `firestore:"name"`
	ImageURL    string    `firestore:"imageUrl,omitempty"`
	Unit        string    `firestore:"unit,omitempty"`
	Price       int64     `firestore:"price"`
	Stock       int       `firestore:"stock"`
	StockStatus string    `firestore:"stockStatus"`
	IsActive    bool      `firestore:"isActive"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// ProductRepository reads catalog products and applies conditional stock adjustments.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	rules    domain.PricingRules
	clock    func() time.Time
}

// NewProductRepository constructs a Firestore-backed catalog repository. rules supply the low-stock
// threshold used when stock status labels are recomputed.
func NewProductRepository(provider *pfirestore.Provider, rules domain.PricingRules) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
		rules:    rules,
		clock:    time.Now,
	}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, "", strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// FindByIDs loads several products in one round trip; unknown ids are omitted.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	ids := uniqueTrimmed(productIDs)
	docs, err := r.products.GetMany(ctx, "", ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		out[id] = decodeProduct(id, doc.Data)
	}
	return out, nil
}

// DecrementStock removes qty units if the resulting stock stays non-negative.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, qty int) (domain.StockStatus, error) {
	if qty <= 0 {
		return "", repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, qty, 0)
	}
	return r.adjust(ctx, productID, -qty)
}

// IncrementStock returns qty units to stock.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, qty int) (domain.StockStatus, error) {
	if qty <= 0 {
		return "", repositories.NewStockError(repositories.StockErrorInvalidQuantity, productID, qty, 0)
	}
	return r.adjust(ctx, productID, qty)
}

// adjust is a compare-and-set on the stock value read in the same transaction: a concurrent
// writer invalidates the read and Firestore retries the whole unit of work, which then sees the new
// stock. Outside a transaction it opens its own.
func (r *ProductRepository) adjust(ctx context.Context, productID string, delta int) (domain.StockStatus, error) {
	id := strings.TrimSpace(productID)
	if _, inTx := pfirestore.TransactionFrom(ctx); !inTx {
		var status domain.StockStatus
		err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
			var err error
			status, err = r.adjust(txCtx, id, delta)
			return err
		})
		return status, err
	}

	ref, err := r.products.DocumentRef(ctx, "", id)
	if err != nil {
		return "", err
	}
	snap, err := pfirestore.GetDocument(ctx, ref)
	if err != nil {
		if isNotFound(err) {
			return "", repositories.NewStockError(repositories.StockErrorProductNotFound, id, abs(delta), 0)
		}
		return "", err
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("products decode %s: %w", id, err)
	}

	next := doc.Stock + delta
	if next < 0 {
		return "", repositories.NewStockError(repositories.StockErrorInsufficient, id, -delta, doc.Stock)
	}
	status := r.rules.StockStatusFor(next)
	err = pfirestore.UpdateDocument(ctx, ref, []firestore.Update{
		{Path: "stock", Value: next},
		{Path: "stockStatus", Value: string(status)},
		{Path: "updatedAt", Value: r.clock().UTC()},
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func decodeProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        doc.Name,
		ImageURL:    doc.ImageURL,
		Unit:        doc.Unit,
		Price:       doc.Price,
		Stock:       doc.Stock,
		StockStatus: domain.StockStatus(doc.StockStatus),
		IsActive:    doc.IsActive,
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
