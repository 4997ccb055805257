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

const addressesCollection = "addresses"

type addressDocument struct {
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Phone      string    `firestore:"phone,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// AddressRepository reads addresses stored under users/{uid}/addresses. Ownership is implied by
// the path, so a lookup with the wrong user id is simply not found.
type AddressRepository struct {
	addresses *pfirestore.BaseRepository[addressDocument]
}

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		addresses: pfirestore.NewSubcollectionRepository[addressDocument](provider, usersCollection, addressesCollection),
	}, nil
}

// FindByID returns the address when it belongs to userID.
func (r *AddressRepository) FindByID(ctx context.Context, userID, addressID string) (domain.Address, error) {
	uid := strings.TrimSpace(userID)
	doc, err := r.addresses.Get(ctx, uid, strings.TrimSpace(addressID))
	if err != nil {
		return domain.Address{}, err
	}
	return decodeAddress(uid, doc.ID, doc.Data), nil
}

// List returns all addresses for the user, most recently updated first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	uid := strings.TrimSpace(userID)
	docs, err := r.addresses.Query(ctx, uid, func(q firestore.Query) firestore.Query {
		return q.OrderBy("updatedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeAddress(uid, doc.ID, doc.Data))
	}
	return out, nil
}

func decodeAddress(userID, id string, doc addressDocument) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     userID,
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Phone:      doc.Phone,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
}
