package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
	"github.com/karimtraders/grocery/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out order numbers from counters/{id}.
type CounterRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

// NewCounterRepository wires the counters collection.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, clock: time.Now}, nil
}

// Next adds step (minimum 1) to the counter and returns the new value. It commits in its own
// transaction even when ctx carries one, so a value is never handed out twice but may be
// skipped when the caller later rolls back.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, &repositories.CounterError{Op: "counters.next", Message: "counter id is required"}
	}
	step = max(step, 1)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	ref := client.Collection(countersCollection).Doc(id)

	var value int64
	err = pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return pfirestore.WrapError("counters.get", err)
		default:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("counters: decode %s: %w", id, err)
			}
		}
		value = doc.CurrentValue + step
		return tx.Set(ref, counterDocument{CurrentValue: value, UpdatedAt: r.clock().UTC()})
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}
