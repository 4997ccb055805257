//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/karimtraders/grocery/internal/platform/config"
	pfirestore "github.com/karimtraders/grocery/internal/platform/firestore"
)

type stockEntry struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestProviderRepositoryAgainstEmulator(t *testing.T) {
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	project := fmt.Sprintf("provider-%d", time.Now().UnixNano())
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	repo := pfirestore.NewBaseRepository[stockEntry](provider, "stock")
	if err := repo.Set(ctx, "", "sku-1", stockEntry{Name: "basmati rice", Count: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := repo.Create(ctx, "", "sku-1", stockEntry{Name: "dup"}); err == nil {
		t.Fatalf("expected create conflict")
	} else {
		var repoErr *pfirestore.Error
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			t.Fatalf("expected conflict classification, got %v", err)
		}
	}

	if err := repo.Update(ctx, "", "sku-1", []firestore.Update{{Path: "count", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	doc, err := repo.Get(ctx, "", "sku-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.Data.Count != 2 || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document: %#v", doc)
	}

	if _, err := repo.Get(ctx, "", "missing"); err == nil {
		t.Fatalf("expected not found error")
	} else {
		var repoErr *pfirestore.Error
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("expected not found classification, got %v", err)
		}
	}

	// the second read is served from the transaction cache after a write has been queued
	err = provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		first, err := repo.Get(ctx, "", "sku-1")
		if err != nil {
			return err
		}
		if err := repo.Set(ctx, "", "sku-2", stockEntry{Name: "toor dal"}); err != nil {
			return err
		}
		again, err := repo.Get(ctx, "", "sku-1")
		if err != nil {
			return err
		}
		again.Data.Count = first.Data.Count + 1
		return repo.Set(ctx, "", "sku-1", again.Data)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	many, err := repo.GetMany(ctx, "", []string{"sku-1", "sku-2", "missing"})
	if err != nil {
		t.Fatalf("get many failed: %v", err)
	}
	if len(many) != 2 || many["sku-1"].Data.Count != 3 {
		t.Fatalf("unexpected get many result: %#v", many)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
