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

const (
	walletsCollection            = "wallets"
	walletTransactionsCollection = "transactions"
)

type walletDocument struct {
	Currency  string    `firestore:"currency,omitempty"`
	Balance   int64     `firestore:"balance"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type walletTransactionDocument struct {
	Type         string    `firestore:"type"`
	Amount       int64     `firestore:"amount"`
	BalanceAfter int64     `firestore:"balanceAfter"`
	Description  string    `firestore:"description"`
	ReferenceID  string    `firestore:"referenceId,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

// WalletRepository stores balances in wallets/{uid} and the ledger in wallets/{uid}/transactions.
type WalletRepository struct {
	provider     *pfirestore.Provider
	wallets      *pfirestore.BaseRepository[walletDocument]
	transactions *pfirestore.BaseRepository[walletTransactionDocument]
	currency     string
	clock        func() time.Time
}

// NewWalletRepository constructs a Firestore-backed wallet repository.
func NewWalletRepository(provider *pfirestore.Provider, currency string) (*WalletRepository, error) {
	if provider == nil {
		return nil, errors.New("wallet repository requires firestore provider")
	}
	return &WalletRepository{
		provider:     provider,
		wallets:      pfirestore.NewBaseRepository[walletDocument](provider, walletsCollection),
		transactions: pfirestore.NewSubcollectionRepository[walletTransactionDocument](provider, walletsCollection, walletTransactionsCollection),
		currency:     strings.ToUpper(strings.TrimSpace(currency)),
		clock:        time.Now,
	}, nil
}

// Get returns the user's wallet or an empty one.
func (r *WalletRepository) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	uid := strings.TrimSpace(userID)
	doc, err := r.wallets.Get(ctx, "", uid)
	if err != nil {
		if isNotFound(err) {
			return domain.Wallet{UserID: uid, Currency: r.currency}, nil
		}
		return domain.Wallet{}, err
	}
	return r.decode(uid, doc.Data), nil
}

// Debit subtracts amount, refusing to overdraw.
func (r *WalletRepository) Debit(ctx context.Context, userID string, amount int64) (domain.Wallet, error) {
	if amount <= 0 {
		return domain.Wallet{}, fmt.Errorf("wallet debit: amount must be positive, got %d", amount)
	}
	return r.apply(ctx, userID, -amount)
}

// Credit adds amount.
func (r *WalletRepository) Credit(ctx context.Context, userID string, amount int64) (domain.Wallet, error) {
	if amount <= 0 {
		return domain.Wallet{}, fmt.Errorf("wallet credit: amount must be positive, got %d", amount)
	}
	return r.apply(ctx, userID, amount)
}

func (r *WalletRepository) apply(ctx context.Context, userID string, delta int64) (domain.Wallet, error) {
	uid := strings.TrimSpace(userID)
	if _, inTx := pfirestore.TransactionFrom(ctx); !inTx {
		var wallet domain.Wallet
		err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
			var err error
			wallet, err = r.apply(txCtx, uid, delta)
			return err
		})
		return wallet, err
	}

	current, err := r.Get(ctx, uid)
	if err != nil {
		return domain.Wallet{}, err
	}
	next := current.Balance + delta
	if next < 0 {
		return domain.Wallet{}, &repositories.WalletError{UserID: uid, Requested: -delta, Balance: current.Balance}
	}
	now := r.clock().UTC()
	currency := current.Currency
	if currency == "" {
		currency = r.currency
	}
	if err := r.wallets.Set(ctx, "", uid, walletDocument{Currency: currency, Balance: next, UpdatedAt: now}); err != nil {
		return domain.Wallet{}, err
	}
	return domain.Wallet{UserID: uid, Currency: currency, Balance: next, UpdatedAt: now}, nil
}

// AppendTransaction creates a ledger entry; entries are never updated.
func (r *WalletRepository) AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error {
	if strings.TrimSpace(txn.ID) == "" {
		return errors.New("wallet transaction id is required")
	}
	return r.transactions.Create(ctx, strings.TrimSpace(txn.UserID), txn.ID, walletTransactionDocument{
		Type:         string(txn.Type),
		Amount:       txn.Amount,
		BalanceAfter: txn.BalanceAfter,
		Description:  txn.Description,
		ReferenceID:  txn.ReferenceID,
		CreatedAt:    txn.CreatedAt.UTC(),
	})
}

// ListTransactions returns the newest ledger entries first.
func (r *WalletRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	uid := strings.TrimSpace(userID)
	if limit <= 0 {
		limit = 20
	}
	docs, err := r.transactions.Query(ctx, uid, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.WalletTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.WalletTransaction{
			ID:           doc.ID,
			UserID:       uid,
			Type:         domain.WalletTransactionType(doc.Data.Type),
			Amount:       doc.Data.Amount,
			BalanceAfter: doc.Data.BalanceAfter,
			Description:  doc.Data.Description,
			ReferenceID:  doc.Data.ReferenceID,
			CreatedAt:    doc.Data.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (r *WalletRepository) decode(userID string, doc walletDocument) domain.Wallet {
	currency := doc.Currency
	if currency == "" {
		currency = r.currency
	}
	return domain.Wallet{UserID: userID, Currency: currency, Balance: doc.Balance, UpdatedAt: doc.UpdatedAt.UTC()}
}
