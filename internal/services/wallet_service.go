package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/repositories"
)

const (
	defaultWalletHistory = 20
	minTopUpAmount       = 100
	maxTopUpAmount       = 10_000_000
)

// ErrWalletInvalidInput indicates a missing user or an out-of-range top-up amount.
var ErrWalletInvalidInput = errors.New("wallet: invalid input")

// WalletServiceDeps wires the wallet service.
type WalletServiceDeps struct {
	Wallets    repositories.WalletRepository
	Payments   checkoutSessionManager
	Currency   string
	SuccessURL string
	CancelURL  string
	History    int
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type walletService struct {
	wallets    repositories.WalletRepository
	payments   checkoutSessionManager
	currency   string
	successURL string
	cancelURL  string
	history    int
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewWalletService constructs a WalletService. Payments may be nil when top-ups are disabled.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Wallets == nil {
		return nil, errors.New("wallet service: wallet repository is required")
	}
	history := deps.History
	if history <= 0 {
		history = defaultWalletHistory
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &walletService{
		wallets:    deps.Wallets,
		payments:   deps.Payments,
		currency:   strings.ToUpper(strings.TrimSpace(deps.Currency)),
		successURL: deps.SuccessURL,
		cancelURL:  deps.CancelURL,
		history:    history,
		logger:     logger,
	}, nil
}

func (s *walletService) GetWallet(ctx context.Context, userID string) (WalletSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return WalletSummary{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	wallet, err := s.wallets.Get(ctx, userID)
	if err != nil {
		return WalletSummary{}, err
	}
	txns, err := s.wallets.ListTransactions(ctx, userID, s.history)
	if err != nil {
		return WalletSummary{}, err
	}
	return WalletSummary{Wallet: wallet, Transactions: txns}, nil
}

// StartTopUp opens a hosted checkout; the wallet is credited only when the capture webhook arrives.
func (s *walletService) StartTopUp(ctx context.Context, cmd WalletTopUpCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id is required", ErrWalletInvalidInput)
	}
	if cmd.Amount < minTopUpAmount || cmd.Amount > maxTopUpAmount {
		return CheckoutSession{}, fmt.Errorf("%w: amount must be between %d and %d", ErrWalletInvalidInput, minTopUpAmount, maxTopUpAmount)
	}
	if s.payments == nil {
		return CheckoutSession{}, fmt.Errorf("%w: top-ups are not configured", ErrCheckoutPaymentFailed)
	}

	session, err := s.payments.CreateCheckoutSession(ctx, cmd.Provider, payments.CheckoutSessionRequest{
		Amount:     cmd.Amount,
		Currency:   s.currency,
		SuccessURL: firstNonBlank(cmd.SuccessURL, s.successURL),
		CancelURL:  firstNonBlank(cmd.CancelURL, s.cancelURL),
		Metadata: map[string]string{
			payments.MetadataUserID:  userID,
			payments.MetadataPurpose: payments.PurposeWalletTopUp,
		},
		IdempotencyKey: "topup:" + userID + ":" + ulid.Make().String(),
		Items:          []payments.CheckoutLineItem{{Name: "Wallet top-up", Quantity: 1, Amount: cmd.Amount}},
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrWalletInvalidInput, err)
		}
		s.logger(ctx, "wallet.topup.session.failed", map[string]any{"userId": userID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	s.logger(ctx, "wallet.topup.session.created", map[string]any{
		"userId":    userID,
		"amount":    cmd.Amount,
		"sessionId": session.ID,
	})
	return CheckoutSession{
		Provider:    session.Provider,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}
