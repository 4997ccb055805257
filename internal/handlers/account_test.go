package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/services"
)

func newAccountRouter(wallets services.WalletService, notifications services.NotificationService) http.Handler {
	h := NewAccountHandlers(nil, wallets, notifications)
	return NewRouter(WithMiddlewares(asUser("u1")), WithAccountRoutes(h.Routes))
}

func TestAccountHandlers_GetWallet(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	router := newAccountRouter(&stubWalletService{
		getFn: func(_ context.Context, userID string) (services.WalletSummary, error) {
			return services.WalletSummary{
				Wallet: services.Wallet{UserID: userID, Currency: "INR", Balance: 50000, UpdatedAt: at},
				Transactions: []services.WalletTransaction{
					{ID: "txn_1", Type: domain.WalletTransactionCredit, Amount: 50000, BalanceAfter: 50000, CreatedAt: at},
				},
			}, nil
		},
	}, nil)

	rr := doJSON(t, router, http.MethodGet, "/api/v1/wallet", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["balance"].(float64) != 50000 {
		t.Fatalf("unexpected balance %v", body["balance"])
	}
	txns := body["transactions"].([]any)
	if len(txns) != 1 || txns[0].(map[string]any)["type"] != "CREDIT" {
		t.Fatalf("unexpected transactions %v", txns)
	}
}

func TestAccountHandlers_TopUp(t *testing.T) {
	var got services.WalletTopUpCommand
	router := newAccountRouter(&stubWalletService{
		topUpFn: func(_ context.Context, cmd services.WalletTopUpCommand) (services.CheckoutSession, error) {
			got = cmd
			return services.CheckoutSession{Provider: "razorpay", SessionID: "plink_1", RedirectURL: "https://rzp.example/plink_1"}, nil
		},
	}, nil)

	if rr := doJSON(t, router, http.MethodPost, "/api/v1/wallet:topup", map[string]any{"amount": 0}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d", rr.Code)
	}

	rr := doJSON(t, router, http.MethodPost, "/api/v1/wallet:topup", map[string]any{"amount": 100000, "provider": "razorpay"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.UserID != "u1" || got.Amount != 100000 || got.Provider != "razorpay" {
		t.Fatalf("unexpected command %+v", got)
	}
	if decodeBody(t, rr)["sessionId"] != "plink_1" {
		t.Fatalf("expected session id in payload")
	}
}

func TestAccountHandlers_Notifications(t *testing.T) {
	var pager services.Pagination
	var marked string
	router := newAccountRouter(nil, &stubNotificationService{
		listFn: func(_ context.Context, _ string, p services.Pagination) (domain.CursorPage[services.Notification], error) {
			pager = p
			return domain.CursorPage[services.Notification]{Items: []services.Notification{
				{ID: "n1", Type: domain.NotificationTypeOrder, Title: "Order Confirmed", Message: "GR-1 confirmed"},
			}}, nil
		},
		markReadFn: func(_ context.Context, _ string, id string) error {
			marked = id
			if id == "missing" {
				return services.ErrNotificationNotFound
			}
			return nil
		},
	})

	rr := doJSON(t, router, http.MethodGet, "/api/v1/notifications?pageSize=10", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if pager.PageSize != 10 {
		t.Fatalf("expected page size 10, got %d", pager.PageSize)
	}
	items := decodeBody(t, rr)["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["isRead"] != false {
		t.Fatalf("unexpected notifications %v", items)
	}

	if rr := doJSON(t, router, http.MethodPost, "/api/v1/notifications/n1:read", nil); rr.Code != http.StatusNoContent || marked != "n1" {
		t.Fatalf("expected 204 marking n1, got %d %q", rr.Code, marked)
	}
	if rr := doJSON(t, router, http.MethodPost, "/api/v1/notifications/missing:read", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
