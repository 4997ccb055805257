package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/karimtraders/grocery/internal/platform/httpx"
	"github.com/karimtraders/grocery/internal/platform/pagination"
	"github.com/karimtraders/grocery/internal/repositories"
	"github.com/karimtraders/grocery/internal/services"
)

type errorMapping struct {
	target error
	code   string
	status int
}

// Order matters: the first matching sentinel wins.
var serviceErrorMappings = []errorMapping{
	{services.ErrOrderEmptyCart, "empty_cart", http.StatusUnprocessableEntity},
	{services.ErrOrderInvalidAddress, "invalid_address", http.StatusUnprocessableEntity},
	{services.ErrOrderInsufficientBalance, "insufficient_balance", http.StatusPaymentRequired},
	{services.ErrCouponNotFound, "coupon_not_found", http.StatusUnprocessableEntity},
	{services.ErrCouponExpired, "coupon_expired", http.StatusUnprocessableEntity},
	{services.ErrCouponUsageExceeded, "coupon_usage_exceeded", http.StatusUnprocessableEntity},
	{services.ErrCouponBelowMinimum, "coupon_below_minimum", http.StatusUnprocessableEntity},
	{services.ErrOrderInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrCheckoutNotPayable, "invalid_state", http.StatusConflict},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrCartProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrNotificationNotFound, "notification_not_found", http.StatusNotFound},
	{services.ErrWebhookLogNotFound, "webhook_log_not_found", http.StatusNotFound},
	{services.ErrWebhookNotReplayable, "invalid_state", http.StatusConflict},
	{services.ErrWebhookSignatureInvalid, "signature_invalid", http.StatusBadRequest},
	{services.ErrWebhookUnknownProvider, "unknown_provider", http.StatusNotFound},
	{services.ErrCheckoutPaymentFailed, "payment_provider_error", http.StatusBadGateway},
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrCartInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrCheckoutInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrWalletInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrNotificationInvalidInput, "invalid_request", http.StatusBadRequest},
	{pagination.ErrInvalidPageToken, "invalid_request", http.StatusBadRequest},
}

// writeServiceError maps service sentinels first, then typed stock errors, then repository failures.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var insufficient *services.InsufficientStockError
	if errors.As(err, &insufficient) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"productId": insufficient.ProductID,
				"requested": insufficient.Requested,
				"available": insufficient.Available,
			}))
		return
	}
	var outOfStock *services.OutOfStockError
	if errors.As(err, &outOfStock) {
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"productId": outOfStock.ProductID,
				"requested": outOfStock.Requested,
				"available": outOfStock.Available,
			}))
		return
	}

	for _, m := range serviceErrorMappings {
		if errors.Is(err, m.target) {
			httpx.WriteError(ctx, w, httpx.NewError(m.code, err.Error(), m.status))
			return
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("repository_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
			return
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
}
