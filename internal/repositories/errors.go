package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock adjustments.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the decrement would drive stock below zero.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates the product document is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorInvalidQuantity indicates a non-positive adjustment.
	StockErrorInvalidQuantity StockErrorCode = "stock_invalid_quantity"
)

// StockError reports a rejected stock adjustment with the amounts involved.
type StockError struct {
	Code      StockErrorCode
	ProductID string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: product %s requested %d available %d", e.Code, e.ProductID, e.Requested, e.Available)
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, productID string, requested, available int) *StockError {
	return &StockError{Code: code, ProductID: productID, Requested: requested, Available: available}
}

// WalletError reports a debit that would overdraw the wallet.
type WalletError struct {
	UserID    string
	Requested int64
	Balance   int64
}

// Error implements the error interface.
func (e *WalletError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("wallet %s: debit %d exceeds balance %d", e.UserID, e.Requested, e.Balance)
}

// CounterError wraps counter failures such as invalid ids or steps.
type CounterError struct {
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
