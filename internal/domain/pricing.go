package domain

// PricingRules carries the delivery-fee and stock-label thresholds. They are configuration, not
// business logic, and are loaded from config.Pricing.
type PricingRules struct {
	Currency              string
	FreeDeliveryThreshold int64
	DeliveryFee           int64
	LowStockThreshold     int
}

// DeliveryFeeFor returns the flat fee unless the subtotal reaches the free-delivery threshold.
// Empty carts never pay a fee.
func (r PricingRules) DeliveryFeeFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	if subtotal >= r.FreeDeliveryThreshold {
		return 0
	}
	return r.DeliveryFee
}

// StockStatusFor derives the stock label from a numeric stock count.
func (r PricingRules) StockStatusFor(stock int) StockStatus {
	switch {
	case stock <= 0:
		return StockStatusOutOfStock
	case stock <= r.LowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

// OrderTotal applies total = subtotal - discount + deliveryFee, never going below zero.
func OrderTotal(subtotal, discount, deliveryFee int64) int64 {
	total := subtotal - discount + deliveryFee
	if total < 0 {
		return 0
	}
	return total
}
