package handlers

import (
	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/services"
)

// Amounts are integers in the currency's minor unit throughout the API.

type cartLinePayload struct {
	ProductID   string `json:"productId"`
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Unit        string `json:"unit,omitempty"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"lineTotal"`
	StockStatus string `json:"stockStatus,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

type cartPayload struct {
	Currency    string            `json:"currency"`
	Items       []cartLinePayload `json:"items"`
	Subtotal    int64             `json:"subtotal"`
	DeliveryFee int64             `json:"deliveryFee"`
	Total       int64             `json:"total"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		Currency:    cart.Currency,
		Items:       make([]cartLinePayload, 0, len(cart.Items)),
		Subtotal:    cart.Subtotal,
		DeliveryFee: cart.DeliveryFee,
		Total:       cart.Total,
	}
	for _, line := range cart.Items {
		payload.Items = append(payload.Items, cartLinePayload{
			ProductID:   line.ProductID,
			Name:        line.Name,
			ImageURL:    line.ImageURL,
			Unit:        line.Unit,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   line.LineTotal,
			StockStatus: string(line.StockStatus),
			Unavailable: line.Unavailable,
		})
	}
	return payload
}

type couponPreviewPayload struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Subtotal    int64  `json:"subtotal"`
	Discount    int64  `json:"discount"`
	DeliveryFee int64  `json:"deliveryFee"`
	Total       int64  `json:"total"`
}

type addressPayload struct {
	ID         string `json:"id"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Phone      string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Unit      string `json:"unit,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type timelinePayload struct {
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"orderNumber"`
	UserID            string             `json:"userId"`
	Status            string             `json:"status"`
	PaymentStatus     string             `json:"paymentStatus"`
	PaymentMethod     string             `json:"paymentMethod"`
	PaymentProvider   string             `json:"paymentProvider,omitempty"`
	Currency          string             `json:"currency"`
	Subtotal          int64              `json:"subtotal"`
	Discount          int64              `json:"discount"`
	DeliveryFee       int64              `json:"deliveryFee"`
	Total             int64              `json:"total"`
	CouponCode        string             `json:"couponCode,omitempty"`
	DeliverySlotID    string             `json:"deliverySlotId,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	CancelReason      string             `json:"cancelReason,omitempty"`
	Address           addressPayload     `json:"address"`
	Items             []orderItemPayload `json:"items"`
	Timeline          []timelinePayload  `json:"timeline"`
	CreatedAt         string             `json:"createdAt"`
	UpdatedAt         string             `json:"updatedAt"`
	DeliveredAt       string             `json:"deliveredAt,omitempty"`
	CancelledAt       string             `json:"cancelledAt,omitempty"`
	ProviderPaymentID string             `json:"providerPaymentId,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     string(order.PaymentMethod),
		PaymentProvider:   order.PaymentProvider,
		Currency:          order.Currency,
		Subtotal:          order.Subtotal,
		Discount:          order.Discount,
		DeliveryFee:       order.DeliveryFee,
		Total:             order.Total,
		CouponCode:        order.CouponCode,
		DeliverySlotID:    order.DeliverySlotID,
		Notes:             order.Notes,
		CancelReason:      order.CancelReason,
		ProviderPaymentID: order.ProviderPaymentID,
		Address: addressPayload{
			ID:         order.Address.ID,
			Recipient:  order.Address.Recipient,
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Phone:      order.Address.Phone,
		},
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Timeline:    make([]timelinePayload, 0, len(order.Timeline)),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	for _, entry := range order.Timeline {
		payload.Timeline = append(payload.Timeline, timelinePayload{
			Status:      string(entry.Status),
			Title:       entry.Title,
			Description: entry.Description,
			CreatedAt:   formatTime(entry.CreatedAt),
		})
	}
	return payload
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderListPayload(page domain.CursorPage[services.Order]) orderListPayload {
	payload := orderListPayload{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Items = append(payload.Items, buildOrderPayload(order))
	}
	return payload
}

type checkoutSessionPayload struct {
	Provider    string `json:"provider"`
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

func buildCheckoutSessionPayload(session services.CheckoutSession) checkoutSessionPayload {
	return checkoutSessionPayload{
		Provider:    session.Provider,
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   formatTime(session.ExpiresAt),
	}
}

type walletTransactionPayload struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balanceAfter"`
	Description  string `json:"description,omitempty"`
	ReferenceID  string `json:"referenceId,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type walletPayload struct {
	Currency     string                     `json:"currency,omitempty"`
	Balance      int64                      `json:"balance"`
	UpdatedAt    string                     `json:"updatedAt,omitempty"`
	Transactions []walletTransactionPayload `json:"transactions"`
}

func buildWalletPayload(summary services.WalletSummary) walletPayload {
	payload := walletPayload{
		Currency:     summary.Wallet.Currency,
		Balance:      summary.Wallet.Balance,
		UpdatedAt:    formatTime(summary.Wallet.UpdatedAt),
		Transactions: make([]walletTransactionPayload, 0, len(summary.Transactions)),
	}
	for _, txn := range summary.Transactions {
		payload.Transactions = append(payload.Transactions, walletTransactionPayload{
			ID:           txn.ID,
			Type:         string(txn.Type),
			Amount:       txn.Amount,
			BalanceAfter: txn.BalanceAfter,
			Description:  txn.Description,
			ReferenceID:  txn.ReferenceID,
			CreatedAt:    formatTime(txn.CreatedAt),
		})
	}
	return payload
}

type notificationPayload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	IsRead    bool           `json:"isRead"`
	CreatedAt string         `json:"createdAt"`
}

type notificationListPayload struct {
	Items         []notificationPayload `json:"items"`
	NextPageToken string                `json:"nextPageToken,omitempty"`
}

func buildNotificationListPayload(page domain.CursorPage[services.Notification]) notificationListPayload {
	payload := notificationListPayload{
		Items:         make([]notificationPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, n := range page.Items {
		payload.Items = append(payload.Items, notificationPayload{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			Data:      n.Data,
			IsRead:    n.IsRead,
			CreatedAt: formatTime(n.CreatedAt),
		})
	}
	return payload
}
