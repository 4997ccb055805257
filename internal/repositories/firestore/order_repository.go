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

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber       string                  `firestore:"orderNumber"`
	UserID            string                  `firestore:"userId"`
	AddressID         string                  `firestore:"addressId"`
	Address           orderAddressDocument    `firestore:"address"`
	Items             []orderItemDocument     `firestore:"items"`
	Currency          string                  `firestore:"currency"`
	Subtotal          int64                   `firestore:"subtotal"`
	Discount          int64                   `firestore:"discount"`
	DeliveryFee       int64                   `firestore:"deliveryFee"`
	Total             int64                   `firestore:"total"`
	Status            string                  `firestore:"status"`
	PaymentStatus     string                  `firestore:"paymentStatus"`
	PaymentMethod     string                  `firestore:"paymentMethod"`
	CouponID          string                  `firestore:"couponId,omitempty"`
	CouponCode        string                  `firestore:"couponCode,omitempty"`
	PaymentProvider   string                  `firestore:"paymentProvider,omitempty"`
	ProviderPaymentID string                  `firestore:"providerPaymentId,omitempty"`
	DeliverySlotID    string                  `firestore:"deliverySlotId,omitempty"`
	Notes             string                  `firestore:"notes,omitempty"`
	CancelReason      string                  `firestore:"cancelReason,omitempty"`
	Timeline          []timelineEntryDocument `firestore:"timeline"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
	DeliveredAt       *time.Time              `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time              `firestore:"cancelledAt,omitempty"`
}

type orderAddressDocument struct {
	Recipient  string `firestore:"recipient"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Phone      string `firestore:"phone,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
	Unit      string `firestore:"unit,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

type timelineEntryDocument struct {
	Status      string    `firestore:"status"`
	Title       string    `firestore:"title"`
	Description string    `firestore:"description,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

// OrderRepository stores orders as single documents with embedded items and timeline, so an
// order and its lines always commit together.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Insert creates the order document.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	return r.orders.Create(ctx, "", order.ID, encodeOrder(order))
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	return r.orders.Set(ctx, "", order.ID, encodeOrder(order))
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, "", strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns orders newest first, optionally scoped to a user and statuses.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	limit, fetch := pageLimits(filter.Pagination.PageSize)

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, id, err := decodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, id}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if status.IsValid() {
			statuses = append(statuses, string(status))
		}
	}
	userID := strings.TrimSpace(filter.UserID)

	docs, err := r.orders.Query(ctx, "", func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		switch {
		case len(statuses) == 1:
			q = q.Where("status", "==", statuses[0])
		case len(statuses) > 1:
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetch)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	next := ""
	if len(docs) == fetch {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		if next, err = encodeTimeCursor(last.Data.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	timeline := make([]timelineEntryDocument, 0, len(order.Timeline))
	for _, entry := range order.Timeline {
		timeline = append(timeline, timelineEntryDocument{
			Status:      string(entry.Status),
			Title:       entry.Title,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt.UTC(),
		})
	}
	return orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		AddressID:   order.AddressID,
		Address: orderAddressDocument{
			Recipient:  order.Address.Recipient,
			Line1:      order.Address.Line1,
			Line2:      order.Address.Line2,
			City:       order.Address.City,
			State:      order.Address.State,
			PostalCode: order.Address.PostalCode,
			Phone:      order.Address.Phone,
		},
		Items:             items,
		Currency:          order.Currency,
		Subtotal:          order.Subtotal,
		Discount:          order.Discount,
		DeliveryFee:       order.DeliveryFee,
		Total:             order.Total,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		PaymentMethod:     string(order.PaymentMethod),
		CouponID:          order.CouponID,
		CouponCode:        order.CouponCode,
		PaymentProvider:   order.PaymentProvider,
		ProviderPaymentID: order.ProviderPaymentID,
		DeliverySlotID:    order.DeliverySlotID,
		Notes:             order.Notes,
		CancelReason:      order.CancelReason,
		Timeline:          timeline,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		DeliveredAt:       utcPtr(order.DeliveredAt),
		CancelledAt:       utcPtr(order.CancelledAt),
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			Unit:      item.Unit,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	timeline := make([]domain.TimelineEntry, 0, len(doc.Timeline))
	for _, entry := range doc.Timeline {
		timeline = append(timeline, domain.TimelineEntry{
			Status:      domain.OrderStatus(entry.Status),
			Title:       entry.Title,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt.UTC(),
		})
	}
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		AddressID:   doc.AddressID,
		Address: domain.Address{
			ID:         doc.AddressID,
			UserID:     doc.UserID,
			Recipient:  doc.Address.Recipient,
			Line1:      doc.Address.Line1,
			Line2:      doc.Address.Line2,
			City:       doc.Address.City,
			State:      doc.Address.State,
			PostalCode: doc.Address.PostalCode,
			Phone:      doc.Address.Phone,
		},
		Items:             items,
		Currency:          doc.Currency,
		Subtotal:          doc.Subtotal,
		Discount:          doc.Discount,
		DeliveryFee:       doc.DeliveryFee,
		Total:             doc.Total,
		Status:            domain.OrderStatus(doc.Status),
		PaymentStatus:     domain.PaymentStatus(doc.PaymentStatus),
		PaymentMethod:     domain.PaymentMethod(doc.PaymentMethod),
		CouponID:          doc.CouponID,
		CouponCode:        doc.CouponCode,
		PaymentProvider:   doc.PaymentProvider,
		ProviderPaymentID: doc.ProviderPaymentID,
		DeliverySlotID:    doc.DeliverySlotID,
		Notes:             doc.Notes,
		CancelReason:      doc.CancelReason,
		Timeline:          timeline,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		DeliveredAt:       utcPtr(doc.DeliveredAt),
		CancelledAt:       utcPtr(doc.CancelledAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}
