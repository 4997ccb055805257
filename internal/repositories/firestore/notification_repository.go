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
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	UserID    string         `firestore:"userId"`
	Type      string         `firestore:"type"`
	Title     string         `firestore:"title"`
	Message   string         `firestore:"message"`
	Data      map[string]any `firestore:"data,omitempty"`
	IsRead    bool           `firestore:"isRead"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	notifications *pfirestore.BaseRepository[notificationDocument]
}

// NewNotificationRepository constructs the notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{notifications: pfirestore.NewBaseRepository[notificationDocument](provider, notificationsCollection)}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	if strings.TrimSpace(n.ID) == "" {
		return errors.New("notification id is required")
	}
	return r.notifications.Create(ctx, "", n.ID, notificationDocument{
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC(),
	})
}

func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	uid := strings.TrimSpace(userID)
	limit, fetch := pageLimits(pager.PageSize)
	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		ts, id, err := decodeTimeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("notification repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, id}
	}
	docs, err := r.notifications.Query(ctx, "", func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", uid).OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(fetch)
	})
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}
	next := ""
	if len(docs) == fetch {
		docs = docs[:limit]
		last := docs[len(docs)-1]
		if next, err = encodeTimeCursor(last.Data.CreatedAt, last.ID); err != nil {
			return domain.CursorPage[domain.Notification]{}, err
		}
	}
	items := make([]domain.Notification, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.Notification{
			ID:        doc.ID,
			UserID:    doc.Data.UserID,
			Type:      domain.NotificationType(doc.Data.Type),
			Title:     doc.Data.Title,
			Message:   doc.Data.Message,
			Data:      doc.Data.Data,
			IsRead:    doc.Data.IsRead,
			CreatedAt: doc.Data.CreatedAt.UTC(),
		})
	}
	return domain.CursorPage[domain.Notification]{Items: items, NextPageToken: next}, nil
}

// MarkRead flags the notification as read. Notifications owned by another user read as missing.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) error {
	id := strings.TrimSpace(notificationID)
	doc, err := r.notifications.Get(ctx, "", id)
	if err != nil {
		return err
	}
	if doc.Data.UserID != strings.TrimSpace(userID) {
		return pfirestore.NotFoundError(notificationsCollection+".markread", id)
	}
	if doc.Data.IsRead {
		return nil
	}
	return r.notifications.Update(ctx, "", id, []firestore.Update{{Path: "isRead", Value: true}})
}
