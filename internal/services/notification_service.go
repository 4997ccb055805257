package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/repositories"
)

var (
	// ErrNotificationInvalidInput indicates missing identifiers.
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	// ErrNotificationNotFound indicates the notification does not exist for the user.
	ErrNotificationNotFound = errors.New("notification: not found")
)

type notificationService struct {
	notifications repositories.NotificationRepository
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(notifications repositories.NotificationRepository) (NotificationService, error) {
	if notifications == nil {
		return nil, errors.New("notification service: repository is required")
	}
	return &notificationService{notifications: notifications}, nil
}

func (s *notificationService) List(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Notification], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Notification]{}, fmt.Errorf("%w: user id is required", ErrNotificationInvalidInput)
	}
	return s.notifications.ListByUser(ctx, userID, pager)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	userID, notificationID = strings.TrimSpace(userID), strings.TrimSpace(notificationID)
	if userID == "" || notificationID == "" {
		return fmt.Errorf("%w: user id and notification id are required", ErrNotificationInvalidInput)
	}
	if err := s.notifications.MarkRead(ctx, userID, notificationID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotificationNotFound, notificationID)
		}
		return err
	}
	return nil
}
