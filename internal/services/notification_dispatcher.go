package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/metrics"
)

// Order events published after a commit.
const (
	OrderEventPlaced          = "order.placed"
	OrderEventStatusChanged   = "order.status_changed"
	OrderEventCancelled       = "order.cancelled"
	OrderEventPaymentCaptured = "order.payment_captured"
	OrderEventPaymentFailed   = "order.payment_failed"
	OrderEventRefunded        = "order.refunded"
)

const defaultEmailTimeout = 10 * time.Second

// EmailMessage is a rendered transactional e-mail.
type EmailMessage struct {
	To       string
	From     string
	Subject  string
	HTMLBody string
	TextBody string
	Tags     map[string]string
}

// EmailResult reports the outcome of a send. Senders report failures here instead of returning an
// error or panicking.
type EmailResult struct {
	Success   bool
	MessageID string
	Err       error
}

// EmailSender delivers e-mail.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) EmailResult
}

// OrderNotice describes a committed order change that users should hear about.
type OrderNotice struct {
	Event          string
	Order          Order
	PreviousStatus OrderStatus
	ActorID        string
	Note           string
}

// OrderNotifier runs post-commit side effects for an order change.
type OrderNotifier interface {
	Dispatch(ctx context.Context, notice OrderNotice)
}

// NotificationDispatcherDeps bundles collaborators for the dispatcher.
type NotificationDispatcherDeps struct {
	Emails   EmailSender
	Users    UserDirectory
	Events   OrderEventPublisher
	Renderer *EmailRenderer
	Metrics  *metrics.Recorder
	From     string
	Timeout  time.Duration
	// Async runs side effects on a goroutine so the request returns without waiting on them.
	Async  bool
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// NotificationDispatcher sends the confirmation or status e-mail and publishes the order event.
// Failures are logged and counted; they never reach the caller.
type NotificationDispatcher struct {
	emails   EmailSender
	users    UserDirectory
	events   OrderEventPublisher
	renderer *EmailRenderer
	metrics  *metrics.Recorder
	from     string
	timeout  time.Duration
	async    bool
	clock    func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	wg sync.WaitGroup
}

var _ OrderNotifier = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher constructs a dispatcher. Emails and Events are both optional; a
// dispatcher with neither does nothing.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	if deps.Emails != nil && (deps.Users == nil || deps.Renderer == nil) {
		return nil, errors.New("notification dispatcher: e-mail requires user directory and renderer")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultEmailTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &NotificationDispatcher{
		emails:   deps.Emails,
		users:    deps.Users,
		events:   deps.Events,
		renderer: deps.Renderer,
		metrics:  deps.Metrics,
		from:     strings.TrimSpace(deps.From),
		timeout:  timeout,
		async:    deps.Async,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Dispatch runs the side effects for notice under a bounded timeout detached from the request.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, notice OrderNotice) {
	if d == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	if !d.async {
		d.run(detached, notice)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(detached, notice)
	}()
}

// Wait blocks until asynchronous dispatches finish. Used on shutdown and in tests.
func (d *NotificationDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *NotificationDispatcher) run(ctx context.Context, notice OrderNotice) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger(ctx, "notification.dispatch.panic", map[string]any{
				"orderId": notice.Order.ID,
				"panic":   fmt.Sprint(rec),
			})
		}
	}()

	d.publish(ctx, notice)
	d.email(ctx, notice)
}

func (d *NotificationDispatcher) publish(ctx context.Context, notice OrderNotice) {
	if d.events == nil {
		return
	}
	order := notice.Order
	event := OrderEvent{
		Type:           notice.Event,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(notice.PreviousStatus),
		CurrentStatus:  string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		ActorID:        notice.ActorID,
		OccurredAt:     d.clock(),
		Metadata: map[string]any{
			"total":         order.Total,
			"currency":      order.Currency,
			"paymentMethod": string(order.PaymentMethod),
		},
	}
	err := d.events.PublishOrderEvent(ctx, event)
	d.metrics.NotificationSent("event", err == nil)
	if err != nil {
		d.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"status":  event.CurrentStatus,
			"error":   err.Error(),
		})
	}
}

func (d *NotificationDispatcher) email(ctx context.Context, notice OrderNotice) {
	if d.emails == nil {
		return
	}
	order := notice.Order
	fail := func(stage string, err error) {
		d.metrics.NotificationSent("email", false)
		d.logger(ctx, "notification.email.failed", map[string]any{
			"orderId": order.ID,
			"event":   notice.Event,
			"stage":   stage,
			"error":   err.Error(),
		})
	}

	to, err := d.users.LookupEmail(ctx, order.UserID)
	if err != nil {
		fail("lookup", err)
		return
	}
	rendered, err := d.renderer.Render(notice)
	if err != nil {
		fail("render", err)
		return
	}
	result := d.emails.Send(ctx, EmailMessage{
		To:       to,
		From:     d.from,
		Subject:  rendered.Subject,
		HTMLBody: rendered.HTML,
		TextBody: rendered.Text,
		Tags: map[string]string{
			"event":   notice.Event,
			"orderId": order.ID,
		},
	})
	if !result.Success {
		err := result.Err
		if err == nil {
			err = errors.New("send reported failure")
		}
		fail("send", err)
		return
	}
	d.metrics.NotificationSent("email", true)
	d.logger(ctx, "notification.email.sent", map[string]any{
		"orderId":   order.ID,
		"event":     notice.Event,
		"messageId": result.MessageID,
	})
}

// orderNotification builds the in-app row written inside the same transaction as the order change.
func orderNotification(id string, order Order, title, message string, now time.Time) Notification {
	return Notification{
		ID:      id,
		UserID:  order.UserID,
		Type:    domain.NotificationTypeOrder,
		Title:   title,
		Message: message,
		Data: map[string]any{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
			"status":      string(order.Status),
		},
		CreatedAt: now,
	}
}
