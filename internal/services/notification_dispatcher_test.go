package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/platform/metrics"
	"github.com/karimtraders/grocery/internal/repositories"
)

type stubEmailSender struct {
	mu     sync.Mutex
	sent   []EmailMessage
	result EmailResult
}

func (s *stubEmailSender) Send(_ context.Context, msg EmailMessage) EmailResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.result
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

type logRecorder struct {
	mu     sync.Mutex
	events []string
	fields []map[string]any
}

func (l *logRecorder) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.fields = append(l.fields, fields)
}

func (l *logRecorder) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func sampleOrder() Order {
	return Order{
		ID:            "ord_1",
		OrderNumber:   "GR-20260314-000001",
		UserID:        "u1",
		Currency:      "INR",
		Items:         []OrderItem{{ProductID: "apples", Name: "Apples <b>fresh</b>", Quantity: 2, UnitPrice: 12000, LineTotal: 24000}},
		Subtotal:      24000,
		Discount:      2000,
		DeliveryFee:   4000,
		Total:         26000,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodCash,
	}
}

func newTestRenderer(t *testing.T) *EmailRenderer {
	t.Helper()
	renderer, err := NewEmailRenderer(language.English)
	if err != nil {
		t.Fatalf("NewEmailRenderer: %v", err)
	}
	return renderer
}

func TestDispatcherPublishesAndEmails(t *testing.T) {
	sender := &stubEmailSender{result: EmailResult{Success: true, MessageID: "msg-1"}}
	publisher := &stubEventPublisher{}
	logs := &logRecorder{}
	recorder := metrics.NewRecorder()
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Emails:   sender,
		Users:    stubUserDirectory{},
		Events:   publisher,
		Renderer: newTestRenderer(t),
		Metrics:  recorder,
		From:     "orders@shop.example",
		Clock:    func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) },
		Logger:   logs.log,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}

	dispatcher.Dispatch(context.Background(), OrderNotice{Event: OrderEventPlaced, Order: sampleOrder(), ActorID: "u1"})

	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != OrderEventPlaced || event.OrderNumber != "GR-20260314-000001" || event.CurrentStatus != "PENDING" {
		t.Fatalf("unexpected event %+v", event)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one e-mail, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "u1@example.com" || msg.From != "orders@shop.example" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if !strings.Contains(msg.Subject, "GR-20260314-000001") || msg.Tags["event"] != OrderEventPlaced {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !logs.has("notification.email.sent") {
		t.Fatalf("expected sent log, got %v", logs.events)
	}
	if got := successfulNotifications(t, recorder); got != 2 {
		t.Fatalf("expected two successful notifications, got %v", got)
	}
}

func successfulNotifications(t *testing.T, recorder *metrics.Recorder) float64 {
	t.Helper()
	families, err := recorder.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, family := range families {
		if family.GetName() != "grocery_notifications_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == "success" {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestDispatcherFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name      string
		sender    *stubEmailSender
		users     UserDirectory
		publisher *stubEventPublisher
		stage     string
	}{
		{
			name:      "lookup",
			sender:    &stubEmailSender{result: EmailResult{Success: true}},
			users:     stubUserDirectory{fn: func(context.Context, string) (string, error) { return "", errors.New("no such user") }},
			publisher: &stubEventPublisher{},
			stage:     "lookup",
		},
		{
			name:      "send",
			sender:    &stubEmailSender{result: EmailResult{Success: false, Err: errors.New("smtp 421")}},
			users:     stubUserDirectory{},
			publisher: &stubEventPublisher{err: errors.New("pubsub down")},
			stage:     "send",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logs := &logRecorder{}
			dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
				Emails:   tc.sender,
				Users:    tc.users,
				Events:   tc.publisher,
				Renderer: newTestRenderer(t),
				Logger:   logs.log,
			})
			if err != nil {
				t.Fatalf("NewNotificationDispatcher: %v", err)
			}
			dispatcher.Dispatch(context.Background(), OrderNotice{Event: OrderEventCancelled, Order: sampleOrder()})

			if !logs.has("notification.email.failed") {
				t.Fatalf("expected failure log, got %v", logs.events)
			}
			found := false
			for i, e := range logs.events {
				if e == "notification.email.failed" && logs.fields[i]["stage"] == tc.stage {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected stage %q in %v", tc.stage, logs.fields)
			}
			if tc.publisher.err != nil && !logs.has("order.event.publish.failed") {
				t.Fatalf("expected publish failure log")
			}
		})
	}
}

func TestDispatcherAsyncIgnoresRequestCancellation(t *testing.T) {
	sender := &stubEmailSender{result: EmailResult{Success: true}}
	dispatcher, err := NewNotificationDispatcher(NotificationDispatcherDeps{
		Emails:   sender,
		Users:    stubUserDirectory{},
		Renderer: newTestRenderer(t),
		Async:    true,
	})
	if err != nil {
		t.Fatalf("NewNotificationDispatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Dispatch(ctx, OrderNotice{Event: OrderEventStatusChanged, Order: sampleOrder()})
	cancel()
	dispatcher.Wait()

	if len(sender.sent) != 1 {
		t.Fatalf("expected e-mail despite cancelled request, got %d", len(sender.sent))
	}
}

func TestDispatcherRequiresRendererForEmail(t *testing.T) {
	if _, err := NewNotificationDispatcher(NotificationDispatcherDeps{Emails: &stubEmailSender{}}); err == nil {
		t.Fatalf("expected error without renderer and user directory")
	}
	var nilDispatcher *NotificationDispatcher
	nilDispatcher.Dispatch(context.Background(), OrderNotice{})
	nilDispatcher.Wait()
}

func TestEmailRendererSanitisesAndFormats(t *testing.T) {
	renderer := newTestRenderer(t)
	rendered, err := renderer.Render(OrderNotice{
		Event: OrderEventCancelled,
		Order: sampleOrder(),
		Note:  `<script>alert(1)</script>Out of stock`,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.HTML, "<script>") || strings.Contains(rendered.HTML, "<b>fresh</b>") {
		t.Fatalf("markup leaked into e-mail: %s", rendered.HTML)
	}
	if !strings.Contains(rendered.Text, "Out of stock") {
		t.Fatalf("note missing from text body: %s", rendered.Text)
	}
	if rendered.Subject != "Your order was cancelled (GR-20260314-000001)" {
		t.Fatalf("unexpected subject %q", rendered.Subject)
	}
	if !strings.Contains(rendered.Text, "260.00") {
		t.Fatalf("expected formatted total in %q", rendered.Text)
	}
	if got := renderer.FormatAmount(1234, "XYZ1"); got != "1234 XYZ1" {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestSystemServiceFillsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := started.Add(30 * time.Minute)
	health, err := repositories.NewProbeHealthRepository([]repositories.Probe{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
	}, repositories.WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	svc, err := NewSystemService(SystemServiceDeps{
		Health: health,
		Clock:  func() time.Time { return now },
		Build:  BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 30*time.Minute {
		t.Fatalf("unexpected uptime %v", report.Uptime)
	}
	if _, ok := report.Checks["firestore"]; !ok {
		t.Fatalf("missing firestore check")
	}
}
