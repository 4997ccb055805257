package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/platform/metrics"
)

// stubVerifier treats the payload as a JSON-encoded payments.Event and rejects deliveries without
// the expected signature header.
type stubVerifier struct {
	provider string
}

func (v stubVerifier) Provider() string { return v.provider }

func (v stubVerifier) VerifySignature(_ []byte, header http.Header) error {
	if header.Get("X-Test-Signature") != "ok" {
		return payments.ErrSignatureInvalid
	}
	return nil
}

func (v stubVerifier) Parse(payload []byte, _ http.Header) (payments.Event, error) {
	var event payments.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return payments.Event{}, payments.ErrMalformedEvent
	}
	event.Provider = v.provider
	return event, nil
}

type recordingArchive struct {
	mu   sync.Mutex
	logs []string
}

func (a *recordingArchive) Archive(_ context.Context, log WebhookLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log.ID)
	return nil
}

type reconFixture struct {
	store    *memStore
	svc      PaymentReconciliationService
	notifier *recordingNotifier
	archive  *recordingArchive
	metrics  *metrics.Recorder
}

func newReconFixture(t *testing.T) reconFixture {
	t.Helper()
	store := newMemStore(testRules)
	store.putOrder(Order{
		ID:            "ord_1",
		OrderNumber:   "GR-20260314-000001",
		UserID:        "u1",
		Items:         []OrderItem{{ProductID: "apples", Name: "Apples", UnitPrice: 12000, Quantity: 2, LineTotal: 24000}},
		Currency:      "INR",
		Subtotal:      24000,
		DeliveryFee:   4000,
		Total:         28000,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentMethod: domain.PaymentMethodOnline,
	})

	notifier := &recordingNotifier{}
	archive := &recordingArchive{}
	recorder := metrics.NewRecorder()
	svc, err := NewPaymentReconciliationService(PaymentReconciliationDeps{
		Logs:          store.WebhookLogs(),
		Events:        store.WebhookEvents(),
		Orders:        store.Orders(),
		Wallets:       store.Wallets(),
		Notifications: store.Notifications(),
		UnitOfWork:    store,
		Verifiers:     []payments.WebhookVerifier{stubVerifier{provider: payments.ProviderStripe}, stubVerifier{provider: payments.ProviderRazorpay}},
		Archive:       archive,
		Notifier:      notifier,
		Metrics:       recorder,
		Clock:         store.now,
		IDGenerator:   sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciliationService: %v", err)
	}
	return reconFixture{store: store, svc: svc, notifier: notifier, archive: archive, metrics: recorder}
}

func (f reconFixture) deliver(t *testing.T, provider string, event payments.Event) WebhookResult {
	t.Helper()
	result, err := f.svc.HandleWebhook(context.Background(), delivery(t, provider, event, "ok"))
	if err != nil {
		t.Fatalf("HandleWebhook(%s): %v", event.ID, err)
	}
	return result
}

func delivery(t *testing.T, provider string, event payments.Event, signature string) WebhookDelivery {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return WebhookDelivery{
		Provider: provider,
		Payload:  payload,
		Header:   map[string][]string{"X-Test-Signature": {signature}},
	}
}

func captured(id string) payments.Event {
	return payments.Event{ID: id, Type: "payment_intent.succeeded", Kind: payments.EventCaptured, Purpose: payments.PurposeOrder, OrderID: "ord_1", PaymentID: "pi_1", Amount: 28000, Currency: "INR"}
}

func TestWebhookCaptureConfirmsOrder(t *testing.T) {
	f := newReconFixture(t)

	result := f.deliver(t, payments.ProviderStripe, captured("evt_1"))

	if result.Status != domain.WebhookStatusSuccess || result.Outcome != WebhookOutcomeCaptured || !result.SignatureValid {
		t.Fatalf("unexpected result %+v", result)
	}
	order := f.store.order("ord_1")
	if order.Status != domain.OrderStatusConfirmed || order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected order status %s/%s", order.Status, order.PaymentStatus)
	}
	if order.PaymentProvider != payments.ProviderStripe || order.ProviderPaymentID != "pi_1" {
		t.Fatalf("provider reference not stored: %+v", order)
	}
	log := f.store.webhookLog(result.LogID)
	if log.EventID != "evt_1" || log.EventType != "payment_intent.succeeded" || log.ProcessedAt == nil {
		t.Fatalf("unexpected log %+v", log)
	}
	if got := f.notifier.events(); len(got) != 1 || got[0] != OrderEventPaymentCaptured {
		t.Fatalf("unexpected dispatched events %v", got)
	}
	if len(f.archive.logs) != 1 || f.archive.logs[0] != result.LogID {
		t.Fatalf("expected payload to be archived, got %v", f.archive.logs)
	}
}

func TestWebhookDuplicateEventAppliedOnce(t *testing.T) {
	f := newReconFixture(t)

	f.deliver(t, payments.ProviderStripe, captured("evt_1"))
	second := f.deliver(t, payments.ProviderStripe, captured("evt_1"))

	if second.Status != domain.WebhookStatusSuccess || second.Outcome != WebhookOutcomeDuplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if got := len(f.store.order("ord_1").Timeline); got != 1 {
		t.Fatalf("duplicate changed the timeline: %d entries", got)
	}
	if got := len(f.store.notificationsFor("u1")); got != 1 {
		t.Fatalf("expected one notification, got %d", got)
	}
	if got := f.notifier.events(); len(got) != 1 {
		t.Fatalf("duplicate dispatched side effects: %v", got)
	}
	series, err := testutil.GatherAndCount(f.metrics.Registry(), "grocery_payment_webhooks_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if series != 2 {
		t.Fatalf("expected captured and duplicate series, got %d", series)
	}
}

func TestWebhookSameEventIDFromOtherProviderIsNotDuplicate(t *testing.T) {
	f := newReconFixture(t)
	f.deliver(t, payments.ProviderStripe, payments.Event{ID: "evt_1", Type: "charge.failed", Kind: payments.EventFailed, OrderID: "ord_1"})

	result := f.deliver(t, payments.ProviderRazorpay, captured("evt_1"))
	if result.Outcome != WebhookOutcomeCaptured {
		t.Fatalf("expected capture from second provider, got %+v", result)
	}
}

func TestWebhookFailureMarksPaymentFailed(t *testing.T) {
	f := newReconFixture(t)

	result := f.deliver(t, payments.ProviderRazorpay, payments.Event{
		ID: "evt_f", Type: "payment.failed", Kind: payments.EventFailed, OrderID: "ord_1", PaymentID: "pay_9", FailureMessage: "Card declined",
	})

	if result.Outcome != WebhookOutcomeFailed {
		t.Fatalf("unexpected outcome %q", result.Outcome)
	}
	order := f.store.order("ord_1")
	if order.PaymentStatus != domain.PaymentStatusFailed || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %s/%s", order.Status, order.PaymentStatus)
	}
	if last := order.Timeline[len(order.Timeline)-1]; last.Description != "Card declined" {
		t.Fatalf("unexpected timeline entry %+v", last)
	}

	// a later successful retry still captures
	if result := f.deliver(t, payments.ProviderRazorpay, captured("evt_ok")); result.Outcome != WebhookOutcomeCaptured {
		t.Fatalf("expected capture after failure, got %q", result.Outcome)
	}
}

func TestWebhookRefund(t *testing.T) {
	f := newReconFixture(t)
	f.deliver(t, payments.ProviderStripe, captured("evt_1"))

	refund := payments.Event{ID: "evt_r1", Type: "charge.refunded", Kind: payments.EventRefunded, OrderID: "ord_1", PaymentID: "pi_1"}
	if result := f.deliver(t, payments.ProviderStripe, refund); result.Outcome != WebhookOutcomeRefunded {
		t.Fatalf("unexpected outcome %q", result.Outcome)
	}
	if got := f.store.order("ord_1").PaymentStatus; got != domain.PaymentStatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}

	refund.ID = "evt_r2"
	if result := f.deliver(t, payments.ProviderStripe, refund); result.Outcome != WebhookOutcomeAlreadyRefunded {
		t.Fatalf("expected already_refunded, got %q", result.Outcome)
	}
	if result := f.deliver(t, payments.ProviderStripe, captured("evt_late")); result.Outcome != WebhookOutcomeAlreadyPaid {
		t.Fatalf("expected capture of refunded order to be a no-op, got %q", result.Outcome)
	}
}

func TestWebhookLateCaptureRefundsToWallet(t *testing.T) {
	f := newReconFixture(t)
	order := f.store.order("ord_1")
	order.Status = domain.OrderStatusCancelled
	f.store.putOrder(order)
	f.store.putWallet("u1", 500)

	result := f.deliver(t, payments.ProviderStripe, captured("evt_1"))

	if result.Outcome != WebhookOutcomeLateCapture {
		t.Fatalf("unexpected outcome %q", result.Outcome)
	}
	got := f.store.order("ord_1")
	if got.Status != domain.OrderStatusCancelled || got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("unexpected order %s/%s", got.Status, got.PaymentStatus)
	}
	if balance := f.store.wallet("u1").Balance; balance != 28500 {
		t.Fatalf("expected wallet credited to 28500, got %d", balance)
	}
	txns := f.store.txnsFor("u1")
	if len(txns) != 1 || txns[0].Type != domain.WalletTransactionCredit || txns[0].ReferenceID != "ord_1" {
		t.Fatalf("unexpected ledger %+v", txns)
	}
	if events := f.notifier.events(); len(events) != 1 || events[0] != OrderEventRefunded {
		t.Fatalf("unexpected dispatched events %v", events)
	}
}

func TestWebhookWalletTopUpCreditsOncePerPayment(t *testing.T) {
	f := newReconFixture(t)
	topUp := payments.Event{
		ID: "evt_t1", Type: "checkout.session.completed", Kind: payments.EventCaptured,
		Purpose: payments.PurposeWalletTopUp, UserID: "u7", PaymentID: "pi_top", Amount: 20000,
	}

	if result := f.deliver(t, payments.ProviderStripe, topUp); result.Outcome != WebhookOutcomeTopUp {
		t.Fatalf("unexpected outcome %q", result.Outcome)
	}
	// the PSP reports the same payment under a second event type
	topUp.ID = "evt_t2"
	topUp.Type = "payment_intent.succeeded"
	if result := f.deliver(t, payments.ProviderStripe, topUp); result.Outcome != WebhookOutcomeDuplicate {
		t.Fatalf("expected duplicate, got %q", result.Outcome)
	}

	if balance := f.store.wallet("u7").Balance; balance != 20000 {
		t.Fatalf("expected one credit of 20000, got %d", balance)
	}
	txns := f.store.txnsFor("u7")
	if len(txns) != 1 || txns[0].ID != "wtx_topup_stripe_pi_top" {
		t.Fatalf("unexpected ledger %+v", txns)
	}
	if n := len(f.store.notificationsFor("u7")); n != 1 {
		t.Fatalf("expected one wallet notification, got %d", n)
	}

	failed := topUp
	failed.ID, failed.Kind = "evt_t3", payments.EventFailed
	if result := f.deliver(t, payments.ProviderStripe, failed); result.Outcome != WebhookOutcomeIgnored {
		t.Fatalf("expected failed top-up to be ignored, got %q", result.Outcome)
	}
}

func TestWebhookSignatureMismatch(t *testing.T) {
	f := newReconFixture(t)

	result, err := f.svc.HandleWebhook(context.Background(), delivery(t, payments.ProviderStripe, captured("evt_1"), "forged"))
	if !errors.Is(err, ErrWebhookSignatureInvalid) {
		t.Fatalf("expected ErrWebhookSignatureInvalid, got %v", err)
	}
	log := f.store.webhookLog(result.LogID)
	if log.Status != domain.WebhookStatusFailed || log.SignatureValid || log.EventType != domain.WebhookEventSignatureFailed {
		t.Fatalf("unexpected log %+v", log)
	}
	if got := f.store.order("ord_1").PaymentStatus; got != domain.PaymentStatusPending {
		t.Fatalf("unverified delivery changed the order: %s", got)
	}
	if len(f.archive.logs) != 0 {
		t.Fatalf("unverified payload archived")
	}
	if _, err := f.svc.ReplayWebhook(context.Background(), result.LogID); !errors.Is(err, ErrWebhookNotReplayable) {
		t.Fatalf("expected unverified log to be non-replayable, got %v", err)
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	f := newReconFixture(t)
	_, err := f.svc.HandleWebhook(context.Background(), delivery(t, "paypal", captured("evt_1"), "ok"))
	if !errors.Is(err, ErrWebhookUnknownProvider) {
		t.Fatalf("expected ErrWebhookUnknownProvider, got %v", err)
	}
}

func TestWebhookLogInsertFailureSurfaces(t *testing.T) {
	f := newReconFixture(t)
	f.store.failOn["logs.insert"] = errInjected

	_, err := f.svc.HandleWebhook(context.Background(), delivery(t, payments.ProviderStripe, captured("evt_1"), "ok"))
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected insert failure, got %v", err)
	}
	if got := f.store.order("ord_1").PaymentStatus; got != domain.PaymentStatusPending {
		t.Fatalf("unlogged delivery changed the order: %s", got)
	}
}

func TestWebhookProcessingFailureIsReplayable(t *testing.T) {
	f := newReconFixture(t)
	event := captured("evt_1")
	event.OrderID = "ord_2"

	result := f.deliver(t, payments.ProviderStripe, event)
	if result.Status != domain.WebhookStatusFailed || result.Outcome != WebhookOutcomeError {
		t.Fatalf("expected failed processing, got %+v", result)
	}
	if log := f.store.webhookLog(result.LogID); log.Error == "" || log.Attempts != 1 {
		t.Fatalf("expected error on log, got %+v", log)
	}

	order := f.store.order("ord_1")
	order.ID = "ord_2"
	f.store.putOrder(order)

	replayed, err := f.svc.ReplayWebhook(context.Background(), result.LogID)
	if err != nil {
		t.Fatalf("ReplayWebhook: %v", err)
	}
	if replayed.Status != domain.WebhookStatusSuccess || replayed.Outcome != WebhookOutcomeCaptured {
		t.Fatalf("unexpected replay result %+v", replayed)
	}
	log := f.store.webhookLog(result.LogID)
	if log.Attempts != 2 || log.Error != "" {
		t.Fatalf("unexpected log after replay %+v", log)
	}
	if got := f.store.order("ord_2").PaymentStatus; got != domain.PaymentStatusPaid {
		t.Fatalf("expected replay to capture, got %s", got)
	}

	if _, err := f.svc.ReplayWebhook(context.Background(), result.LogID); !errors.Is(err, ErrWebhookNotReplayable) {
		t.Fatalf("expected successful log to be non-replayable, got %v", err)
	}
	if _, err := f.svc.ReplayWebhook(context.Background(), "whl_missing"); !errors.Is(err, ErrWebhookLogNotFound) {
		t.Fatalf("expected ErrWebhookLogNotFound, got %v", err)
	}
}

func TestWebhookIgnoredEvent(t *testing.T) {
	f := newReconFixture(t)
	result := f.deliver(t, payments.ProviderRazorpay, payments.Event{ID: "evt_x", Type: "order.paid", Kind: payments.EventIgnored})
	if result.Status != domain.WebhookStatusSuccess || result.Outcome != WebhookOutcomeIgnored {
		t.Fatalf("unexpected result %+v", result)
	}
}
