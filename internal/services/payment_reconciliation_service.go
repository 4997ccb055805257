package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/karimtraders/grocery/internal/domain"
	"github.com/karimtraders/grocery/internal/payments"
	"github.com/karimtraders/grocery/internal/platform/metrics"
	"github.com/karimtraders/grocery/internal/repositories"
)

const (
	webhookLogIDPrefix    = "whl_"
	defaultArchiveTimeout = 5 * time.Second
)

// Webhook outcomes recorded on the log and in metrics.
const (
	WebhookOutcomeCaptured        = "captured"
	WebhookOutcomeFailed          = "payment_failed"
	WebhookOutcomeRefunded        = "refunded"
	WebhookOutcomeTopUp           = "wallet_topup"
	WebhookOutcomeLateCapture     = "refunded_late_capture"
	WebhookOutcomeAlreadyPaid     = "already_paid"
	WebhookOutcomeAlreadyRefunded = "already_refunded"
	WebhookOutcomeDuplicate       = "duplicate"
	WebhookOutcomeIgnored         = "ignored"
	WebhookOutcomeError           = "error"
	WebhookOutcomeSignatureFailed = "signature_failed"
)

var (
	// ErrWebhookSignatureInvalid indicates the delivery failed signature verification.
	ErrWebhookSignatureInvalid = errors.New("webhook: signature invalid")
	// ErrWebhookUnknownProvider indicates no verifier is registered for the provider.
	ErrWebhookUnknownProvider = errors.New("webhook: unknown provider")
	// ErrWebhookLogNotFound indicates the stored delivery does not exist.
	ErrWebhookLogNotFound = errors.New("webhook: log not found")
	// ErrWebhookNotReplayable indicates the stored delivery did not fail or was never verified.
	ErrWebhookNotReplayable = errors.New("webhook: log is not replayable")

	errWebhookDuplicate = errors.New("webhook: event already processed")
)

// PaymentReconciliationDeps bundles collaborators for the reconciliation service.
type PaymentReconciliationDeps struct {
	Logs          repositories.WebhookLogRepository
	Events        repositories.WebhookEventRepository
	Orders        repositories.OrderRepository
	Wallets       repositories.WalletRepository
	Notifications repositories.NotificationRepository
	UnitOfWork    repositories.UnitOfWork
	Verifiers     []payments.WebhookVerifier
	Archive       WebhookArchive
	Notifier      OrderNotifier
	Metrics       *metrics.Recorder
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciliationService struct {
	logs          repositories.WebhookLogRepository
	events        repositories.WebhookEventRepository
	orders        repositories.OrderRepository
	wallets       repositories.WalletRepository
	notifications repositories.NotificationRepository
	unitOfWork    repositories.UnitOfWork
	verifiers     map[string]payments.WebhookVerifier
	archive       WebhookArchive
	notifier      OrderNotifier
	metrics       *metrics.Recorder
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentReconciliationService constructs the webhook processor.
func NewPaymentReconciliationService(deps PaymentReconciliationDeps) (PaymentReconciliationService, error) {
	switch {
	case deps.Logs == nil:
		return nil, errors.New("payment reconciliation: webhook log repository is required")
	case deps.Events == nil:
		return nil, errors.New("payment reconciliation: webhook event repository is required")
	case deps.Orders == nil:
		return nil, errors.New("payment reconciliation: order repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("payment reconciliation: wallet repository is required")
	case deps.Notifications == nil:
		return nil, errors.New("payment reconciliation: notification repository is required")
	case len(deps.Verifiers) == 0:
		return nil, errors.New("payment reconciliation: at least one webhook verifier is required")
	}
	verifiers := make(map[string]payments.WebhookVerifier, len(deps.Verifiers))
	for _, v := range deps.Verifiers {
		if v == nil {
			return nil, errors.New("payment reconciliation: nil webhook verifier")
		}
		verifiers[strings.ToLower(v.Provider())] = v
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentReconciliationService{
		logs:          deps.Logs,
		events:        deps.Events,
		orders:        deps.Orders,
		wallets:       deps.Wallets,
		notifications: deps.Notifications,
		unitOfWork:    unit,
		verifiers:     verifiers,
		archive:       deps.Archive,
		notifier:      deps.Notifier,
		metrics:       deps.Metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// HandleWebhook verifies, logs and applies one delivery. Once the delivery is logged the returned
// error is nil even when processing failed; the failure is kept on the log for replay. Only a
// signature failure or a failure to write the log surfaces as an error.
func (s *paymentReconciliationService) HandleWebhook(ctx context.Context, delivery WebhookDelivery) (WebhookResult, error) {
	provider := strings.ToLower(strings.TrimSpace(delivery.Provider))
	verifier, ok := s.verifiers[provider]
	if !ok {
		return WebhookResult{}, fmt.Errorf("%w: %q", ErrWebhookUnknownProvider, delivery.Provider)
	}
	header := http.Header(delivery.Header)
	now := s.clock()
	log := WebhookLog{
		ID:         webhookLogIDPrefix + s.newID(),
		Provider:   provider,
		RawPayload: delivery.Payload,
		Attempts:   1,
		ReceivedAt: now,
	}

	if err := verifier.VerifySignature(delivery.Payload, header); err != nil {
		log.Status = domain.WebhookStatusFailed
		log.EventType = domain.WebhookEventSignatureFailed
		log.Error = err.Error()
		log.Outcome = WebhookOutcomeSignatureFailed
		log.ProcessedAt = &now
		if insertErr := s.logs.Insert(ctx, log); insertErr != nil {
			s.logger(ctx, "webhook.log.insert.failed", map[string]any{"provider": provider, "error": insertErr.Error()})
		}
		s.metrics.WebhookProcessed(provider, WebhookOutcomeSignatureFailed)
		s.logger(ctx, "webhook.signature.invalid", map[string]any{"provider": provider, "logId": log.ID})
		return WebhookResult{LogID: log.ID, Status: log.Status, Outcome: log.Outcome}, fmt.Errorf("%w: %v", ErrWebhookSignatureInvalid, err)
	}

	log.Status = domain.WebhookStatusPending
	log.SignatureValid = true
	if err := s.logs.Insert(ctx, log); err != nil {
		return WebhookResult{}, fmt.Errorf("webhook: record delivery: %w", err)
	}
	s.archivePayload(ctx, log)

	event, outcome, procErr := s.process(ctx, verifier, log, header)
	return s.finish(ctx, log, event, outcome, procErr, 1), nil
}

// ReplayWebhook re-runs a stored delivery that failed after its signature was verified.
func (s *paymentReconciliationService) ReplayWebhook(ctx context.Context, logID string) (WebhookResult, error) {
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return WebhookResult{}, fmt.Errorf("%w: log id is required", ErrWebhookLogNotFound)
	}
	log, err := s.logs.FindByID(ctx, logID)
	if err != nil {
		if isRepoNotFound(err) {
			return WebhookResult{}, fmt.Errorf("%w: %s", ErrWebhookLogNotFound, logID)
		}
		return WebhookResult{}, err
	}
	if log.Status != domain.WebhookStatusFailed || !log.SignatureValid {
		return WebhookResult{}, fmt.Errorf("%w: status %s", ErrWebhookNotReplayable, log.Status)
	}
	verifier, ok := s.verifiers[log.Provider]
	if !ok {
		return WebhookResult{}, fmt.Errorf("%w: %q", ErrWebhookUnknownProvider, log.Provider)
	}

	s.logger(ctx, "webhook.replay.started", map[string]any{"logId": log.ID, "provider": log.Provider, "attempt": log.Attempts + 1})
	event, outcome, procErr := s.process(ctx, verifier, log, nil)
	return s.finish(ctx, log, event, outcome, procErr, log.Attempts+1), nil
}

func (s *paymentReconciliationService) finish(ctx context.Context, log WebhookLog, event payments.Event, outcome string, procErr error, attempts int) WebhookResult {
	update := repositories.WebhookLogUpdate{
		Status:      domain.WebhookStatusSuccess,
		EventType:   event.Type,
		EventID:     event.ID,
		Outcome:     outcome,
		ProcessedAt: s.clock(),
		Attempts:    attempts,
	}
	if procErr != nil {
		update.Status = domain.WebhookStatusFailed
		update.Outcome = WebhookOutcomeError
		update.Error = procErr.Error()
	}
	if err := s.logs.Update(ctx, log.ID, update); err != nil {
		s.logger(ctx, "webhook.log.update.failed", map[string]any{"logId": log.ID, "error": err.Error()})
	}

	s.metrics.WebhookProcessed(log.Provider, update.Outcome)
	fields := map[string]any{
		"logId":     log.ID,
		"provider":  log.Provider,
		"eventType": event.Type,
		"eventId":   event.ID,
		"outcome":   update.Outcome,
	}
	if procErr != nil {
		fields["error"] = procErr.Error()
		s.logger(ctx, "webhook.process.failed", fields)
	} else {
		s.logger(ctx, "webhook.processed", fields)
	}
	return WebhookResult{LogID: log.ID, Status: update.Status, Outcome: update.Outcome, SignatureValid: log.SignatureValid}
}

// process parses the stored payload and applies it. header is nil on replay, in which case the
// event id recorded on the log wins over a derived one.
func (s *paymentReconciliationService) process(ctx context.Context, verifier payments.WebhookVerifier, log WebhookLog, header http.Header) (payments.Event, string, error) {
	event, err := verifier.Parse(log.RawPayload, header)
	if err != nil {
		return event, "", err
	}
	if header == nil && log.EventID != "" {
		event.ID = log.EventID
	}

	switch {
	case event.Kind == payments.EventIgnored:
		return event, WebhookOutcomeIgnored, nil
	case event.IsWalletTopUp():
		if event.Kind != payments.EventCaptured {
			return event, WebhookOutcomeIgnored, nil
		}
		outcome, err := s.applyTopUp(ctx, event, log.ID)
		return event, outcome, err
	case event.OrderID == "":
		return event, "", fmt.Errorf("webhook: %s event %s carries no order reference", event.Type, event.ID)
	}

	var (
		order   Order
		outcome string
		notice  string
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		order, err = s.orders.FindByID(txCtx, event.OrderID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, event.OrderID)
			}
			return err
		}
		lateCapture := event.Kind == payments.EventCaptured &&
			order.Status == domain.OrderStatusCancelled &&
			order.PaymentStatus != domain.PaymentStatusPaid &&
			order.PaymentStatus != domain.PaymentStatusRefunded
		if lateCapture {
			if _, err := s.wallets.Get(txCtx, order.UserID); err != nil {
				return err
			}
		}
		if err := s.claim(txCtx, event, log.ID); err != nil {
			return err
		}

		now := s.clock()
		switch event.Kind {
		case payments.EventCaptured:
			outcome, notice, err = s.applyCapture(txCtx, &order, event, lateCapture, now)
		case payments.EventFailed:
			outcome, notice, err = s.applyFailure(txCtx, &order, event, now)
		case payments.EventRefunded:
			outcome, notice, err = s.applyRefund(txCtx, &order, event, now)
		}
		return err
	})
	if errors.Is(err, errWebhookDuplicate) {
		return event, WebhookOutcomeDuplicate, nil
	}
	if err != nil {
		return event, "", err
	}
	if notice != "" {
		s.dispatch(ctx, OrderNotice{Event: notice, Order: order, ActorID: event.Provider, Note: event.FailureMessage})
	}
	return event, outcome, nil
}

func (s *paymentReconciliationService) applyCapture(ctx context.Context, order *Order, event payments.Event, late bool, now time.Time) (string, string, error) {
	if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded {
		return WebhookOutcomeAlreadyPaid, "", nil
	}
	if event.Amount > 0 && event.Amount != order.Total {
		s.logger(ctx, "webhook.capture.amount_mismatch", map[string]any{
			"orderId":  order.ID,
			"expected": order.Total,
			"captured": event.Amount,
		})
	}
	order.PaymentProvider = event.Provider
	order.ProviderPaymentID = event.PaymentID
	order.UpdatedAt = now

	if late {
		order.PaymentStatus = domain.PaymentStatusPaid
		if err := refundToWallet(ctx, s.wallets, order, walletTxnIDPrefix+s.newID(), now); err != nil {
			return "", "", err
		}
		appendTimeline(order, order.Status, "Payment Refunded",
			"Payment received after cancellation was refunded to your wallet", now)
		if err := s.persist(ctx, *order, "Payment Refunded",
			fmt.Sprintf("Payment for cancelled order %s was refunded to your wallet.", order.OrderNumber), now); err != nil {
			return "", "", err
		}
		return WebhookOutcomeLateCapture, OrderEventRefunded, nil
	}

	order.PaymentStatus = domain.PaymentStatusPaid
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusConfirmed
	}
	appendTimeline(order, order.Status, "Payment Received", fmt.Sprintf("Payment captured via %s", event.Provider), now)
	if err := s.persist(ctx, *order, "Payment Received",
		fmt.Sprintf("Payment for order %s was received.", order.OrderNumber), now); err != nil {
		return "", "", err
	}
	return WebhookOutcomeCaptured, OrderEventPaymentCaptured, nil
}

func (s *paymentReconciliationService) applyFailure(ctx context.Context, order *Order, event payments.Event, now time.Time) (string, string, error) {
	if order.PaymentStatus == domain.PaymentStatusPaid || order.PaymentStatus == domain.PaymentStatusRefunded {
		return WebhookOutcomeIgnored, "", nil
	}
	order.PaymentStatus = domain.PaymentStatusFailed
	order.PaymentProvider = event.Provider
	order.ProviderPaymentID = event.PaymentID
	order.UpdatedAt = now
	message := event.FailureMessage
	if message == "" {
		message = "The payment provider declined the payment"
	}
	appendTimeline(order, order.Status, "Payment Failed", message, now)
	if err := s.persist(ctx, *order, "Payment Failed",
		fmt.Sprintf("Payment for order %s failed: %s", order.OrderNumber, message), now); err != nil {
		return "", "", err
	}
	return WebhookOutcomeFailed, OrderEventPaymentFailed, nil
}

func (s *paymentReconciliationService) applyRefund(ctx context.Context, order *Order, event payments.Event, now time.Time) (string, string, error) {
	if order.PaymentStatus == domain.PaymentStatusRefunded {
		return WebhookOutcomeAlreadyRefunded, "", nil
	}
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.UpdatedAt = now
	appendTimeline(order, order.Status, "Payment Refunded", fmt.Sprintf("Refund issued via %s", event.Provider), now)
	if err := s.persist(ctx, *order, "Payment Refunded",
		fmt.Sprintf("Payment for order %s was refunded.", order.OrderNumber), now); err != nil {
		return "", "", err
	}
	return WebhookOutcomeRefunded, OrderEventRefunded, nil
}

// applyTopUp credits a captured wallet top-up. The ledger entry id is derived from the PSP payment
// id, so a second capture event for the same payment collides with the first one.
func (s *paymentReconciliationService) applyTopUp(ctx context.Context, event payments.Event, logID string) (string, error) {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return "", fmt.Errorf("webhook: top-up event %s carries no user reference", event.ID)
	}
	if event.Amount <= 0 {
		return "", fmt.Errorf("webhook: top-up event %s has no amount", event.ID)
	}
	reference := event.PaymentID
	if reference == "" {
		reference = event.ID
	}

	var wallet Wallet
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.wallets.Get(txCtx, userID); err != nil {
			return err
		}
		if err := s.claim(txCtx, event, logID); err != nil {
			return err
		}
		now := s.clock()
		var err error
		wallet, err = s.wallets.Credit(txCtx, userID, event.Amount)
		if err != nil {
			return err
		}
		if err := s.wallets.AppendTransaction(txCtx, WalletTransaction{
			ID:           fmt.Sprintf("%stopup_%s_%s", walletTxnIDPrefix, event.Provider, reference),
			UserID:       userID,
			Type:         domain.WalletTransactionCredit,
			Amount:       event.Amount,
			BalanceAfter: wallet.Balance,
			Description:  "Wallet top-up",
			ReferenceID:  reference,
			CreatedAt:    now,
		}); err != nil {
			if isRepoConflict(err) {
				return errWebhookDuplicate
			}
			return err
		}
		return s.notifications.Insert(txCtx, Notification{
			ID:      notificationIDPrefix + s.newID(),
			UserID:  userID,
			Type:    domain.NotificationTypeWallet,
			Title:   "Wallet Topped Up",
			Message: "Your wallet was credited.",
			Data: map[string]any{
				"amount":  event.Amount,
				"balance": wallet.Balance,
			},
			CreatedAt: now,
		})
	})
	if errors.Is(err, errWebhookDuplicate) || isRepoConflict(err) {
		return WebhookOutcomeDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	s.logger(ctx, "wallet.topup.credited", map[string]any{"userId": userID, "amount": event.Amount, "balance": wallet.Balance})
	return WebhookOutcomeTopUp, nil
}

// claim records provider:eventId. It reads before it writes, so callers finish their own reads
// first.
func (s *paymentReconciliationService) claim(ctx context.Context, event payments.Event, logID string) error {
	if err := s.events.Claim(ctx, event.Provider, event.ID, logID, s.clock()); err != nil {
		if isRepoConflict(err) {
			return errWebhookDuplicate
		}
		return err
	}
	return nil
}

func (s *paymentReconciliationService) persist(ctx context.Context, order Order, title, message string, now time.Time) error {
	if err := s.orders.Update(ctx, order); err != nil {
		return err
	}
	return s.notifications.Insert(ctx, orderNotification(notificationIDPrefix+s.newID(), order, title, message, now))
}

func (s *paymentReconciliationService) archivePayload(ctx context.Context, log WebhookLog) {
	if s.archive == nil {
		return
	}
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultArchiveTimeout)
	defer cancel()
	if err := s.archive.Archive(archiveCtx, log); err != nil {
		s.logger(ctx, "webhook.archive.failed", map[string]any{"logId": log.ID, "error": err.Error()})
	}
}

func (s *paymentReconciliationService) dispatch(ctx context.Context, notice OrderNotice) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, notice)
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
