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

const (
	webhookLogsCollection   = "webhookLogs"
	webhookEventsCollection = "webhookEvents"
)

type webhookLogDocument struct {
	Provider       string     `firestore:"provider"`
	EventType      string     `firestore:"eventType"`
	EventID        string     `firestore:"eventId,omitempty"`
	RawPayload     []byte     `firestore:"rawPayload"`
	Status         string     `firestore:"status"`
	Error          string     `firestore:"error,omitempty"`
	Outcome        string     `firestore:"outcome,omitempty"`
	SignatureValid bool       `firestore:"signatureValid"`
	Attempts       int        `firestore:"attempts"`
	ReceivedAt     time.Time  `firestore:"receivedAt"`
	ProcessedAt    *time.Time `firestore:"processedAt,omitempty"`
}

type webhookEventDocument struct {
	Provider  string    `firestore:"provider"`
	EventID   string    `firestore:"eventId"`
	LogID     string    `firestore:"logId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// WebhookLogRepository persists one document per inbound webhook delivery.
type WebhookLogRepository struct {
	logs *pfirestore.BaseRepository[webhookLogDocument]
}

// NewWebhookLogRepository constructs the webhook log repository.
func NewWebhookLogRepository(provider *pfirestore.Provider) (*WebhookLogRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook log repository requires firestore provider")
	}
	return &WebhookLogRepository{logs: pfirestore.NewBaseRepository[webhookLogDocument](provider, webhookLogsCollection)}, nil
}

// Insert records a new delivery.
func (r *WebhookLogRepository) Insert(ctx context.Context, log domain.WebhookLog) error {
	if strings.TrimSpace(log.ID) == "" {
		return errors.New("webhook log id is required")
	}
	return r.logs.Create(ctx, "", log.ID, webhookLogDocument{
		Provider:       log.Provider,
		EventType:      log.EventType,
		EventID:        log.EventID,
		RawPayload:     log.RawPayload,
		Status:         string(log.Status),
		Error:          log.Error,
		Outcome:        log.Outcome,
		SignatureValid: log.SignatureValid,
		Attempts:       log.Attempts,
		ReceivedAt:     log.ReceivedAt.UTC(),
		ProcessedAt:    utcPtr(log.ProcessedAt),
	})
}

// Update applies the processing result to the log. Empty strings leave a field untouched.
func (r *WebhookLogRepository) Update(ctx context.Context, logID string, update repositories.WebhookLogUpdate) error {
	var updates []firestore.Update
	if update.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: string(update.Status)})
	}
	if update.EventType != "" {
		updates = append(updates, firestore.Update{Path: "eventType", Value: update.EventType})
	}
	if update.EventID != "" {
		updates = append(updates, firestore.Update{Path: "eventId", Value: update.EventID})
	}
	if update.Outcome != "" {
		updates = append(updates, firestore.Update{Path: "outcome", Value: update.Outcome})
	}
	updates = append(updates, firestore.Update{Path: "error", Value: update.Error})
	if !update.ProcessedAt.IsZero() {
		updates = append(updates, firestore.Update{Path: "processedAt", Value: update.ProcessedAt.UTC()})
	}
	if update.Attempts > 0 {
		updates = append(updates, firestore.Update{Path: "attempts", Value: update.Attempts})
	}
	return r.logs.Update(ctx, "", strings.TrimSpace(logID), updates)
}

// FindByID loads a delivery, including its raw payload.
func (r *WebhookLogRepository) FindByID(ctx context.Context, logID string) (domain.WebhookLog, error) {
	doc, err := r.logs.Get(ctx, "", strings.TrimSpace(logID))
	if err != nil {
		return domain.WebhookLog{}, err
	}
	d := doc.Data
	return domain.WebhookLog{
		ID:             doc.ID,
		Provider:       d.Provider,
		EventType:      d.EventType,
		EventID:        d.EventID,
		RawPayload:     d.RawPayload,
		Status:         domain.WebhookStatus(d.Status),
		Error:          d.Error,
		Outcome:        d.Outcome,
		SignatureValid: d.SignatureValid,
		Attempts:       d.Attempts,
		ReceivedAt:     d.ReceivedAt.UTC(),
		ProcessedAt:    utcPtr(d.ProcessedAt),
	}, nil
}

// WebhookEventRepository records processed provider event ids under webhookEvents/{provider}:{eventId}.
type WebhookEventRepository struct {
	events *pfirestore.BaseRepository[webhookEventDocument]
}

// NewWebhookEventRepository constructs the event claim repository.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	return &WebhookEventRepository{events: pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventsCollection)}, nil
}

// Claim marks the event as processed. Inside a transaction the existence check is a read, so it
// must be issued before the unit of work writes anything.
func (r *WebhookEventRepository) Claim(ctx context.Context, provider, eventID, logID string, at time.Time) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	eventID = strings.TrimSpace(eventID)
	if provider == "" || eventID == "" {
		return errors.New("webhook event claim requires provider and event id")
	}
	id := fmt.Sprintf("%s:%s", provider, eventID)
	if _, inTx := pfirestore.TransactionFrom(ctx); inTx {
		_, err := r.events.Get(ctx, "", id)
		switch {
		case err == nil:
			return pfirestore.ConflictError(webhookEventsCollection+".claim", fmt.Sprintf("event %s already processed", id))
		case !isNotFound(err):
			return err
		}
	}
	return r.events.Create(ctx, "", id, webhookEventDocument{
		Provider:  provider,
		EventID:   eventID,
		LogID:     logID,
		ClaimedAt: at.UTC(),
	})
}
