package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/karimtraders/grocery/internal/platform/textutil"
	"github.com/karimtraders/grocery/internal/services"
)

// orderEventMessage is the wire shape of an order event on the order-events topic.
type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         string         `json:"userId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	PaymentStatus  string         `json:"paymentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubOrderEventPublisher publishes order events keyed by order id so consumers see the events
// of one order in commit order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a publisher and enables message ordering on topic.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return errors.New("pubsub order event publisher: order id is required")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        orderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		PaymentStatus:  event.PaymentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", orderID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// a failed publish pauses the ordering key until resumed
		p.topic.ResumePublish(orderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// emailMessage is the wire shape consumed by the mail worker.
type emailMessage struct {
	To       string            `json:"to"`
	From     string            `json:"from,omitempty"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"htmlBody,omitempty"`
	TextBody string            `json:"textBody,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// PubSubEmailSender hands rendered e-mails to the mail worker through a Pub/Sub topic. The
// message id is the Pub/Sub server id.
type PubSubEmailSender struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.EmailSender = (*PubSubEmailSender)(nil)

// NewPubSubEmailSender constructs a sender for topic.
func NewPubSubEmailSender(topic *pubsub.Topic) (*PubSubEmailSender, error) {
	if topic == nil {
		return nil, errors.New("pubsub email sender: topic is required")
	}
	return &PubSubEmailSender{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Send never returns an error; failures are reported on the result.
func (s *PubSubEmailSender) Send(ctx context.Context, msg services.EmailMessage) services.EmailResult {
	if s == nil || s.topic == nil {
		return services.EmailResult{Err: errors.New("pubsub email sender: not initialised")}
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return services.EmailResult{Err: errors.New("pubsub email sender: recipient is required")}
	}
	data, err := s.marshal(emailMessage{
		To:       to,
		From:     strings.TrimSpace(msg.From),
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
		Tags:     msg.Tags,
	})
	if err != nil {
		return services.EmailResult{Err: fmt.Errorf("marshal email: %w", err)}
	}

	id, err := s.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: textutil.CompactStringMap(msg.Tags),
	}).Get(ctx)
	if err != nil {
		return services.EmailResult{Err: fmt.Errorf("publish email: %w", err)}
	}
	return services.EmailResult{Success: true, MessageID: id}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
