package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/karimtraders/grocery/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Sessions stripeSessionAPI
}

// StripeProvider opens Stripe Checkout sessions.
type StripeProvider struct {
	sessions stripeSessionAPI
	clock    func() time.Time
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	sessions := cfg.Sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &StripeProvider{sessions: sessions, clock: clock, logger: logger}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session in payment mode. Metadata is copied to the
// payment intent so payment_intent.* webhooks carry the same references.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   textutil.CompactStringMap(req.Metadata),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: textutil.CompactStringMap(req.Metadata),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	currency := strings.ToLower(req.Currency)
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)},
			},
		})
	}
	if len(params.LineItems) == 0 {
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String("Payment")},
			},
		}}
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": intentID,
	})

	expiresAt := p.clock().UTC().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return CheckoutSession{
		ID:          session.ID,
		Provider:    ProviderStripe,
		RedirectURL: session.URL,
		IntentID:    intentID,
		ExpiresAt:   expiresAt,
	}, nil
}

// StripeWebhookVerifier checks the Stripe-Signature header and decodes payment events.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier constructs a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Provider implements WebhookVerifier.
func (v *StripeWebhookVerifier) Provider() string { return ProviderStripe }

// VerifySignature implements WebhookVerifier.
func (v *StripeWebhookVerifier) VerifySignature(payload []byte, header http.Header) error {
	if v.secret == "" {
		return fmt.Errorf("%w: stripe secret not configured", ErrSignatureInvalid)
	}
	if err := webhook.ValidatePayload(payload, header.Get("Stripe-Signature"), v.secret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

// Parse implements WebhookVerifier.
func (v *StripeWebhookVerifier) Parse(payload []byte, _ http.Header) (Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw.ID == "" || raw.Data == nil {
		return Event{}, fmt.Errorf("%w: missing id or data", ErrMalformedEvent)
	}
	event := Event{Provider: ProviderStripe, ID: raw.ID, Type: string(raw.Type), Kind: EventIgnored}

	switch raw.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(raw.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Kind = EventCaptured
		if raw.Type == "payment_intent.payment_failed" {
			event.Kind = EventFailed
			if intent.LastPaymentError != nil {
				event.FailureMessage = intent.LastPaymentError.Msg
			}
		}
		event.PaymentID = intent.ID
		event.Amount = intent.Amount
		event.Currency = string(intent.Currency)
		applyMetadata(&event, intent.Metadata)
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return event, nil
		}
		event.Kind = EventCaptured
		if session.PaymentIntent != nil {
			event.PaymentID = session.PaymentIntent.ID
		}
		event.Amount = session.AmountTotal
		event.Currency = string(session.Currency)
		applyMetadata(&event, session.Metadata)
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(raw.Data.Raw, &charge); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		event.Kind = EventRefunded
		event.PaymentID = charge.ID
		if charge.PaymentIntent != nil {
			event.PaymentID = charge.PaymentIntent.ID
		}
		event.Amount = charge.AmountRefunded
		event.Currency = string(charge.Currency)
		applyMetadata(&event, charge.Metadata)
	}
	return event, nil
}

func applyMetadata(event *Event, metadata map[string]string) {
	event.OrderID = strings.TrimSpace(metadata[MetadataOrderID])
	event.UserID = strings.TrimSpace(metadata[MetadataUserID])
	event.Purpose = strings.TrimSpace(metadata[MetadataPurpose])
	if event.Purpose == "" && event.OrderID != "" {
		event.Purpose = PurposeOrder
	}
}
