package payments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/karimtraders/grocery/internal/platform/auth"
)

const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

// RazorpayWebhookVerifier checks the hex HMAC-SHA256 body signature Razorpay sends.
type RazorpayWebhookVerifier struct {
	secret string
}

// NewRazorpayWebhookVerifier constructs a verifier for the webhook secret.
func NewRazorpayWebhookVerifier(secret string) *RazorpayWebhookVerifier {
	return &RazorpayWebhookVerifier{secret: strings.TrimSpace(secret)}
}

// Provider implements WebhookVerifier.
func (v *RazorpayWebhookVerifier) Provider() string { return ProviderRazorpay }

// VerifySignature implements WebhookVerifier.
func (v *RazorpayWebhookVerifier) VerifySignature(payload []byte, header http.Header) error {
	if err := auth.VerifyBodySignature(v.secret, payload, header.Get(razorpaySignatureHeader)); err != nil {
		if errors.Is(err, auth.ErrSecretMissing) {
			return fmt.Errorf("%w: razorpay secret not configured", ErrSignatureInvalid)
		}
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

type razorpayEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity razorpayRefund `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID               string        `json:"id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           string        `json:"status"`
	Notes            razorpayNotes `json:"notes"`
	ErrorDescription string        `json:"error_description"`
	ErrorReason      string        `json:"error_reason"`
}

type razorpayRefund struct {
	ID        string        `json:"id"`
	PaymentID string        `json:"payment_id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Notes     razorpayNotes `json:"notes"`
}

// razorpayNotes tolerates Razorpay sending an empty array instead of an empty object.
type razorpayNotes map[string]string

func (n *razorpayNotes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "[]" || trimmed == "null" {
		*n = nil
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make(razorpayNotes, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	*n = out
	return nil
}

// Parse implements WebhookVerifier. Razorpay puts the event id in a header; without it the payload
// hash identifies the delivery.
func (v *RazorpayWebhookVerifier) Parse(payload []byte, header http.Header) (Event, error) {
	var env razorpayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event", ErrMalformedEvent)
	}

	event := Event{Provider: ProviderRazorpay, Type: env.Event, Kind: EventIgnored}
	if header != nil {
		event.ID = strings.TrimSpace(header.Get(razorpayEventIDHeader))
	}
	if event.ID == "" {
		sum := sha256.Sum256(payload)
		event.ID = "sha256_" + hex.EncodeToString(sum[:16])
	}

	var notes razorpayNotes
	switch env.Event {
	case "payment.captured", "payment.failed":
		if env.Payload.Payment == nil {
			return Event{}, fmt.Errorf("%w: missing payment entity", ErrMalformedEvent)
		}
		payment := env.Payload.Payment.Entity
		event.Kind = EventCaptured
		if env.Event == "payment.failed" {
			event.Kind = EventFailed
			event.FailureMessage = firstNonEmpty(payment.ErrorDescription, payment.ErrorReason)
		}
		event.PaymentID = payment.ID
		event.Amount = payment.Amount
		event.Currency = payment.Currency
		notes = payment.Notes
	case "refund.created", "refund.processed":
		if env.Payload.Refund == nil {
			return Event{}, fmt.Errorf("%w: missing refund entity", ErrMalformedEvent)
		}
		refund := env.Payload.Refund.Entity
		event.Kind = EventRefunded
		event.PaymentID = refund.PaymentID
		event.Amount = refund.Amount
		event.Currency = refund.Currency
		notes = refund.Notes
		if env.Payload.Payment != nil && notes[MetadataOrderID] == "" && notes[MetadataPurpose] == "" {
			notes = env.Payload.Payment.Entity.Notes
		}
	default:
		return event, nil
	}
	applyMetadata(&event, notes)
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
