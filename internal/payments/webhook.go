package payments

import (
	"errors"
	"net/http"
)

// Provider names as they appear in webhook routes and logs.
const (
	ProviderStripe   = "stripe"
	ProviderRazorpay = "razorpay"
)

var (
	// ErrSignatureInvalid is returned when a webhook signature does not verify.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")
	// ErrMalformedEvent is returned when a verified payload cannot be decoded.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

// EventKind is the normalised meaning of a provider event.
type EventKind string

const (
	EventCaptured EventKind = "captured"
	EventFailed   EventKind = "failed"
	EventRefunded EventKind = "refunded"
	// EventIgnored marks event types the workflow does not act on.
	EventIgnored EventKind = "ignored"
)

// Event is a provider webhook reduced to the fields reconciliation needs.
type Event struct {
	Provider       string
	ID             string
	Type           string
	Kind           EventKind
	Purpose        string
	OrderID        string
	UserID         string
	PaymentID      string
	Amount         int64
	Currency       string
	FailureMessage string
}

// IsWalletTopUp reports whether the payment funds a wallet rather than an order.
func (e Event) IsWalletTopUp() bool {
	return e.Purpose == PurposeWalletTopUp
}

// WebhookVerifier authenticates and decodes deliveries from one PSP. Parse does not check the
// signature, which lets stored payloads be replayed.
type WebhookVerifier interface {
	Provider() string
	VerifySignature(payload []byte, header http.Header) error
	Parse(payload []byte, header http.Header) (Event, error)
}
