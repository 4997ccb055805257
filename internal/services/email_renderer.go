package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/karimtraders/grocery/internal/domain"
)

const orderEmailHTML = `<!doctype html>
<html><body style="font-family:sans-serif">
<h2>{{.Headline}}</h2>
<p>Order <strong>{{.Order.OrderNumber}}</strong> &middot; {{.StatusLabel}}</p>
{{if .Note}}<p>{{.Note}}</p>{{end}}
<table cellpadding="4">
{{range .Lines}}<tr><td>{{.Name}} &times; {{.Quantity}}</td><td align="right">{{.Amount}}</td></tr>
{{end}}<tr><td>Subtotal</td><td align="right">{{.Subtotal}}</td></tr>
{{if .Discount}}<tr><td>Discount</td><td align="right">-{{.Discount}}</td></tr>{{end}}
<tr><td>Delivery</td><td align="right">{{.DeliveryFee}}</td></tr>
<tr><td><strong>Total</strong></td><td align="right"><strong>{{.Total}}</strong></td></tr>
</table>
</body></html>`

const orderEmailText = `{{.Headline}}
Order {{.Order.OrderNumber}} - {{.StatusLabel}}
{{if .Note}}{{.Note}}
{{end}}{{range .Lines}}{{.Name}} x {{.Quantity}}: {{.Amount}}
{{end}}Total: {{.Total}}
`

// RenderedEmail is a subject with HTML and plain-text bodies.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// EmailRenderer renders order e-mails. Free text from users and admins is stripped of markup
// before it reaches the template.
type EmailRenderer struct {
	html    *template.Template
	text    *texttemplate.Template
	policy  *bluemonday.Policy
	printer *message.Printer
}

type emailLine struct {
	Name     string
	Quantity int
	Amount   string
}

type emailView struct {
	Headline    string
	StatusLabel string
	Note        string
	Order       domain.Order
	Lines       []emailLine
	Subtotal    string
	Discount    string
	DeliveryFee string
	Total       string
}

// NewEmailRenderer parses the templates; amounts are formatted for lang.
func NewEmailRenderer(lang language.Tag) (*EmailRenderer, error) {
	html, err := template.New("order").Parse(orderEmailHTML)
	if err != nil {
		return nil, fmt.Errorf("email renderer: parse html: %w", err)
	}
	text, err := texttemplate.New("order").Parse(orderEmailText)
	if err != nil {
		return nil, fmt.Errorf("email renderer: parse text: %w", err)
	}
	return &EmailRenderer{
		html:    html,
		text:    text,
		policy:  bluemonday.StrictPolicy(),
		printer: message.NewPrinter(lang),
	}, nil
}

// Render builds the e-mail for notice.
func (r *EmailRenderer) Render(notice OrderNotice) (RenderedEmail, error) {
	order := notice.Order
	view := emailView{
		Headline:    headlineFor(notice),
		StatusLabel: statusLabel(order.Status),
		Note:        strings.TrimSpace(r.policy.Sanitize(notice.Note)),
		Order:       order,
		Subtotal:    r.FormatAmount(order.Subtotal, order.Currency),
		DeliveryFee: r.FormatAmount(order.DeliveryFee, order.Currency),
		Total:       r.FormatAmount(order.Total, order.Currency),
	}
	if order.Discount > 0 {
		view.Discount = r.FormatAmount(order.Discount, order.Currency)
	}
	for _, item := range order.Items {
		view.Lines = append(view.Lines, emailLine{
			Name:     r.policy.Sanitize(item.Name),
			Quantity: item.Quantity,
			Amount:   r.FormatAmount(item.LineTotal, order.Currency),
		})
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("email renderer: html: %w", err)
	}
	if err := r.text.Execute(&textBuf, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("email renderer: text: %w", err)
	}
	return RenderedEmail{
		Subject: fmt.Sprintf("%s (%s)", view.Headline, order.OrderNumber),
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

// FormatAmount renders minor units with the currency symbol, e.g. 52800 INR as "₹ 528.00".
func (r *EmailRenderer) FormatAmount(minor int64, code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return fmt.Sprintf("%d %s", minor, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	value := decimal.New(minor, -int32(scale)).InexactFloat64()
	return r.printer.Sprint(currency.Symbol(unit.Amount(value)))
}

func headlineFor(notice OrderNotice) string {
	switch notice.Event {
	case OrderEventPlaced:
		return "Thanks for your order"
	case OrderEventCancelled:
		return "Your order was cancelled"
	case OrderEventPaymentCaptured:
		return "Payment received"
	case OrderEventPaymentFailed:
		return "Payment failed"
	case OrderEventRefunded:
		return "Your payment was refunded"
	default:
		return "Your order was updated"
	}
}

func statusLabel(status domain.OrderStatus) string {
	switch status {
	case domain.OrderStatusPending:
		return "Pending"
	case domain.OrderStatusConfirmed:
		return "Confirmed"
	case domain.OrderStatusPreparing:
		return "Being prepared"
	case domain.OrderStatusOutForDelivery:
		return "Out for delivery"
	case domain.OrderStatusDelivered:
		return "Delivered"
	case domain.OrderStatusCancelled:
		return "Cancelled"
	default:
		return string(status)
	}
}
