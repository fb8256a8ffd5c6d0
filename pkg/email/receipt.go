package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/a-h/templ"
)

// Receipt describes an applied payment.
type Receipt struct {
	To          string
	Plan        string
	Credits     int
	AmountCents int64
	Currency    string
	Reference   string
	IssuedAt    time.Time
}

// Subject returns the email subject line for r.
func (r Receipt) Subject(product string) string {
	if r.Credits > 0 {
		return fmt.Sprintf("%s: %d checks added to your account", product, r.Credits)
	}
	return fmt.Sprintf("%s: your %s subscription is active", product, r.Plan)
}

// Amount formats the paid amount, e.g. "3.00 USD". Empty when unknown.
func (r Receipt) Amount() string {
	if r.AmountCents <= 0 {
		return ""
	}
	return fmt.Sprintf("%d.%02d %s", r.AmountCents/100, r.AmountCents%100, strings.ToUpper(r.Currency))
}

// Render renders a component to a string.
func Render(ctx context.Context, c templ.Component) (string, error) {
	var sb strings.Builder
	if err := c.Render(ctx, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Notifier renders and sends receipts.
type Notifier struct {
	sender  Sender
	product string
}

func NewNotifier(sender Sender, cfg Config) *Notifier {
	product := cfg.ProductName
	if product == "" {
		product = "Verdict"
	}
	return &Notifier{sender: sender, product: product}
}

// SendReceipt renders r and hands it to the sender.
func (n *Notifier) SendReceipt(ctx context.Context, r Receipt) error {
	html, err := Render(ctx, ReceiptTemplate(n.product, r))
	if err != nil {
		return fmt.Errorf("email: render receipt: %w", err)
	}
	return n.sender.Send(ctx, Message{
		To:      r.To,
		Subject: r.Subject(n.product),
		HTML:    html,
		Tag:     "receipt",
	})
}
