package email_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/email"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	valid := email.Message{To: "user@example.com", Subject: "Hi", HTML: "<p>x</p>"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		mod  func(*email.Message)
	}{
		{"missing recipient", func(m *email.Message) { m.To = " " }},
		{"bad recipient", func(m *email.Message) { m.To = "not-an-address" }},
		{"missing subject", func(m *email.Message) { m.Subject = "" }},
		{"missing body", func(m *email.Message) { m.HTML = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := valid
			tt.mod(&msg)
			require.ErrorIs(t, msg.Validate(), email.ErrInvalidMessage)
		})
	}
}

func TestNewPostmarkSender(t *testing.T) {
	t.Parallel()

	_, err := email.NewPostmarkSender(email.Config{SenderEmail: "a@example.com", SupportEmail: "b@example.com"})
	require.ErrorIs(t, err, email.ErrInvalidConfig)

	_, err = email.NewPostmarkSender(email.Config{PostmarkServerToken: "tok", SenderEmail: "nope", SupportEmail: "b@example.com"})
	require.ErrorIs(t, err, email.ErrInvalidConfig)

	s, err := email.NewPostmarkSender(email.Config{PostmarkServerToken: "tok", SenderEmail: "a@example.com", SupportEmail: "b@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNotifierSendReceipt(t *testing.T) {
	t.Parallel()

	t.Run("credit purchase", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("Send", mock.Anything, mock.MatchedBy(func(m email.Message) bool {
			return m.To == "buyer@example.com" &&
				m.Subject == "Verdict: 15 checks added to your account" &&
				m.Tag == "receipt"
		})).Return(nil).Once()

		n := email.NewNotifier(sender, email.Config{ProductName: "Verdict"})
		err := n.SendReceipt(context.Background(), email.Receipt{
			To:          "buyer@example.com",
			Plan:        "pay_per_use",
			Credits:     15,
			AmountCents: 300,
			Currency:    "usd",
			Reference:   "cs_123",
			IssuedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("sender failure is returned", func(t *testing.T) {
		t.Parallel()
		sender := &mockSender{}
		sender.On("Send", mock.Anything, mock.Anything).Return(email.ErrFailedToSendEmail)

		n := email.NewNotifier(sender, email.Config{})
		err := n.SendReceipt(context.Background(), email.Receipt{To: "x@example.com", Plan: "monthly"})
		require.True(t, errors.Is(err, email.ErrFailedToSendEmail))
	})

	t.Run("log sender accepts valid messages", func(t *testing.T) {
		t.Parallel()
		n := email.NewNotifier(email.NewLogSender(logger.Discard()), email.Config{})
		require.NoError(t, n.SendReceipt(context.Background(), email.Receipt{To: "x@example.com", Plan: "yearly"}))
	})
}

func TestReceiptTemplateEscapes(t *testing.T) {
	t.Parallel()

	html, err := email.Render(context.Background(), email.ReceiptTemplate("Verdict", email.Receipt{
		Plan:        "<b>yearly</b>",
		AmountCents: 9900,
		Currency:    "usd",
	}))
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;b&gt;yearly&lt;/b&gt;")
	assert.Contains(t, html, "99.00 USD")
}

func TestReceiptTemplateRows(t *testing.T) {
	t.Parallel()

	t.Run("credit purchase", func(t *testing.T) {
		t.Parallel()
		html, err := email.Render(context.Background(), email.ReceiptTemplate("Verdict", email.Receipt{
			Plan:      "pay_per_use",
			Credits:   15,
			Reference: "stripe:pi_1",
			IssuedAt:  time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		}))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(html, "<!doctype html>"))
		assert.Contains(t, html, "<h1 style=\"font-size:20px\">Verdict</h1>")
		assert.Contains(t, html, "<tr><td><strong>Checks added</strong></td><td>15</td></tr>")
		assert.Contains(t, html, "<td>1 Mar 2026 12:30 UTC</td>")
		assert.Contains(t, html, "<td>stripe:pi_1</td>")
	})

	t.Run("empty values are skipped", func(t *testing.T) {
		t.Parallel()
		html, err := email.Render(context.Background(), email.ReceiptTemplate("Verdict", email.Receipt{Plan: "monthly"}))
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(html, "<tr>"))
		assert.NotContains(t, html, "Checks added")
		assert.NotContains(t, html, "Amount")
		assert.NotContains(t, html, "Date")
	})
}
