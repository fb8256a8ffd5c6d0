// Package email sends payment receipts.
//
// Sender abstracts delivery. PostmarkSender talks to Postmark; LogSender only
// logs and is used when no token is configured. Notifier renders a Receipt
// with ReceiptTemplate and passes it to a Sender:
//
//	sender := email.Sender(email.NewLogSender(log))
//	if cfg.Enabled() {
//		sender, err = email.NewPostmarkSender(cfg)
//	}
//	n := email.NewNotifier(sender, cfg)
//	err = n.SendReceipt(ctx, email.Receipt{To: "user@example.com", Credits: 15})
//
// Errors wrap ErrInvalidConfig, ErrInvalidMessage or ErrFailedToSendEmail.
package email
