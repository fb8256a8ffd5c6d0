// Package billing turns payment processor notifications into entitlement
// changes.
//
// A Provider (Stripe or Paddle) verifies the webhook signature and
// translates the payload into a provider-neutral PaymentEvent. The
// Reconciler attributes the event to an account through the
// IdentityResolver and applies it through the entitlement ledger, which
// records the event id in the same write as the balance change. A
// redelivered event is therefore reported as a duplicate and never
// credits twice.
//
// Attribution never guesses. The explicit account id attached at checkout
// wins and must agree with the email when both are present; otherwise the
// provider customer id and then the email are looked up. Events that match
// nothing are logged at Error with the full hint and answered with 422 so
// the processor keeps redelivering until an operator fixes the account.
//
// Basic wiring:
//
//	catalog := billing.DefaultCatalog()
//	stripe, err := billing.NewStripeProvider(cfg.Stripe, catalog)
//	if err != nil {
//		return err
//	}
//	rec := billing.NewReconciler(entitlements, billing.NewPGDirectory(pool),
//		billing.WithReceipts(email.NewNotifier(sender, cfg.Email)),
//	)
//	r.Post("/webhooks/stripe", billing.NewWebhookHandler(stripe, rec).ServeHTTP)
package billing
