package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// MaxWebhookBodySize bounds webhook payloads.
const MaxWebhookBodySize = 1 << 20

// WebhookRecorder observes handled webhooks.
type WebhookRecorder interface {
	WebhookHandled(provider, outcome string, took time.Duration)
}

// WebhookHandler receives payment notifications from one provider.
//
// Status codes tell the processor whether to redeliver: 2xx for applied,
// duplicate and ignored events, 4xx for payloads that will never verify,
// 422 while the payer cannot be identified or a paid amount matches no
// offer, and 500 for infrastructure failures.
type WebhookHandler struct {
	provider   Provider
	reconciler *Reconciler
	recorder   WebhookRecorder
	log        *slog.Logger
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

func WithWebhookRecorder(rec WebhookRecorder) WebhookOption {
	return func(h *WebhookHandler) { h.recorder = rec }
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewWebhookHandler(provider Provider, reconciler *Reconciler, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		provider:   provider,
		reconciler: reconciler,
		log:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type webhookReply struct {
	Status string `json:"status"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	name := h.provider.Name()
	log := h.log.With(logger.Component("webhook"), logger.Provider(name))

	reply := func(status int, outcome string) {
		if h.recorder != nil {
			h.recorder.WebhookHandled(name, outcome, time.Since(start))
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(webhookReply{Status: outcome})
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reply(http.StatusRequestEntityTooLarge, "too_large")
			return
		}
		reply(http.StatusBadRequest, "unreadable")
		return
	}

	ev, err := h.provider.ParseWebhook(ctx, payload, r.Header.Get(h.provider.SignatureHeader()))
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidSignature):
		log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		reply(http.StatusBadRequest, "invalid_signature")
		return
	case errors.Is(err, ErrAmountMismatch):
		attrs := []any{logger.Error(err)}
		var unmatched *UnmatchedPaymentError
		if errors.As(err, &unmatched) {
			attrs = append(attrs,
				logger.EventID(unmatched.Event.ID),
				slog.Any("hint", unmatched.Event.Hint),
				slog.Int64("amount_cents", unmatched.Event.AmountCents),
				slog.String("currency", unmatched.Event.Currency),
			)
		}
		log.ErrorContext(ctx, "paid amount matches no offer", attrs...)
		reply(http.StatusUnprocessableEntity, "amount_mismatch")
		return
	case errors.Is(err, ErrIgnoredEvent):
		log.DebugContext(ctx, "webhook ignored", logger.Error(err))
		reply(http.StatusOK, string(OutcomeIgnored))
		return
	case errors.Is(err, ErrUnknownOffer):
		log.ErrorContext(ctx, "webhook references an unknown offer", logger.Error(err))
		reply(http.StatusUnprocessableEntity, "unknown_offer")
		return
	default:
		log.WarnContext(ctx, "malformed webhook", logger.Error(err))
		reply(http.StatusBadRequest, "malformed")
		return
	}

	outcome, err := h.reconciler.Apply(ctx, *ev)
	switch outcome {
	case OutcomeApplied, OutcomeDuplicate, OutcomeIgnored:
		reply(http.StatusOK, string(outcome))
	case OutcomeUnresolved:
		reply(http.StatusUnprocessableEntity, string(outcome))
	default:
		log.ErrorContext(ctx, "failed to apply payment event", logger.EventID(ev.ID), logger.Error(err))
		reply(http.StatusInternalServerError, string(OutcomeFailed))
	}
}
