package checks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/verdict/handler"
	"github.com/dmitrymomot/verdict/pkg/billing"
	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
	"github.com/dmitrymomot/verdict/svc/detection"
)

var (
	errQuotaExhausted = handler.HTTPError{
		Code:    http.StatusPaymentRequired,
		Key:     "quota_exhausted",
		Message: "No checks left. Buy credits or subscribe to continue.",
	}
	errInvalidContent       = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_content"}
	errClassificationFailed = handler.HTTPError{Code: http.StatusBadGateway, Key: "classification_failed", Message: "The check could not be completed."}
	errUnknownPlan          = handler.HTTPError{Code: http.StatusUnprocessableEntity, Key: "unknown_plan"}
	errCheckoutUnavailable  = handler.HTTPError{Code: http.StatusBadGateway, Key: "checkout_unavailable", Message: "The payment provider is not reachable. Try again later."}
	errRateLimited          = handler.ErrTooManyRequests.WithMessage("Too many checks from your network. Try again shortly.")
	errStoreUnavailable     = handler.ErrServiceUnavailable.WithMessage("Usage records are temporarily unavailable.")
)

type api struct {
	detector Detector
	checkout Checkout
	log      *slog.Logger
}

// caller returns the identity stored by identity.Middleware.
func caller(ctx handler.Context) identity.Identity {
	if id, ok := identity.FromContext(ctx); ok {
		return id
	}
	return identity.Anonymous(identity.Fingerprint(identity.AttributesFromRequest(ctx.Request())))
}

func (a *api) entitlement(ctx handler.Context, _ struct{}) handler.Response {
	balance, err := a.detector.CheckEntitlement(ctx, caller(ctx))
	if err != nil {
		return a.fail(ctx, err)
	}
	return handler.JSON(balance)
}

func (a *api) performCheck(ctx handler.Context, content classifier.Content) handler.Response {
	result, err := a.detector.PerformCheck(ctx, caller(ctx), content)
	if err != nil {
		return a.fail(ctx, err)
	}
	if result.Denied {
		return handler.JSON(handler.JSONResponse{
			Data:  result,
			Error: &handler.ErrorDetail{Code: errQuotaExhausted.Key, Message: errQuotaExhausted.Message},
		}, handler.WithJSONStatus(errQuotaExhausted.Code))
	}
	return handler.JSON(result)
}

func (a *api) offers(_ handler.Context, _ struct{}) handler.Response {
	return handler.JSON(a.checkout.Catalog.Offers)
}

type checkoutRequest struct {
	Plan entitlement.Plan `json:"plan"`
}

func (req checkoutRequest) validate() error {
	verr := handler.NewValidationError()
	switch {
	case strings.TrimSpace(string(req.Plan)) == "":
		verr.Add("plan", "is required")
	case !req.Plan.Valid() || req.Plan == entitlement.PlanNone:
		verr.Add("plan", "must be one of pay_per_use, monthly, yearly")
	}
	if verr.IsEmpty() {
		return nil
	}
	return verr
}

func (a *api) createCheckout(ctx handler.Context, req checkoutRequest) handler.Response {
	id := caller(ctx)
	if !id.IsAuthenticated() {
		return handler.JSONError(handler.ErrUnauthorized.WithMessage("Sign in to buy checks."))
	}
	if err := req.validate(); err != nil {
		return handler.JSONError(err)
	}

	offer, err := a.checkout.Catalog.Offer(req.Plan)
	if err != nil {
		return a.fail(ctx, err)
	}

	// The account must exist before the payment notification arrives,
	// otherwise the notification cannot be attributed.
	if a.checkout.Accounts != nil {
		if err := a.checkout.Accounts.Save(ctx, billing.Account{ID: id.AccountID, Email: id.Email}); err != nil {
			return a.fail(ctx, err)
		}
	}

	link, err := a.checkout.Provider.CreateCheckout(ctx, billing.CheckoutRequest{
		Offer:      offer,
		AccountID:  id.AccountID,
		Email:      id.Email,
		SuccessURL: a.checkout.SuccessURL,
		CancelURL:  a.checkout.CancelURL,
	})
	if err != nil {
		return a.fail(ctx, err)
	}

	a.log.InfoContext(ctx, "checkout created",
		logger.Provider(a.checkout.Provider.Name()),
		slog.String("plan", string(offer.Plan)),
		slog.String("session_id", link.SessionID),
	)
	return handler.JSON(link, handler.WithJSONStatus(http.StatusCreated))
}

// fail maps err to a client-facing error and logs unexpected failures.
func (a *api) fail(ctx handler.Context, err error) handler.Response {
	mapped := mapError(err)
	if mapped.Code >= http.StatusInternalServerError {
		a.log.ErrorContext(ctx, "request failed",
			slog.String("path", ctx.Request().URL.Path),
			slog.Int("status_code", mapped.Code),
			logger.Error(err),
		)
	}
	return handler.JSONError(mapped)
}

func mapError(err error) handler.HTTPError {
	switch {
	case errors.Is(err, detection.ErrInvalidContent):
		return errInvalidContent.WithMessage(contentProblem(err))
	case errors.Is(err, detection.ErrClassificationFailed):
		return errClassificationFailed
	case errors.Is(err, billing.ErrUnknownOffer):
		return errUnknownPlan.WithMessage("This plan is not for sale.")
	case errors.Is(err, billing.ErrProviderError), errors.Is(err, billing.ErrNoCheckoutURL):
		return errCheckoutUnavailable
	case errors.Is(err, entitlement.ErrStoreUnavailable), errors.Is(err, entitlement.ErrConflict):
		return errStoreUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return handler.ErrGatewayTimeout
	}
	return handler.ErrInternalServerError
}

func contentProblem(err error) string {
	switch {
	case errors.Is(err, classifier.ErrEmptyContent):
		return "Provide text, an image, a video or a video URL."
	case errors.Is(err, classifier.ErrContentTooLarge):
		return "Text is too long."
	case errors.Is(err, classifier.ErrInvalidImage):
		return "Image must be a data URL or an https URL."
	case errors.Is(err, classifier.ErrInvalidVideoURL):
		return "Video URL must be an absolute http or https URL."
	}
	return "Content cannot be checked."
}
