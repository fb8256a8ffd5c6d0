package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/pkg/logger"
)

// Config controls how checks are run.
type Config struct {
	ClassifyTimeout time.Duration `env:"CLASSIFY_TIMEOUT" envDefault:"90s"`
	RefundOnFailure bool          `env:"QUOTA_REFUND_ON_FAILURE" envDefault:"true"`
}

// Entitlements is the part of the entitlement service used here.
type Entitlements interface {
	Check(ctx context.Context, id identity.Identity) (entitlement.Balance, error)
	TryConsume(ctx context.Context, id identity.Identity) (entitlement.Grant, error)
	Refund(ctx context.Context, g entitlement.Grant) error
}

// Recorder observes classification outcomes.
type Recorder interface {
	Classified(outcome string)
}

// Classification outcomes reported to the Recorder.
const (
	OutcomeClassified = "classified"
	OutcomeDenied     = "denied"
	OutcomeFailed     = "failed"
)

// Result is the outcome of PerformCheck.
type Result struct {
	Denied  bool                `json:"denied"`
	CheckID string              `json:"check_id,omitempty"`
	Source  entitlement.Source  `json:"source,omitempty"`
	Verdict *classifier.Verdict `json:"verdict,omitempty"`
	Balance entitlement.Balance `json:"balance"`
}

// Service composes the consumption coordinator and the classifier.
type Service struct {
	entitlements Entitlements
	classifier   classifier.Classifier
	cfg          Config
	recorder     Recorder
	log          *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.ClassifyTimeout > 0 {
			s.cfg.ClassifyTimeout = cfg.ClassifyTimeout
		}
		s.cfg.RefundOnFailure = cfg.RefundOnFailure
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService panics on missing collaborators.
func NewService(entitlements Entitlements, c classifier.Classifier, opts ...Option) *Service {
	if entitlements == nil || c == nil {
		panic("detection: entitlements and classifier are required")
	}
	s := &Service{
		entitlements: entitlements,
		classifier:   c,
		cfg:          Config{ClassifyTimeout: 90 * time.Second, RefundOnFailure: true},
		log:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckEntitlement returns the current balance of id.
func (s *Service) CheckEntitlement(ctx context.Context, id identity.Identity) (entitlement.Balance, error) {
	return s.entitlements.Check(ctx, id)
}

// PerformCheck consumes one unit for id and classifies content.
func (s *Service) PerformCheck(ctx context.Context, id identity.Identity, content classifier.Content) (Result, error) {
	if err := content.Validate(); err != nil {
		return Result{}, errors.Join(ErrInvalidContent, err)
	}

	grant, err := s.entitlements.TryConsume(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("detection: consume: %w", err)
	}
	log := s.log.With(logger.Component("detection"), logger.Identity(grant.Key.String()))
	if !grant.Granted {
		log.InfoContext(ctx, "check denied, quota exhausted",
			slog.Int("free_total", grant.Balance.FreeTotal),
			slog.Int("credits", grant.Balance.Credits),
		)
		s.record(OutcomeDenied)
		return Result{Denied: true, Balance: grant.Balance}, nil
	}
	log = log.With(logger.CheckID(grant.CheckID), slog.String("source", string(grant.Source)))

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ClassifyTimeout)
	defer cancel()

	verdict, err := s.classifier.Classify(cctx, content)
	if err != nil {
		s.record(OutcomeFailed)
		log.ErrorContext(ctx, "classification failed",
			slog.String("content_kind", content.Kind()),
			logger.Error(err),
		)
		if s.cfg.RefundOnFailure {
			// The caller may have gone away; the unit still has to come back.
			if rerr := s.entitlements.Refund(context.WithoutCancel(ctx), grant); rerr != nil {
				log.ErrorContext(ctx, "failed to refund check", logger.Error(rerr))
			}
		}
		return Result{}, errors.Join(ErrClassificationFailed, err)
	}

	s.record(OutcomeClassified)
	log.DebugContext(ctx, "check classified", slog.Int("confidence", verdict.Confidence))
	return Result{
		CheckID: grant.CheckID,
		Source:  grant.Source,
		Verdict: &verdict,
		Balance: grant.Balance,
	}, nil
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.Classified(outcome)
	}
}
