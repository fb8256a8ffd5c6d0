package detection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/verdict/pkg/classifier"
	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
	"github.com/dmitrymomot/verdict/svc/detection"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, c classifier.Content) (classifier.Verdict, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(classifier.Verdict), args.Error(1)
}

type outcomes struct {
	mu   sync.Mutex
	seen []string
}

func (o *outcomes) Classified(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome)
}

func (o *outcomes) Seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

var (
	visitor = identity.Anonymous("fp_visitor")
	text    = classifier.Content{Text: "The quick brown fox jumps over the lazy dog."}
	isAI    = true
	verdict = classifier.Verdict{Confidence: 87, IsAI: &isAI, Explanation: "uniform phrasing", Sources: []string{}}
)

func TestService_PerformCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("three free checks then denied", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		c.On("Classify", mock.Anything, text).Return(verdict, nil).Times(3)
		rec := &outcomes{}
		svc := detection.NewService(entitlement.NewService(entitlement.NewMemoryStore()), c, detection.WithRecorder(rec))

		for i := range 3 {
			res, err := svc.PerformCheck(ctx, visitor, text)
			require.NoError(t, err)
			assert.False(t, res.Denied)
			assert.Equal(t, entitlement.SourceFree, res.Source)
			assert.NotEmpty(t, res.CheckID)
			require.NotNil(t, res.Verdict)
			assert.Equal(t, 87, res.Verdict.Confidence)
			assert.Equal(t, 2-i, res.Balance.Remaining)
		}

		res, err := svc.PerformCheck(ctx, visitor, text)
		require.NoError(t, err)
		assert.True(t, res.Denied)
		assert.Nil(t, res.Verdict)
		assert.Equal(t, 0, res.Balance.Remaining)

		c.AssertExpectations(t)
		assert.Equal(t, []string{"classified", "classified", "classified", "denied"}, rec.Seen())
	})

	t.Run("invalid content consumes nothing", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		ent := entitlement.NewService(entitlement.NewMemoryStore())
		svc := detection.NewService(ent, c)

		_, err := svc.PerformCheck(ctx, visitor, classifier.Content{})
		require.ErrorIs(t, err, detection.ErrInvalidContent)
		assert.ErrorIs(t, err, classifier.ErrEmptyContent)

		_, err = svc.PerformCheck(ctx, visitor, classifier.Content{VideoURL: "ftp://example.com/a.mp4"})
		assert.ErrorIs(t, err, detection.ErrInvalidContent)

		bal, err := svc.CheckEntitlement(ctx, visitor)
		require.NoError(t, err)
		assert.Equal(t, 3, bal.Remaining)
		c.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})

	t.Run("classification failure refunds the unit", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		c.On("Classify", mock.Anything, text).Return(classifier.Verdict{}, classifier.ErrUnparseable).Once()
		ent := entitlement.NewService(entitlement.NewMemoryStore())
		rec := &outcomes{}
		svc := detection.NewService(ent, c, detection.WithRecorder(rec))

		_, err := svc.PerformCheck(ctx, visitor, text)
		require.ErrorIs(t, err, detection.ErrClassificationFailed)
		assert.ErrorIs(t, err, classifier.ErrUnparseable)

		bal, err := svc.CheckEntitlement(ctx, visitor)
		require.NoError(t, err)
		assert.Equal(t, 3, bal.Remaining)
		assert.Equal(t, []string{"failed"}, rec.Seen())
	})

	t.Run("refund can be disabled", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		c.On("Classify", mock.Anything, text).Return(classifier.Verdict{}, classifier.ErrProviderFailure).Once()
		svc := detection.NewService(entitlement.NewService(entitlement.NewMemoryStore()), c,
			detection.WithConfig(detection.Config{RefundOnFailure: false}))

		_, err := svc.PerformCheck(ctx, visitor, text)
		require.ErrorIs(t, err, detection.ErrClassificationFailed)

		bal, err := svc.CheckEntitlement(ctx, visitor)
		require.NoError(t, err)
		assert.Equal(t, 2, bal.Remaining)
	})

	t.Run("classifier runs under a deadline", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		c.On("Classify", mock.Anything, text).Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).Return(classifier.Verdict{}, context.DeadlineExceeded).Once()
		svc := detection.NewService(entitlement.NewService(entitlement.NewMemoryStore()), c,
			detection.WithConfig(detection.Config{ClassifyTimeout: 20 * time.Millisecond, RefundOnFailure: true}))

		_, err := svc.PerformCheck(ctx, visitor, text)
		require.ErrorIs(t, err, detection.ErrClassificationFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("subscribers are never denied", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		c.On("Classify", mock.Anything, text).Return(verdict, nil)
		ent := entitlement.NewService(entitlement.NewMemoryStore())
		member := identity.Authenticated("acc_1", "alice@example.com")
		_, err := ent.Activate(ctx, "stripe:evt_1", member.Key(), entitlement.PlanYearly, time.Time{})
		require.NoError(t, err)
		svc := detection.NewService(ent, c)

		for range 10 {
			res, err := svc.PerformCheck(ctx, member, text)
			require.NoError(t, err)
			assert.False(t, res.Denied)
			assert.Equal(t, entitlement.SourceUnlimited, res.Source)
			assert.True(t, res.Balance.Unlimited)
		}
	})

	t.Run("store failure is an error, not a denial", func(t *testing.T) {
		t.Parallel()
		c := &mockClassifier{}
		svc := detection.NewService(brokenEntitlements{}, c)

		_, err := svc.PerformCheck(ctx, visitor, text)
		require.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
		c.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})
}

type brokenEntitlements struct {
	detection.Entitlements
}

func (brokenEntitlements) TryConsume(context.Context, identity.Identity) (entitlement.Grant, error) {
	return entitlement.Grant{}, errors.Join(entitlement.ErrStoreUnavailable, errors.New("connection refused"))
}

func TestService_AccountAllowancePerWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &mockClassifier{}
	c.On("Classify", mock.Anything, text).Return(verdict, nil)
	svc := detection.NewService(entitlement.NewService(entitlement.NewMemoryStore()), c)
	member := identity.Authenticated("acc_1", "alice@example.com")

	granted := 0
	for range 3 {
		for range 4 {
			res, err := svc.PerformCheck(ctx, member, text)
			require.NoError(t, err)
			if !res.Denied {
				granted++
			}
		}
		bal, err := svc.CheckEntitlement(ctx, member)
		require.NoError(t, err)
		assert.Equal(t, 0, bal.Remaining)
	}
	assert.Equal(t, 3, granted)
	c.AssertNumberOfCalls(t, "Classify", 3)
}

func TestNewService_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { detection.NewService(nil, &mockClassifier{}) })
	assert.Panics(t, func() {
		detection.NewService(entitlement.NewService(entitlement.NewMemoryStore()), nil)
	})
}
