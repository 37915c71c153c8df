package wizard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidmarket/internal/apperr"
	"bidmarket/internal/models"
)

type sinkFunc func(ctx context.Context, p models.Project) (models.Project, error)

func (f sinkFunc) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	return f(ctx, p)
}

func newWizard() *Wizard { return New(Thresholds{Low: 1000, Match: 1000}) }

func fill(t *testing.T, w *Wizard) {
	t.Helper()
	require.NoError(t, w.SelectCategory(models.CategoryPPC))
	require.NoError(t, w.Next())
	require.NoError(t, w.SelectTier(models.TierPro))
	require.NoError(t, w.SetDescription("  launch campaign  "))
	require.NoError(t, w.Next())
	require.NoError(t, w.SetBudget(2500))
}

func TestStepGating(t *testing.T) {
	w := newWizard()

	err := w.Next()
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, StepService, w.Snapshot().Step)

	require.NoError(t, w.SelectCategory(models.CategoryInstagram))
	require.NoError(t, w.Next())
	assert.Equal(t, StepScope, w.Snapshot().Step)

	require.NoError(t, w.SelectTier(models.TierBasic))
	for _, desc := range []string{"", "   ", "\t\n"} {
		require.NoError(t, w.SetDescription(desc))
		assert.True(t, apperr.IsKind(w.Next(), apperr.KindValidation), "description %q", desc)
		assert.Equal(t, StepScope, w.Snapshot().Step)
	}

	require.NoError(t, w.SetDescription("grow followers"))
	require.NoError(t, w.Next())
	assert.Equal(t, StepBid, w.Snapshot().Step)

	assert.Error(t, w.Next(), "no step after the bid")
}

func TestBackKeepsEnteredState(t *testing.T) {
	w := newWizard()
	assert.Error(t, w.Back())

	fill(t, w)
	require.NoError(t, w.Back())
	s := w.Snapshot()
	assert.Equal(t, StepScope, s.Step)
	assert.Equal(t, models.TierPro, s.Tier)
	assert.Equal(t, "  launch campaign  ", s.Description)
	require.NotNil(t, s.Budget)
	assert.Equal(t, 2500.0, *s.Budget)

	require.NoError(t, w.Back())
	assert.Equal(t, models.CategoryPPC, w.Snapshot().Category)
}

func TestBudgetHints(t *testing.T) {
	w := newWizard()
	assert.Equal(t, HintNone, w.Snapshot().BudgetHint)

	require.NoError(t, w.SetBudget(999))
	assert.Equal(t, HintLow, w.Snapshot().BudgetHint)
	require.NoError(t, w.SetBudget(1000))
	assert.Equal(t, HintMatch, w.Snapshot().BudgetHint)
	require.NoError(t, w.SetBudget(0))
	assert.Equal(t, HintLow, w.Snapshot().BudgetHint)

	assert.Error(t, w.SetBudget(-1))
}

func TestSubmitBuildsProjectAndResets(t *testing.T) {
	w := newWizard()
	fill(t, w)

	var got models.Project
	created, err := w.Submit(context.Background(), "c1", sinkFunc(func(_ context.Context, p models.Project) (models.Project, error) {
		got = p
		p.ID = "41"
		return p, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, models.ID("41"), created.ID)

	assert.Equal(t, models.ID("c1"), got.ClientID)
	assert.Equal(t, "PPC Campaigns - Pro", got.Title)
	assert.Equal(t, "launch campaign", got.Description)
	assert.Equal(t, models.TimelineFlexible, got.Timeline)
	assert.Equal(t, models.ProjectOpen, got.Status)
	assert.Equal(t, 2500.0, got.Budget)

	s := w.Snapshot()
	assert.Equal(t, StepService, s.Step)
	assert.Empty(t, s.Category)
}

func TestSubmitFailureKeepsState(t *testing.T) {
	w := newWizard()
	fill(t, w)
	require.NoError(t, w.SetTimeline(models.TimelineUrgent))
	before := w.Draft()

	_, err := w.Submit(context.Background(), "c1", sinkFunc(func(context.Context, models.Project) (models.Project, error) {
		return models.Project{}, apperr.Transient("insert failed", errors.New("boom"))
	}))
	require.Error(t, err)
	assert.Equal(t, before, w.Draft())
	assert.False(t, w.Snapshot().Submitting)
}

func TestSubmitRequiresBudget(t *testing.T) {
	w := newWizard()
	fill(t, w)
	require.NoError(t, w.ClearBudget())
	_, err := w.Submit(context.Background(), "c1", sinkFunc(func(context.Context, models.Project) (models.Project, error) {
		t.Fatal("sink must not be called")
		return models.Project{}, nil
	}))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSecondSubmitWhileInFlightIsRejected(t *testing.T) {
	w := newWizard()
	fill(t, w)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := w.Submit(context.Background(), "c1", sinkFunc(func(_ context.Context, p models.Project) (models.Project, error) {
			close(entered)
			<-release
			return p, nil
		}))
		done <- err
	}()
	<-entered

	assert.True(t, w.Snapshot().Submitting)
	_, err := w.Submit(context.Background(), "c1", sinkFunc(func(context.Context, models.Project) (models.Project, error) {
		t.Fatal("second submit reached the sink")
		return models.Project{}, nil
	}))
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
	assert.True(t, apperr.IsKind(w.SetDescription("x"), apperr.KindConflict))

	close(release)
	require.NoError(t, <-done)
}

func TestChangingServiceClearsPackage(t *testing.T) {
	w := newWizard()
	require.NoError(t, w.SelectCategory(models.CategorySEO))
	require.NoError(t, w.SelectTier(models.TierAdvanced))
	require.NoError(t, w.SelectCategory(models.CategoryInstagram))
	assert.Empty(t, w.Snapshot().Tier)

	assert.Error(t, w.SelectCategory("tiktok"))
}

func TestSubmitRechecksEarlierSteps(t *testing.T) {
	calls := 0
	sink := sinkFunc(func(_ context.Context, p models.Project) (models.Project, error) {
		calls++
		return p, nil
	})

	w := newWizard()
	fill(t, w)
	require.NoError(t, w.SelectCategory(models.CategorySEO))
	_, err := w.Submit(context.Background(), "c1", sink)
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "package_required", ae.Code)

	w = newWizard()
	fill(t, w)
	require.NoError(t, w.SetDescription("   "))
	_, err = w.Submit(context.Background(), "c1", sink)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "description_required", ae.Code)
	assert.Equal(t, StepBid, w.Snapshot().Step, "state is kept")

	assert.Zero(t, calls)
}
