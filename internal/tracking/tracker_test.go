package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tr, err := NewTracker(db, logging.NewNop())
	require.NoError(t, err)
	return tr
}

func trackOne(t *testing.T, tr *Tracker, promptID string, version, latency, tokens int) string {
	t.Helper()
	id, err := tr.TrackUsage(context.Background(), &UsageRecord{
		PromptID:      promptID,
		PromptVersion: version,
		Model:         "test-model",
		InputTokens:   tokens / 2,
		OutputTokens:  tokens - tokens/2,
		LatencyMs:     latency,
	})
	require.NoError(t, err)
	return id
}

func TestTrackUsageValidation(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.TrackUsage(ctx, &UsageRecord{PromptVersion: 1})
	assert.ErrorIs(t, err, ErrEmptyPromptID)

	_, err = tr.TrackUsage(ctx, &UsageRecord{PromptID: "p1"})
	assert.Error(t, err, "zero version rejected")

	id, err := tr.TrackUsage(ctx, &UsageRecord{PromptID: "p1", PromptVersion: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestSubmitFeedbackValidation(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	usageID := trackOne(t, tr, "p1", 1, 100, 50)

	for _, rating := range []int{0, 6, -1} {
		err := tr.SubmitFeedback(ctx, &Feedback{UsageID: usageID, Rating: rating})
		assert.ErrorIs(t, err, ErrInvalidRating, "rating %d", rating)
	}

	err := tr.SubmitFeedback(ctx, &Feedback{UsageID: "missing", Rating: 3})
	assert.ErrorIs(t, err, ErrUsageNotFound)

	err = tr.SubmitFeedback(ctx, &Feedback{UsageID: usageID, Rating: 5, FeedbackText: "great"})
	assert.NoError(t, err)
}

func TestGetPerformance(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	u1 := trackOne(t, tr, "p1", 1, 100, 40)
	u2 := trackOne(t, tr, "p1", 1, 300, 60)
	trackOne(t, tr, "p1", 2, 50, 10)
	trackOne(t, tr, "other", 1, 999, 999)

	require.NoError(t, tr.SubmitFeedback(ctx, &Feedback{UsageID: u1, Rating: 4}))
	require.NoError(t, tr.SubmitFeedback(ctx, &Feedback{UsageID: u2, Rating: 2}))

	v1 := 1
	perf, err := tr.GetPerformance(ctx, "p1", &v1)
	require.NoError(t, err)
	assert.Equal(t, 2, perf.UsageCount)
	assert.InDelta(t, 200.0, perf.AvgLatency, 0.001)
	assert.InDelta(t, 50.0, perf.AvgTokens, 0.001)
	assert.Equal(t, 2, perf.Ratings)
	assert.InDelta(t, 3.0, perf.AvgRating, 0.001)

	// All versions together.
	all, err := tr.GetPerformance(ctx, "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, all.UsageCount)
}

func TestGeneratePerformanceReport(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	trackOne(t, tr, "p1", 1, 100, 40)
	trackOne(t, tr, "p1", 2, 50, 10)

	report, err := tr.GeneratePerformanceReport(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, report.Versions, 2)
	assert.Equal(t, 1, report.Versions[0].Version)
	assert.Equal(t, 2, report.Versions[1].Version)
}

func TestABTestLifecycle(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	testID, err := tr.CreateABTest(ctx, &ABTestSpec{
		Name:     "t1",
		PromptID: "p1",
		VersionA: 1,
		VersionB: 2,
		Metric:   MetricRating,
	})
	require.NoError(t, err)
	require.NotEmpty(t, testID)

	// Version 1 rates better than version 2.
	for _, rating := range []int{5, 4} {
		usageID := trackOne(t, tr, "p1", 1, 100, 50)
		require.NoError(t, tr.SubmitFeedback(ctx, &Feedback{UsageID: usageID, Rating: rating}))
	}
	for _, rating := range []int{2, 3} {
		usageID := trackOne(t, tr, "p1", 2, 100, 50)
		require.NoError(t, tr.SubmitFeedback(ctx, &Feedback{UsageID: usageID, Rating: rating}))
	}

	results, err := tr.GetABTestResults(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, 2, results.VariantA.SampleSize)
	assert.Equal(t, 2, results.VariantB.SampleSize)
	assert.InDelta(t, 4.5, results.VariantA.Mean, 0.001)
	assert.InDelta(t, 2.5, results.VariantB.Mean, 0.001)
	assert.Equal(t, "A", results.LeadingVariant)
}

func TestABTestLatencyMetricLowerWins(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	testID, err := tr.CreateABTest(ctx, &ABTestSpec{
		Name:     "latency",
		PromptID: "p1",
		VersionA: 1,
		VersionB: 2,
		Metric:   MetricLatency,
	})
	require.NoError(t, err)

	trackOne(t, tr, "p1", 1, 400, 50)
	trackOne(t, tr, "p1", 2, 100, 50)

	results, err := tr.GetABTestResults(ctx, testID)
	require.NoError(t, err)
	assert.Equal(t, "B", results.LeadingVariant, "lower latency wins")
}

func TestABTestNoSamplesNoLeader(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	testID, err := tr.CreateABTest(ctx, &ABTestSpec{
		Name:     "empty",
		PromptID: "p1",
		VersionA: 1,
		VersionB: 2,
		Metric:   MetricTokens,
	})
	require.NoError(t, err)

	results, err := tr.GetABTestResults(ctx, testID)
	require.NoError(t, err)
	assert.Empty(t, results.LeadingVariant)
	assert.Zero(t, results.VariantA.SampleSize)
}

func TestABTestValidation(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.CreateABTest(ctx, &ABTestSpec{PromptID: "p1", VersionA: 1, VersionB: 2, Metric: MetricRating})
	assert.ErrorIs(t, err, ErrEmptyTestName)

	_, err = tr.CreateABTest(ctx, &ABTestSpec{Name: "t", PromptID: "p1", VersionA: 1, VersionB: 2, Metric: "clicks"})
	assert.ErrorIs(t, err, ErrInvalidMetric)

	_, err = tr.CreateABTest(ctx, &ABTestSpec{Name: "t", PromptID: "p1", VersionA: 1, VersionB: 1, Metric: MetricRating})
	assert.Error(t, err, "identical versions rejected")

	_, err = tr.GetABTestResults(ctx, "missing")
	assert.ErrorIs(t, err, ErrTestNotFound)
}
