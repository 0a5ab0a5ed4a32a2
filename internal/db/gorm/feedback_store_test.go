package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/learnlog/pkg/models"
)

func testFeedbackStore(t *testing.T) (*FeedbackStore, *Store, func()) {
	t.Helper()
	store, cleanup := testStore(t)
	return NewFeedbackStore(store), store, cleanup
}

func seedFeedback(t *testing.T, s *FeedbackStore, rows []models.MethodFeedback) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(rows))
	for i := range rows {
		id, err := s.Insert(context.Background(), &rows[i])
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestFeedbackStore_InsertValidation(t *testing.T) {
	feedbackStore, _, cleanup := testFeedbackStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := feedbackStore.Insert(ctx, &models.MethodFeedback{FileType: "meeting", AnalysisMethod: "m", UserSatisfactionScore: 5.5})
	assert.True(t, models.IsValidation(err))
	_, err = feedbackStore.Insert(ctx, &models.MethodFeedback{FileType: "meeting", UserSatisfactionScore: 3})
	assert.True(t, models.IsValidation(err))

	id, err := feedbackStore.Insert(ctx, &models.MethodFeedback{FileType: "meeting", AnalysisMethod: "m", UserSatisfactionScore: 4.7})
	require.NoError(t, err)
	got, err := feedbackStore.FindByID(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 4.7, got.UserSatisfactionScore, 1e-9)
}

func TestFeedbackStore_QueryAndUpdate(t *testing.T) {
	feedbackStore, _, cleanup := testFeedbackStore(t)
	defer cleanup()
	ctx := context.Background()

	ids := seedFeedback(t, feedbackStore, []models.MethodFeedback{
		{FileType: "meeting", AnalysisMethod: "timeline", UserSatisfactionScore: 4, SpecificFeedback: "決定事項が明確"},
		{FileType: "personal", AnalysisMethod: "emotion", UserSatisfactionScore: 2},
	})

	meeting, err := feedbackStore.Query(ctx, Filter{Category: "meet"})
	require.NoError(t, err)
	require.Len(t, meeting, 1)
	assert.Equal(t, ids[0], meeting[0].ID)

	text, err := feedbackStore.Query(ctx, Filter{Text: "決定"})
	require.NoError(t, err)
	assert.Len(t, text, 1)

	all, err := feedbackStore.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ids[1], all[0].ID, "newest first")

	score := 3.5
	require.NoError(t, feedbackStore.Update(ctx, ids[1], FeedbackUpdate{UserSatisfactionScore: &score}))
	got, err := feedbackStore.FindByID(ctx, ids[1])
	require.NoError(t, err)
	assert.InDelta(t, 3.5, got.UserSatisfactionScore, 1e-9)
	assert.Equal(t, "emotion", got.AnalysisMethod)

	bad := 0.5
	assert.True(t, models.IsValidation(feedbackStore.Update(ctx, ids[1], FeedbackUpdate{UserSatisfactionScore: &bad})))
	assert.True(t, models.IsNotFound(feedbackStore.Update(ctx, 999, FeedbackUpdate{UserSatisfactionScore: &score})))

	_, err = feedbackStore.FindByID(ctx, 999)
	assert.True(t, models.IsNotFound(err))
}

func TestFeedbackStore_WindowQueries(t *testing.T) {
	feedbackStore, _, cleanup := testFeedbackStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now()
	at := func(d time.Duration) int64 { return now.Add(-d).UnixMilli() }
	seedFeedback(t, feedbackStore, []models.MethodFeedback{
		{FileType: "meeting", AnalysisMethod: "timeline", UserSatisfactionScore: 2, CreatedAtEpoch: at(90 * 24 * time.Hour)},
		{FileType: "meeting", AnalysisMethod: "timeline", UserSatisfactionScore: 3, CreatedAtEpoch: at(3 * time.Hour)},
		{FileType: "meeting", AnalysisMethod: "timeline", UserSatisfactionScore: 5, CreatedAtEpoch: at(2 * time.Hour)},
		{FileType: "meeting", AnalysisMethod: "keyword", UserSatisfactionScore: 4.5, CreatedAtEpoch: at(1 * time.Hour)},
		{FileType: "personal", AnalysisMethod: "emotion", UserSatisfactionScore: 1, CreatedAtEpoch: at(30 * time.Minute)},
	})
	since := now.Add(-30 * 24 * time.Hour)

	window, err := feedbackStore.Since(ctx, since, "")
	require.NoError(t, err)
	require.Len(t, window, 4)
	assert.Equal(t, 3.0, window[0].UserSatisfactionScore, "chronological")

	timeline, err := feedbackStore.Since(ctx, since, "timeline")
	require.NoError(t, err)
	assert.Len(t, timeline, 2)

	recent, err := feedbackStore.Recent(ctx, "timeline", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3.0, recent[0].UserSatisfactionScore)
	assert.Equal(t, 5.0, recent[1].UserSatisfactionScore)

	top, err := feedbackStore.Top(ctx, since, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, 5.0, top[0].UserSatisfactionScore)
	assert.Equal(t, 4.5, top[1].UserSatisfactionScore)

	avgs, err := feedbackStore.MethodAverages(ctx, "MEETING", since, 4.0, 5)
	require.NoError(t, err)
	require.Len(t, avgs, 2)
	assert.Equal(t, "keyword", avgs[0].AnalysisMethod)
	assert.InDelta(t, 4.5, avgs[0].AvgSatisfaction, 1e-9)
	assert.Equal(t, "timeline", avgs[1].AnalysisMethod)
	assert.InDelta(t, 4.0, avgs[1].AvgSatisfaction, 1e-9)
	assert.Equal(t, int64(2), avgs[1].UsageCount)

	summary, err := feedbackStore.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Count)
	assert.InDelta(t, 3.1, summary.AvgSatisfaction, 1e-9)
}
