package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/pkg/models"
)

// fakePatterns serves a fixed pattern list and counts queries.
type fakePatterns struct {
	patterns []*models.LearningPattern
	fullText []gorm.FullTextHit
	queries  atomic.Int64
	err      error
	// entered and release, when set, park Query after it has read its rows.
	entered chan struct{}
	release chan struct{}
}

func (f *fakePatterns) Query(ctx context.Context, filter gorm.Filter) ([]*models.LearningPattern, error) {
	f.queries.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := f.patterns
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if f.release != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.release
	}
	return out, nil
}

func (f *fakePatterns) FindByIDs(ctx context.Context, ids []int64) ([]*models.LearningPattern, error) {
	var out []*models.LearningPattern
	for _, p := range f.patterns {
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (f *fakePatterns) FullTextSearch(ctx context.Context, query string, limit int) ([]gorm.FullTextHit, error) {
	return f.fullText, nil
}

type fakeMethods struct{ rows []*models.MethodEffectiveness }

func (f *fakeMethods) Query(ctx context.Context, filter gorm.Filter) ([]*models.MethodEffectiveness, error) {
	return f.rows, nil
}

// ManagerSuite is a test suite for search Manager operations.
type ManagerSuite struct {
	suite.Suite
	patterns *fakePatterns
	methods  *fakeMethods
	manager  *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	now := time.Now()
	s.patterns = &fakePatterns{patterns: []*models.LearningPattern{
		{ID: 1, Description: "議事録の要約", Context: "meeting", SuccessCount: 2, LastUsedEpoch: now.Add(-30 * 24 * time.Hour).UnixMilli()},
		{ID: 2, Description: "議事録 決定事項", Context: "meeting", SuccessCount: 9, LastUsedEpoch: now.UnixMilli()},
	}}
	s.methods = &fakeMethods{rows: []*models.MethodEffectiveness{
		{ID: 7, MethodName: "timeline", EffectivenessScore: 80, UsageCount: 3, SuccessContexts: models.JSONStringArray{"meeting"}},
	}}
	s.manager = NewManager(Sources{Patterns: s.patterns, Methods: s.methods}, Config{})
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Close()
}

// ===== GOOD SCENARIOS =====

func (s *ManagerSuite) TestSearch_SkipsMissingSources() {
	result, err := s.manager.Search(context.Background(), "議事録", Options{})
	s.Require().NoError(err)
	s.Len(result.Patterns, 2)
	s.Len(result.MethodStats, 1)
	s.Empty(result.Feedback)
	s.Empty(result.Judgments)
	s.Equal(3, result.TotalResults)
	s.NotEmpty(result.RequestID)
}

func (s *ManagerSuite) TestSearch_RelevanceScores() {
	result, err := s.manager.Search(context.Background(), "議事録", Options{Kinds: []models.RecordKind{models.KindPatterns}})
	s.Require().NoError(err)
	s.Require().Len(result.Patterns, 2)
	for _, hit := range result.Patterns {
		s.Greater(hit.RelevanceScore, 0.0)
		s.LessOrEqual(hit.RelevanceScore, 1.0)
	}
	s.Empty(result.MethodStats, "methods were not requested")
}

func (s *ManagerSuite) TestSearch_EmptyQueryScoresZero() {
	result, err := s.manager.Search(context.Background(), "", Options{})
	s.Require().NoError(err)
	for _, hit := range result.Patterns {
		s.Zero(hit.RelevanceScore)
	}
	s.Zero(result.MethodStats[0].RelevanceScore)
}

func (s *ManagerSuite) TestSearch_CachesAndInvalidates() {
	ctx := context.Background()
	opts := Options{Kinds: []models.RecordKind{models.KindPatterns}}

	first, err := s.manager.Search(ctx, "議事録", opts)
	s.Require().NoError(err)
	// Whitespace and case variants share the cache entry
	second, err := s.manager.Search(ctx, "  議事録 ", opts)
	s.Require().NoError(err)
	s.Same(first, second)
	s.Equal(int64(1), s.patterns.queries.Load())
	s.Equal(int64(1), s.manager.Metrics().CacheHits)

	s.manager.Invalidate()
	_, err = s.manager.Search(ctx, "議事録", opts)
	s.Require().NoError(err)
	s.Equal(int64(2), s.patterns.queries.Load())
	s.Equal(1, s.manager.CacheStats()["size"])
}

func (s *ManagerSuite) TestSearch_InvalidateDuringSearch() {
	ctx := context.Background()
	opts := Options{Kinds: []models.RecordKind{models.KindPatterns}}
	s.patterns.entered = make(chan struct{}, 1)
	s.patterns.release = make(chan struct{})

	done := make(chan *Result, 1)
	go func() {
		result, _ := s.manager.Search(ctx, "議事録", opts)
		done <- result
	}()
	<-s.patterns.entered

	// A write lands while the search is still running.
	s.patterns.patterns = append(s.patterns.patterns, &models.LearningPattern{ID: 3, Description: "議事録 宿題", Context: "meeting"})
	s.manager.Invalidate()
	close(s.patterns.release)

	stale := <-done
	s.Require().NotNil(stale)
	s.Len(stale.Patterns, 2)
	s.Zero(s.manager.CacheStats()["size"], "pre-write result must not be cached")

	fresh, err := s.manager.Search(ctx, "議事録", opts)
	s.Require().NoError(err)
	s.Len(fresh.Patterns, 3)
	s.Equal(int64(2), s.patterns.queries.Load())
}

func (s *ManagerSuite) TestSearch_HybridReranks() {
	s.manager.Close()
	s.patterns.fullText = []gorm.FullTextHit{{ID: 1, Score: 0.9}, {ID: 2, Score: 0.1}}
	s.manager = NewManager(Sources{Patterns: s.patterns}, Config{Hybrid: true})

	result, err := s.manager.Search(context.Background(), "議事録", Options{Kinds: []models.RecordKind{models.KindPatterns}})
	s.Require().NoError(err)
	s.True(result.Hybrid)
	s.Require().Len(result.Patterns, 2)

	// Pattern 2 is proven and recently used; pattern 1 gets no boost.
	for _, hit := range result.Patterns {
		s.Greater(hit.HybridScore, 0.0)
	}
	byID := map[int64]PatternHit{}
	for _, hit := range result.Patterns {
		byID[hit.ID] = hit
	}
	p1, p2 := byID[1], byID[2]
	s.InDelta(0.9*2+p1.RelevanceScore, p1.HybridScore, 1e-9)
	s.InDelta((0.1*2+p2.RelevanceScore)*1.5*1.2, p2.HybridScore, 1e-9)
	s.GreaterOrEqual(result.Patterns[0].HybridScore, result.Patterns[1].HybridScore)
}

func (s *ManagerSuite) TestSearch_HybridFallsBackWithoutFullTextHits() {
	s.manager.Close()
	s.manager = NewManager(Sources{Patterns: s.patterns}, Config{Hybrid: true})

	result, err := s.manager.Search(context.Background(), "議事録", Options{Kinds: []models.RecordKind{models.KindPatterns}})
	s.Require().NoError(err)
	s.False(result.Hybrid)
	s.Len(result.Patterns, 2)
	s.Zero(result.Patterns[0].HybridScore)
}

// ===== BAD SCENARIOS =====

func (s *ManagerSuite) TestSearch_RejectsInvertedDates() {
	now := time.Now()
	_, err := s.manager.Search(context.Background(), "", Options{DateFrom: now, DateTo: now.Add(-time.Hour)})
	s.Require().Error(err)
	s.True(models.IsValidation(err))
}

func (s *ManagerSuite) TestSearch_PropagatesStoreErrors() {
	s.patterns.err = &models.StorageUnavailableError{Op: "pattern.query", Err: errors.New("closed")}
	_, err := s.manager.Search(context.Background(), "x", Options{})
	s.Require().Error(err)
	s.True(models.IsRetryable(err))
	s.Equal(int64(1), s.manager.Metrics().SearchErrors)
}

func TestNormalizeOptions(t *testing.T) {
	m := &Manager{defaultLimit: 20}

	opts := m.normalizeOptions(Options{})
	assert.Equal(t, 20, opts.Limit)
	assert.Equal(t, models.AllKinds, opts.Kinds)

	opts = m.normalizeOptions(Options{Limit: 5000})
	assert.Equal(t, gorm.MaxPaginationLimit, opts.Limit)
}

func TestGetCacheKey(t *testing.T) {
	m := &Manager{}
	base := Options{Limit: 20, Kinds: models.AllKinds}

	assert.Equal(t, m.getCacheKey("Foo  Bar", base), m.getCacheKey("foo bar", base))
	assert.NotEqual(t, m.getCacheKey("foo", base), m.getCacheKey("foo", Options{Limit: 5, Kinds: models.AllKinds}))
	assert.NotEqual(t, m.getCacheKey("foo", base), m.getCacheKey("foo", Options{Limit: 20, Kinds: []models.RecordKind{models.KindPatterns}}))
	assert.NotEqual(t, m.getCacheKey("foo", base), m.getCacheKey("foo", Options{Limit: 20, Kinds: models.AllKinds, Category: "meeting"}))
}

func TestMatchesFilter(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &models.LearningPattern{Context: "Meeting", CreatedAtEpoch: day.UnixMilli()}

	assert.True(t, matchesFilter(p, gorm.Filter{}))
	assert.True(t, matchesFilter(p, gorm.Filter{Category: "meet"}))
	assert.False(t, matchesFilter(p, gorm.Filter{Category: "personal"}))
	assert.True(t, matchesFilter(p, gorm.Filter{From: day, To: day}))
	assert.False(t, matchesFilter(p, gorm.Filter{From: day.Add(time.Second)}))
	assert.False(t, matchesFilter(p, gorm.Filter{To: day.Add(-time.Second)}))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		maxLen   int
	}{
		{name: "short string no truncation", input: "hello", maxLen: 10, expected: "hello"},
		{name: "exact length no truncation", input: "hello", maxLen: 5, expected: "hello"},
		{name: "long string truncated", input: "hello world this is a long string", maxLen: 10, expected: "hello worl..."},
		{name: "multibyte runes", input: "議事録の要約です", maxLen: 3, expected: "議事録..."},
		{name: "empty string", input: "", maxLen: 10, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncate(tt.input, tt.maxLen))
		})
	}
}

func TestSearchMetrics_GetStats(t *testing.T) {
	m := &SearchMetrics{TotalSearches: 2, TotalLatencyNs: 4e6, CacheHits: 1}
	stats := m.GetStats()
	assert.Equal(t, int64(2), stats["total_searches"])
	assert.Equal(t, int64(1), stats["cache_hits"])
	assert.InDelta(t, 2.0, stats["avg_latency_ms"], 1e-9)
}
