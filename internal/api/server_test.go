package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/learnlog/internal/analytics"
	"github.com/thebtf/learnlog/internal/config"
	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/learning"
	"github.com/thebtf/learnlog/internal/recommend"
	"github.com/thebtf/learnlog/internal/search"
	"github.com/thebtf/learnlog/pkg/models"
)

type fakeHealth struct{ status string }

func (f *fakeHealth) HealthCheck(ctx context.Context) *gorm.HealthInfo {
	return &gorm.HealthInfo{Status: f.status, Driver: "sqlite", Timestamp: time.Now()}
}

type fakeSearch struct {
	query string
	opts  search.Options
	err   error
}

func (f *fakeSearch) Search(ctx context.Context, query string, opts search.Options) (*search.Result, error) {
	f.query, f.opts = query, opts
	if f.err != nil {
		return nil, f.err
	}
	return &search.Result{
		Query: query,
		Patterns: []search.PatternHit{{
			LearningPattern: &models.LearningPattern{ID: 1, Description: "議題ごとに決定事項を抽出", Context: "meeting", SuccessCount: 3},
			RelevanceScore:  0.8,
		}},
		TotalResults: 1,
	}, nil
}

type fakeAnalytics struct {
	kind models.RecordKind
	days int
	n    int
	err  error
}

func (f *fakeAnalytics) Aggregate(ctx context.Context, kind models.RecordKind, windowDays int) (*analytics.Aggregate, error) {
	f.kind, f.days = kind, windowDays
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.Aggregate{Kind: kind, WindowDays: windowDays}, nil
}

func (f *fakeAnalytics) TopPerformers(ctx context.Context, kind models.RecordKind, windowDays, n int) ([]analytics.Performer, error) {
	f.kind, f.days, f.n = kind, windowDays, n
	return []analytics.Performer{{Kind: kind, ID: 2, Name: "要点抽出", Score: 90, Usage: 4}}, f.err
}

func (f *fakeAnalytics) MethodStatistics(ctx context.Context, windowDays int) (*analytics.MethodStatistics, error) {
	f.days = windowDays
	return &analytics.MethodStatistics{WindowDays: windowDays}, f.err
}

func (f *fakeAnalytics) PredictEffectiveness(ctx context.Context, fileType, method string) (*analytics.Prediction, error) {
	if method == "" {
		return nil, models.NewValidationError("method", "is required")
	}
	return &analytics.Prediction{MethodName: method, FileType: fileType, Prediction: 50, Confidence: 0.1}, nil
}

type fakeRecommender struct{ context, query string }

func (f *fakeRecommender) Recommend(ctx context.Context, fileContext, query string) (*recommend.Approach, error) {
	f.context, f.query = fileContext, query
	return recommend.DefaultApproach(fileContext), nil
}

type fakeHistory struct{ days int }

func (f *fakeHistory) AnalyzeLearningHistory(ctx context.Context, windowDays int) (*learning.History, error) {
	f.days = windowDays
	return &learning.History{WindowDays: 7, CategoryTrends: []learning.CategoryCount{}, ImprovementAreas: []learning.ImprovementArea{}}, nil
}

type ServerSuite struct {
	suite.Suite
	health    *fakeHealth
	search    *fakeSearch
	analytics *fakeAnalytics
	recommend *fakeRecommender
	history   *fakeHistory
	server    *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.health = &fakeHealth{status: "healthy"}
	s.search = &fakeSearch{}
	s.analytics = &fakeAnalytics{}
	s.recommend = &fakeRecommender{}
	s.history = &fakeHistory{}
	s.server = NewServer(config.ServerConfig{
		Addr:           "127.0.0.1:0",
		AllowedOrigins: []string{"http://localhost:*"},
	}, Deps{
		Health:      s.health,
		Search:      s.search,
		Analytics:   s.analytics,
		Recommender: s.recommend,
		History:     s.history,
	}, zerolog.Nop())
}

func (s *ServerSuite) get(target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

func (s *ServerSuite) TestHealth() {
	rec := s.get("/health")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))
	s.Equal("nosniff", rec.Header().Get("X-Content-Type-Options"))
	s.Equal("no-store", rec.Header().Get("Cache-Control"))
	s.NotEmpty(rec.Header().Get("X-Request-ID"))

	var body map[string]any
	s.decode(rec, &body)
	s.Equal("healthy", body["status"])
	s.Equal("sqlite", body["driver"])

	s.health.status = "unhealthy"
	s.Equal(http.StatusServiceUnavailable, s.get("/health").Code)
}

func (s *ServerSuite) TestRequestIDPropagates() {
	rec := s.get("/api/search?q=x&kinds=bogus", "X-Request-ID", "req-42")
	s.Equal("req-42", rec.Header().Get("X-Request-ID"))

	var body errorResponse
	s.decode(rec, &body)
	s.Equal("req-42", body.RequestID)

	rec = s.get("/health", "X-Request-ID", "has space")
	s.NotEqual("has space", rec.Header().Get("X-Request-ID"))
	s.NotEmpty(rec.Header().Get("X-Request-ID"))
}

func (s *ServerSuite) TestSearch() {
	rec := s.get("/api/search?q=%E6%B1%BA%E5%AE%9A&category=meeting&from=2024-06-01&to=2024-06-30&limit=5000&kinds=patterns,feedback")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	s.Equal("決定", s.search.query)
	s.Equal("meeting", s.search.opts.Category)
	s.Equal(gorm.MaxPaginationLimit, s.search.opts.Limit)
	s.Equal([]models.RecordKind{models.KindPatterns, models.KindFeedback}, s.search.opts.Kinds)
	s.True(time.Date(2024, 6, 1, 0, 0, 0, 0, models.JST).Equal(s.search.opts.DateFrom))
	s.True(time.Date(2024, 6, 30, 23, 59, 59, int(999*time.Millisecond), models.JST).Equal(s.search.opts.DateTo))

	var body struct {
		TotalResults int `json:"total_results"`
		Patterns     []struct {
			Description    string  `json:"description"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"patterns"`
	}
	s.decode(rec, &body)
	s.Equal(1, body.TotalResults)
	s.Require().Len(body.Patterns, 1)
	s.InDelta(0.8, body.Patterns[0].RelevanceScore, 1e-9)
}

func (s *ServerSuite) TestSearch_Defaults() {
	rec := s.get("/api/search")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Zero(s.search.opts.Limit)
	s.Equal(models.AllKinds, s.search.opts.Kinds)
	s.True(s.search.opts.DateFrom.IsZero())
}

func (s *ServerSuite) TestSearch_BadInput() {
	tests := []struct {
		target string
		field  string
	}{
		{"/api/search?from=yesterday", "from"},
		{"/api/search?to=2024-13-01", "to"},
		{"/api/search?from=2024-06-02&to=2024-06-01", "to"},
		{"/api/search?kinds=notes", "kinds"},
	}
	for _, tt := range tests {
		rec := s.get(tt.target)
		s.Equal(http.StatusBadRequest, rec.Code, tt.target)
		var body errorResponse
		s.decode(rec, &body)
		s.Equal(tt.field, body.Field, tt.target)
	}
}

func (s *ServerSuite) TestErrorMapping() {
	tests := []struct {
		err    error
		status int
	}{
		{&models.StorageUnavailableError{Op: "pattern.query", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{&models.NotFoundError{Kind: models.KindMethods, Key: "要点抽出"}, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s.search.err = tt.err
		rec := s.get("/api/search?q=x")
		s.Equal(tt.status, rec.Code, tt.err.Error())
	}
	s.search.err = &models.StorageUnavailableError{Op: "pattern.query", Err: context.DeadlineExceeded}
	s.Equal("1", s.get("/api/search?q=x").Header().Get("Retry-After"))
}

func (s *ServerSuite) TestAggregate() {
	rec := s.get("/api/aggregate?kind=methods&window_days=14")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(models.KindMethods, s.analytics.kind)
	s.Equal(14, s.analytics.days)

	rec = s.get("/api/aggregate?kind=feedback")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Zero(s.analytics.days, "absent window uses the engine default")

	s.Equal(http.StatusBadRequest, s.get("/api/aggregate").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/aggregate?kind=methods,feedback").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/aggregate?kind=methods&window_days=-1").Code)
	s.Equal(http.StatusBadRequest, s.get("/api/aggregate?kind=methods&window_days=week").Code)
}

func (s *ServerSuite) TestTop() {
	rec := s.get("/api/top?kind=methods&n=3")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(3, s.analytics.n)

	var body struct {
		Kind       string                `json:"kind"`
		Performers []analytics.Performer `json:"performers"`
	}
	s.decode(rec, &body)
	s.Equal("methods", body.Kind)
	s.Require().Len(body.Performers, 1)
	s.Equal("要点抽出", body.Performers[0].Name)

	s.get("/api/top?kind=patterns")
	s.Equal(defaultTopN, s.analytics.n)

	s.Equal(http.StatusBadRequest, s.get("/api/top?kind=methods&n=5000").Code)
}

func (s *ServerSuite) TestMethodStats() {
	rec := s.get("/api/stats/methods?window_days=30")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(30, s.analytics.days)
}

func (s *ServerSuite) TestRecommend() {
	rec := s.get("/api/recommend?context=meeting&q=%E8%AD%B0%E4%BA%8B%E9%8C%B2")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("meeting", s.recommend.context)
	s.Equal("議事録", s.recommend.query)

	var body recommend.Approach
	s.decode(rec, &body)
	s.True(body.Default)
	s.Equal("meeting分析の標準アプローチ", body.Reasoning)
}

func (s *ServerSuite) TestHistory() {
	rec := s.get("/api/history")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Zero(s.history.days)

	s.get("/api/history?window_days=3")
	s.Equal(3, s.history.days)
}

func (s *ServerSuite) TestPredict() {
	rec := s.get("/api/predict?file_type=meeting&method=%E8%A6%81%E7%82%B9%E6%8A%BD%E5%87%BA")
	s.Require().Equal(http.StatusOK, rec.Code)
	var body analytics.Prediction
	s.decode(rec, &body)
	s.Equal("要点抽出", body.MethodName)
	s.Equal(50, body.Prediction)

	rec = s.get("/api/predict?file_type=meeting")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestCORS() {
	rec := s.get("/health", "Origin", "http://localhost:5173")
	s.Equal("http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.get("/health", "Origin", "http://evil.example")
	s.Empty(rec.Header().Get("Access-Control-Allow-Origin"))
}

func (s *ServerSuite) TestMetrics() {
	s.get("/api/history")
	rec := s.get("/metrics")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `learnlog_http_requests_total{method="GET",route="/api/history",status="200"}`)
}

func (s *ServerSuite) TestUnknownRoute() {
	s.Equal(http.StatusNotFound, s.get("/api/nope").Code)
}

func TestStartShutdown(t *testing.T) {
	srv := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, Deps{Health: &fakeHealth{status: "healthy"}}, zerolog.Nop())
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}

func TestGetRequestID_Empty(t *testing.T) {
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestValidRequestID(t *testing.T) {
	assert.True(t, validRequestID("abc-123"))
	assert.False(t, validRequestID(""))
	assert.False(t, validRequestID("tab\there"))
	assert.False(t, validRequestID(strings.Repeat("a", maxRequestIDLen+1)))
}
