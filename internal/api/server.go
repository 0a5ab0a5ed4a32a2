// Package api serves the read-only HTTP API over the learning records.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/thebtf/learnlog/internal/analytics"
	"github.com/thebtf/learnlog/internal/config"
	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/learning"
	"github.com/thebtf/learnlog/internal/metrics"
	"github.com/thebtf/learnlog/internal/recommend"
	"github.com/thebtf/learnlog/internal/search"
	"github.com/thebtf/learnlog/pkg/models"
)

// DefaultHTTPTimeout bounds a single request.
const DefaultHTTPTimeout = 30 * time.Second

// HealthChecker reports store health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gorm.HealthInfo
}

// Searcher runs cross-record searches.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Result, error)
}

// Analytics computes rollups.
type Analytics interface {
	Aggregate(ctx context.Context, kind models.RecordKind, windowDays int) (*analytics.Aggregate, error)
	TopPerformers(ctx context.Context, kind models.RecordKind, windowDays, n int) ([]analytics.Performer, error)
	MethodStatistics(ctx context.Context, windowDays int) (*analytics.MethodStatistics, error)
	PredictEffectiveness(ctx context.Context, fileType, method string) (*analytics.Prediction, error)
}

// Recommender suggests an analysis approach.
type Recommender interface {
	Recommend(ctx context.Context, fileContext, query string) (*recommend.Approach, error)
}

// HistoryAnalyzer summarizes recent learning activity.
type HistoryAnalyzer interface {
	AnalyzeLearningHistory(ctx context.Context, windowDays int) (*learning.History, error)
}

// Deps are the components the API reads from.
type Deps struct {
	Health      HealthChecker
	Search      Searcher
	Analytics   Analytics
	Recommender Recommender
	History     HistoryAnalyzer
}

// Server is the read-only HTTP API.
type Server struct {
	deps    Deps
	router  *chi.Mux
	server  *http.Server
	metrics *metrics.HTTPMetrics
	log     zerolog.Logger
	cfg     config.ServerConfig
	wg      sync.WaitGroup
}

// NewServer builds the router. Call Start to listen.
func NewServer(cfg config.ServerConfig, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		deps:    deps,
		router:  chi.NewRouter(),
		metrics: metrics.NewHTTPMetrics(),
		log:     log.With().Str("component", "api").Logger(),
		cfg:     cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(SecurityHeaders)
	s.router.Use(CORS(s.cfg.AllowedOrigins))
	s.router.Use(s.metrics.Middleware)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/search", s.handleSearch)
		r.Get("/aggregate", s.handleAggregate)
		r.Get("/top", s.handleTop)
		r.Get("/stats/methods", s.handleMethodStats)
		r.Get("/recommend", s.handleRecommend)
		r.Get("/history", s.handleHistory)
		r.Get("/predict", s.handlePredict)
	})
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("API server started")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.log.Info().Msg("API server stopped")
	return err
}
