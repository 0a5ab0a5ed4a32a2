package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/search"
	"github.com/thebtf/learnlog/pkg/models"
)

// defaultTopN is the number of performers returned when n is absent.
const defaultTopN = 10

// writeJSON writes data as a JSON response.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError maps err onto a status code: validation 400, not found 404,
// unavailable storage 503 and anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: GetRequestID(r.Context())}
	status := http.StatusInternalServerError

	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp.Field = ve.Field
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case models.IsRetryable(err):
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
	}

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
	}
	writeJSONStatus(w, status, resp)
}

// handleHealth reports store health. Unhealthy stores answer 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.deps.Health.HealthCheck(r.Context())
	status := http.StatusOK
	if info.Status == gorm.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, info)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := search.Options{
		Category: strings.TrimSpace(q.Get("category")),
		Limit:    gorm.ParseLimitParamWithMax(r, 0, gorm.MaxPaginationLimit),
	}

	var err error
	if v := q.Get("from"); v != "" {
		if opts.DateFrom, err = models.ParseTimestamp("from", v, false); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if opts.DateTo, err = models.ParseTimestamp("to", v, true); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if !opts.DateFrom.IsZero() && !opts.DateTo.IsZero() && opts.DateTo.Before(opts.DateFrom) {
		s.writeError(w, r, models.NewValidationError("to", "must not be before from"))
		return
	}
	if opts.Kinds, err = models.ParseKinds(q.Get("kinds")); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Search.Search(r.Context(), q.Get("q"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.SearchResults.Observe(float64(result.TotalResults))
	writeJSON(w, result)
}

// parseKind reads a single record kind from the kind parameter.
func parseKind(r *http.Request) (models.RecordKind, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("kind"))
	if raw == "" {
		return "", models.NewValidationError("kind", "is required")
	}
	kinds, err := models.ParseKinds(raw)
	if err != nil {
		return "", err
	}
	if len(kinds) != 1 {
		return "", models.NewValidationError("kind", "expected a single record kind (got %q)", raw)
	}
	return kinds[0], nil
}

// parseWindow reads window_days; absent means the engine default.
func parseWindow(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("window_days"))
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, models.NewValidationError("window_days", "must be a non-negative integer (got %q)", raw)
	}
	return days, nil
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	agg, err := s.deps.Analytics.Aggregate(r.Context(), kind, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, agg)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n := gorm.ParseIntParam(r, "n", defaultTopN)
	if n > gorm.MaxPaginationLimit {
		s.writeError(w, r, models.NewValidationError("n", "must be at most %d (got %d)", gorm.MaxPaginationLimit, n))
		return
	}
	top, err := s.deps.Analytics.TopPerformers(r.Context(), kind, days, n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{
		"kind":        kind,
		"window_days": days,
		"performers":  top,
	})
}

func (s *Server) handleMethodStats(w http.ResponseWriter, r *http.Request) {
	days, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.deps.Analytics.MethodStatistics(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approach, err := s.deps.Recommender.Recommend(r.Context(), strings.TrimSpace(q.Get("context")), q.Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, approach)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	days, err := parseWindow(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	history, err := s.deps.History.AnalyzeLearningHistory(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, history)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prediction, err := s.deps.Analytics.PredictEffectiveness(r.Context(), strings.TrimSpace(q.Get("file_type")), strings.TrimSpace(q.Get("method")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, prediction)
}
