package scoring

import (
	"strings"
	"time"
	"unicode/utf8"
)

// RelevanceConfig contains parameters for relevance and hybrid ranking.
// The defaults are heuristic placeholders, not derived constants.
type RelevanceConfig struct {
	// Normalizer divides the summed token weights per query token (default 3).
	Normalizer float64 `json:"normalizer"`
	// FullTextWeight scales the full-text score in hybrid ranking (default 2).
	FullTextWeight float64 `json:"full_text_weight"`
	// SuccessBoostThreshold is the success count above which SuccessBoost applies (default 5).
	SuccessBoostThreshold int `json:"success_boost_threshold"`
	// SuccessBoost multiplies proven patterns (default 1.5).
	SuccessBoost float64 `json:"success_boost"`
	// RecencyWindow is how recently a pattern must have been used for RecencyBoost (default 7 days).
	RecencyWindow time.Duration `json:"recency_window"`
	// RecencyBoost multiplies recently used patterns (default 1.2).
	RecencyBoost float64 `json:"recency_boost"`
}

// DefaultRelevanceConfig returns the default relevance configuration.
func DefaultRelevanceConfig() *RelevanceConfig {
	return &RelevanceConfig{
		Normalizer:            3,
		FullTextWeight:        2,
		SuccessBoostThreshold: 5,
		SuccessBoost:          1.5,
		RecencyWindow:         7 * 24 * time.Hour,
		RecencyBoost:          1.2,
	}
}

// RelevanceCalculator scores search hits against a query.
type RelevanceCalculator struct {
	config *RelevanceConfig
}

// NewRelevanceCalculator creates a new relevance calculator.
func NewRelevanceCalculator(config *RelevanceConfig) *RelevanceCalculator {
	if config == nil {
		config = DefaultRelevanceConfig()
	}
	return &RelevanceCalculator{config: config}
}

// Relevance returns a term-density score in [0,1].
//
// The query is split on whitespace. Each token contributes
// occurrences × len(token) / len(fields), counted case-insensitively over
// the concatenated fields; the sum is divided by tokens × Normalizer and
// capped at 1. An empty query or no match scores 0.
func (r *RelevanceCalculator) Relevance(query string, fields ...string) float64 {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return 0
	}

	var nonEmpty []string
	totalLen := 0
	for _, f := range fields {
		if f == "" {
			continue
		}
		nonEmpty = append(nonEmpty, strings.ToLower(f))
		totalLen += utf8.RuneCountInString(f)
	}
	if totalLen == 0 {
		return 0
	}
	// Tokens never contain whitespace, so the separator cannot create matches.
	text := strings.Join(nonEmpty, "\n")

	var sum float64
	for _, tok := range tokens {
		n := strings.Count(text, tok)
		if n == 0 {
			continue
		}
		sum += float64(n) * float64(utf8.RuneCountInString(tok)) / float64(totalLen)
	}

	score := sum / (float64(len(tokens)) * r.config.Normalizer)
	if score > 1 {
		return 1
	}
	return score
}

// HybridParams are the inputs of one hybrid ranking decision.
type HybridParams struct {
	FullText     float64
	Relational   float64
	SuccessCount int
	LastUsed     time.Time
	Now          time.Time
}

// HybridScore merges a full-text score with relational relevance and applies
// the success and recency boosts.
func (r *RelevanceCalculator) HybridScore(p HybridParams) float64 {
	score := p.FullText*r.config.FullTextWeight + p.Relational
	if p.SuccessCount > r.config.SuccessBoostThreshold {
		score *= r.config.SuccessBoost
	}
	if !p.LastUsed.IsZero() && p.Now.Sub(p.LastUsed) <= r.config.RecencyWindow {
		score *= r.config.RecencyBoost
	}
	return score
}

// GetConfig returns the current configuration.
func (r *RelevanceCalculator) GetConfig() *RelevanceConfig {
	return r.config
}

var defaultRelevance = NewRelevanceCalculator(nil)

// Relevance scores fields against query with the default configuration.
func Relevance(query string, fields ...string) float64 {
	return defaultRelevance.Relevance(query, fields...)
}
