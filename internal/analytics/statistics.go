package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// Recommendation thresholds. Heuristic placeholders, not derived constants.
const (
	lowAverageThreshold   = 60
	lowUsageThreshold     = 50
	lowDiversityThreshold = 5

	excellentLevel     = 80
	goodLevel          = 60
	averageLevel       = 40
	underperformLevel  = 50
	performerListLimit = 5
)

// BasicStats are the method totals recommendations are generated from.
type BasicStats struct {
	TotalMethods     int     `json:"total_methods"`
	TotalUsage       int     `json:"total_usage"`
	AvgEffectiveness float64 `json:"avg_effectiveness"`
	MaxEffectiveness int     `json:"max_effectiveness"`
	MinEffectiveness int     `json:"min_effectiveness"`
}

// LevelDistribution counts methods per effectiveness level.
type LevelDistribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Average   int `json:"average"`
	Poor      int `json:"poor"`
}

func (d *LevelDistribution) add(score int) {
	switch {
	case score >= excellentLevel:
		d.Excellent++
	case score >= goodLevel:
		d.Good++
	case score >= averageLevel:
		d.Average++
	default:
		d.Poor++
	}
}

// Recommendation is one generated improvement suggestion.
type Recommendation struct {
	Priority    models.Priority `json:"priority"`
	Category    string          `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

// GenerateRecommendations flags weak spots in the method statistics. Each
// flag has a fixed priority: low average (high), low usage (medium), low
// diversity (medium), more declining than improving methods (high).
func GenerateRecommendations(stats BasicStats, trends scoring.TrendCounts) []Recommendation {
	recs := []Recommendation{}

	if stats.AvgEffectiveness < lowAverageThreshold {
		recs = append(recs, Recommendation{
			Priority:    models.PriorityHigh,
			Category:    "effectiveness",
			Title:       "メソッド効果の向上",
			Description: "平均効果スコアが" + formatNumber(stats.AvgEffectiveness) + "%と低いです。効果的なメソッドの選択と最適化が必要です。",
		})
	}
	if stats.TotalUsage < lowUsageThreshold {
		recs = append(recs, Recommendation{
			Priority:    models.PriorityMedium,
			Category:    "usage",
			Title:       "メソッド活用の促進",
			Description: fmt.Sprintf("総使用回数が%d回と少ないです。より積極的なメソッド活用を推奨します。", stats.TotalUsage),
		})
	}
	if stats.TotalMethods < lowDiversityThreshold {
		recs = append(recs, Recommendation{
			Priority:    models.PriorityMedium,
			Category:    "diversity",
			Title:       "メソッドの多様化",
			Description: fmt.Sprintf("利用メソッド数が%d個と少ないです。多様なアプローチの検討を推奨します。", stats.TotalMethods),
		})
	}
	if trends.Declining > trends.Improving {
		recs = append(recs, Recommendation{
			Priority:    models.PriorityHigh,
			Category:    "trends",
			Title:       "メソッド効果の改善",
			Description: fmt.Sprintf("効果が低下しているメソッド（%d個）が改善しているメソッド（%d個）を上回っています。", trends.Declining, trends.Improving),
		})
	}
	return recs
}

// formatNumber prints v without trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// MethodStatistics is the windowed method report.
type MethodStatistics struct {
	WindowDays      int                           `json:"window_days"`
	Basic           BasicStats                    `json:"basic"`
	Levels          LevelDistribution             `json:"levels"`
	Distribution    []Band                        `json:"distribution"`
	TopPerformers   []*models.MethodEffectiveness `json:"top_performers"`
	Underperformers []*models.MethodEffectiveness `json:"underperformers"`
	Trends          scoring.TrendCounts           `json:"trends"`
	MethodTrends    map[string]models.Trend       `json:"method_trends"`
	Recommendations []Recommendation              `json:"recommendations"`
	GeneratedAt     string                        `json:"generated_at"`
}

// MethodStatistics reports on the methods used within the last windowDays.
//
// Per-method trends are classified from each method's satisfaction feedback
// in the same window. Results are cached for the configured TTL.
func (e *Engine) MethodStatistics(ctx context.Context, windowDays int) (*MethodStatistics, error) {
	days, since, err := e.window(windowDays)
	if err != nil {
		return nil, err
	}

	key := "method_stats:" + strconv.Itoa(days)
	v, gen, ok := e.cached(key)
	if ok {
		return v.(*MethodStatistics), nil
	}

	methods, err := e.methods.UsedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("method statistics: %w", err)
	}
	feedback, err := e.feedback.Since(ctx, since, "")
	if err != nil {
		return nil, fmt.Errorf("method statistics feedback: %w", err)
	}

	stats := &MethodStatistics{
		WindowDays:      days,
		TopPerformers:   []*models.MethodEffectiveness{},
		Underperformers: []*models.MethodEffectiveness{},
		MethodTrends:    make(map[string]models.Trend, len(methods)),
		GeneratedAt:     models.FormatTimestamp(e.now()),
	}

	scores := make([]float64, len(methods))
	for i, m := range methods {
		scores[i] = float64(m.EffectivenessScore)
		stats.Basic.TotalUsage += m.UsageCount
		stats.Levels.add(m.EffectivenessScore)
	}
	summary := Summarize(scores, e.config.AggregateTrendMinSamples)
	stats.Distribution = summary.Distribution
	stats.Basic.TotalMethods = len(methods)
	stats.Basic.AvgEffectiveness = math.Round(summary.Avg)
	stats.Basic.MaxEffectiveness = int(summary.Max)
	stats.Basic.MinEffectiveness = int(summary.Min)

	byScore := make([]*models.MethodEffectiveness, len(methods))
	copy(byScore, methods)
	sort.SliceStable(byScore, func(i, j int) bool {
		if byScore[i].EffectivenessScore != byScore[j].EffectivenessScore {
			return byScore[i].EffectivenessScore > byScore[j].EffectivenessScore
		}
		return byScore[i].UsageCount > byScore[j].UsageCount
	})
	for _, m := range byScore {
		switch {
		case m.EffectivenessScore >= excellentLevel && len(stats.TopPerformers) < performerListLimit:
			stats.TopPerformers = append(stats.TopPerformers, m)
		case m.EffectivenessScore < underperformLevel && len(stats.Underperformers) < performerListLimit:
			stats.Underperformers = append(stats.Underperformers, m)
		}
	}

	// Feedback arrives oldest first, so each per-method series is
	// chronological.
	series := make(map[string][]float64)
	for _, f := range feedback {
		series[f.AnalysisMethod] = append(series[f.AnalysisMethod], f.UserSatisfactionScore)
	}
	for _, m := range methods {
		trend := scoring.ClassifyTrend(series[m.MethodName], e.config.MethodTrendMinSamples)
		stats.MethodTrends[m.MethodName] = trend
		stats.Trends.Add(trend)
	}

	stats.Recommendations = GenerateRecommendations(stats.Basic, stats.Trends)

	e.store(key, stats, gen)
	e.log.Debug().Int("window_days", days).Int("methods", len(methods)).Msg("Method statistics computed")
	return stats, nil
}
