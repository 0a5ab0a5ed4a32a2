package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// Satisfaction thresholds for trend reports. Heuristic placeholders.
const (
	lowOverallSatisfaction   = 3.5
	lowMethodSatisfaction    = 3.0
	lowMethodMinCount        = 3
	bestMethodSatisfaction   = 4.0
	bestMethodMinCount       = 2
	topMethodsLimit          = 3
	feedbackWindowDays       = 60
	feedbackMinAverage       = 4.0
	feedbackExcellentAverage = 4.5
	feedbackRecommendLimit   = 5
)

// TrendNoData marks a trend report over an empty window.
const TrendNoData models.Trend = "no_data"

// MethodBreakdown is the satisfaction of one method within a window.
type MethodBreakdown struct {
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
}

// TopMethod is a well rated method within a window.
type TopMethod struct {
	Method       string  `json:"method"`
	AverageScore float64 `json:"average_score"`
	UsageCount   int     `json:"usage_count"`
}

// Suggestion is one improvement hint from a trend report.
type Suggestion struct {
	Type       string          `json:"type"`
	Priority   models.Priority `json:"priority"`
	Suggestion string          `json:"suggestion"`
}

// ImprovementReport summarizes satisfaction feedback over a window.
type ImprovementReport struct {
	WindowDays          int                        `json:"window_days"`
	AverageSatisfaction float64                    `json:"average_satisfaction"`
	TrendDirection      models.Trend               `json:"trend_direction"`
	DataPoints          int                        `json:"data_points"`
	TopMethods          []TopMethod                `json:"top_methods"`
	MethodBreakdown     map[string]MethodBreakdown `json:"method_breakdown"`
	Suggestions         []Suggestion               `json:"suggestions"`
}

// ImprovementTrends reports on satisfaction feedback within the last
// windowDays. Averages are kept at one decimal place.
func (e *Engine) ImprovementTrends(ctx context.Context, windowDays int) (*ImprovementReport, error) {
	days, since, err := e.window(windowDays)
	if err != nil {
		return nil, err
	}

	rows, err := e.feedback.Since(ctx, since, "")
	if err != nil {
		return nil, fmt.Errorf("improvement trends: %w", err)
	}

	report := &ImprovementReport{
		WindowDays:      days,
		DataPoints:      len(rows),
		TopMethods:      []TopMethod{},
		MethodBreakdown: map[string]MethodBreakdown{},
		Suggestions:     []Suggestion{},
	}
	if len(rows) == 0 {
		report.TrendDirection = TrendNoData
		return report, nil
	}

	samples := make([]float64, len(rows))
	sums := make(map[string]float64)
	counts := make(map[string]int)
	var total float64
	for i, f := range rows {
		samples[i] = f.UserSatisfactionScore
		total += f.UserSatisfactionScore
		sums[f.AnalysisMethod] += f.UserSatisfactionScore
		counts[f.AnalysisMethod]++
	}
	report.AverageSatisfaction = scoring.RoundTo(total/float64(len(rows)), 10)
	report.TrendDirection = scoring.ClassifyTrend(samples, scoring.DefaultTrendMinSamples)

	for method, n := range counts {
		report.MethodBreakdown[method] = MethodBreakdown{
			Count:        n,
			AverageScore: scoring.RoundTo(sums[method]/float64(n), 10),
		}
	}

	for method, b := range report.MethodBreakdown {
		if b.Count >= bestMethodMinCount {
			report.TopMethods = append(report.TopMethods, TopMethod{Method: method, AverageScore: b.AverageScore, UsageCount: b.Count})
		}
	}
	sort.Slice(report.TopMethods, func(i, j int) bool {
		a, b := report.TopMethods[i], report.TopMethods[j]
		if a.AverageScore != b.AverageScore {
			return a.AverageScore > b.AverageScore
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.Method < b.Method
	})

	report.Suggestions = improvementSuggestions(report)
	if len(report.TopMethods) > topMethodsLimit {
		report.TopMethods = report.TopMethods[:topMethodsLimit]
	}
	return report, nil
}

// improvementSuggestions expects report.TopMethods sorted best first.
func improvementSuggestions(report *ImprovementReport) []Suggestion {
	suggestions := []Suggestion{}

	if report.AverageSatisfaction < lowOverallSatisfaction {
		suggestions = append(suggestions, Suggestion{
			Type:       "overall_improvement",
			Priority:   models.PriorityHigh,
			Suggestion: "全体の満足度が" + formatNumber(report.AverageSatisfaction) + "と低めです。分析手法の見直しを推奨します。",
		})
	}

	methods := make([]string, 0, len(report.MethodBreakdown))
	for m := range report.MethodBreakdown {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		b := report.MethodBreakdown[m]
		if b.AverageScore < lowMethodSatisfaction && b.Count >= lowMethodMinCount {
			suggestions = append(suggestions, Suggestion{
				Type:       "method_specific",
				Priority:   models.PriorityMedium,
				Suggestion: m + "の満足度が" + formatNumber(b.AverageScore) + "と低いです。手法の調整が必要です。",
			})
		}
	}

	if len(report.TopMethods) > 0 && report.TopMethods[0].AverageScore >= bestMethodSatisfaction {
		best := report.TopMethods[0]
		suggestions = append(suggestions, Suggestion{
			Type:       "recommend_best",
			Priority:   models.PriorityLow,
			Suggestion: best.Method + "が高評価（" + formatNumber(best.AverageScore) + "）です。この手法の活用を推奨します。",
		})
	}
	return suggestions
}

// FeedbackRecommendation is a method users rated highly for a file type.
type FeedbackRecommendation struct {
	Method       string  `json:"method"`
	AverageScore float64 `json:"average_score"`
	UsageCount   int64   `json:"usage_count"`
	// Effectiveness is "excellent" at 4.5 and above, "good" otherwise.
	Effectiveness string `json:"effectiveness"`
	Reason        string `json:"reason"`
}

// FeedbackRecommendations lists the methods averaging at least 4 for
// fileType over the last 60 days, best first.
func (e *Engine) FeedbackRecommendations(ctx context.Context, fileType string) ([]FeedbackRecommendation, error) {
	if strings.TrimSpace(fileType) == "" {
		return nil, models.NewValidationError("file_type", "is required")
	}

	since := e.now().AddDate(0, 0, -feedbackWindowDays)
	rows, err := e.feedback.MethodAverages(ctx, fileType, since, feedbackMinAverage, feedbackRecommendLimit)
	if err != nil {
		return nil, fmt.Errorf("feedback recommendations %s: %w", fileType, err)
	}

	out := make([]FeedbackRecommendation, 0, len(rows))
	for _, r := range rows {
		rec := FeedbackRecommendation{
			Method:        r.AnalysisMethod,
			AverageScore:  scoring.RoundTo(r.AvgSatisfaction, 10),
			UsageCount:    r.UsageCount,
			Effectiveness: "good",
			Reason:        feedbackReason(r.AvgSatisfaction, r.UsageCount),
		}
		if r.AvgSatisfaction >= feedbackExcellentAverage {
			rec.Effectiveness = "excellent"
		}
		out = append(out, rec)
	}
	return out, nil
}

func feedbackReason(avg float64, usage int64) string {
	var reasons []string
	switch {
	case avg >= feedbackExcellentAverage:
		reasons = append(reasons, "非常に高い満足度")
	case avg >= feedbackMinAverage:
		reasons = append(reasons, "高い満足度")
	}
	switch {
	case usage >= 10:
		reasons = append(reasons, "豊富な実績")
	case usage >= 5:
		reasons = append(reasons, "十分な実績")
	}
	if len(reasons) == 0 {
		return "安定した性能"
	}
	return strings.Join(reasons, "、")
}
