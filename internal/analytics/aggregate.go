package analytics

import (
	"context"
	"fmt"
	"math"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// defaultTopN is used when TopPerformers is asked for n <= 0.
const defaultTopN = 10

// Band is one 10-point slice of the 0-100 score distribution.
type Band struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

// bandLabels lists the distribution bands from best to worst.
var bandLabels = [10]string{"90-100", "80-89", "70-79", "60-69", "50-59", "40-49", "30-39", "20-29", "10-19", "0-9"}

// Summary is the rollup of a chronological series of 0-100 scores.
type Summary struct {
	Count        int          `json:"count"`
	Avg          float64      `json:"avg"`
	Max          float64      `json:"max"`
	Min          float64      `json:"min"`
	Distribution []Band       `json:"distribution"`
	Trend        models.Trend `json:"trend"`
}

// Summarize rolls up scores, which must be ordered oldest first. The
// average is rounded to two decimals. An empty series yields zero values,
// an all-zero distribution and insufficient_data.
func Summarize(scores []float64, trendMinSamples int) Summary {
	s := Summary{
		Count:        len(scores),
		Distribution: make([]Band, len(bandLabels)),
		Trend:        scoring.ClassifyTrend(scores, trendMinSamples),
	}
	for i, label := range bandLabels {
		s.Distribution[i].Range = label
	}
	if len(scores) == 0 {
		return s
	}

	s.Max, s.Min = math.Inf(-1), math.Inf(1)
	var sum float64
	for _, v := range scores {
		sum += v
		s.Max = math.Max(s.Max, v)
		s.Min = math.Min(s.Min, v)
		s.Distribution[bandIndex(v)].Count++
	}
	s.Avg = scoring.RoundTo(sum/float64(len(scores)), 100)
	return s
}

// bandIndex maps a score onto bandLabels; 100 falls into 90-100.
func bandIndex(v float64) int {
	v = math.Min(math.Max(v, 0), 100)
	decile := min(int(v)/10, 9)
	return 9 - decile
}

// Aggregate is the windowed rollup of one record kind.
type Aggregate struct {
	Kind       models.RecordKind `json:"kind"`
	WindowDays int               `json:"window_days"`
	Summary
	// TotalUsage and DistinctMethods are set for the methods kind.
	TotalUsage      int `json:"total_usage,omitempty"`
	DistinctMethods int `json:"distinct_methods,omitempty"`
}

// Aggregate rolls up the scores of kind observed within the last windowDays.
//
// Methods contribute their effectiveness score, windowed and ordered by last
// use. Feedback contributes its satisfaction mapped onto 0-100, windowed and
// ordered by creation. Patterns and judgments carry no score and are
// rejected.
func (e *Engine) Aggregate(ctx context.Context, kind models.RecordKind, windowDays int) (*Aggregate, error) {
	days, since, err := e.window(windowDays)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{Kind: kind, WindowDays: days}
	var scores []float64
	switch kind {
	case models.KindMethods:
		rows, err := e.methods.UsedSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("aggregate methods: %w", err)
		}
		scores = make([]float64, len(rows))
		for i, m := range rows {
			scores[i] = float64(m.EffectivenessScore)
			agg.TotalUsage += m.UsageCount
		}
		agg.DistinctMethods = len(rows)
	case models.KindFeedback:
		rows, err := e.feedback.Since(ctx, since, "")
		if err != nil {
			return nil, fmt.Errorf("aggregate feedback: %w", err)
		}
		scores = make([]float64, len(rows))
		for i, f := range rows {
			scores[i] = float64(scoring.SatisfactionToEffectiveness(f.UserSatisfactionScore))
		}
	default:
		return nil, models.NewValidationError("kind", "aggregate supports methods and feedback (got %q)", kind)
	}

	agg.Summary = Summarize(scores, e.config.AggregateTrendMinSamples)
	return agg, nil
}

// Performer is one entry of a top-performers list.
type Performer struct {
	Kind models.RecordKind `json:"kind"`
	ID   int64             `json:"id"`
	Name string            `json:"name"`
	// Score is on the 0-100 scale for methods and feedback and is the
	// success count for patterns.
	Score float64 `json:"score"`
	// Usage is the usage count for methods and the success count for
	// patterns.
	Usage   int    `json:"usage"`
	Context string `json:"context,omitempty"`
}

// TopPerformers returns the n best rows of kind within the last windowDays:
// methods by score then usage, feedback by satisfaction, patterns by
// success count.
func (e *Engine) TopPerformers(ctx context.Context, kind models.RecordKind, windowDays, n int) ([]Performer, error) {
	_, since, err := e.window(windowDays)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = defaultTopN
	}

	var out []Performer
	switch kind {
	case models.KindMethods:
		rows, err := e.methods.Top(ctx, since, n)
		if err != nil {
			return nil, fmt.Errorf("top methods: %w", err)
		}
		for _, m := range rows {
			out = append(out, Performer{
				Kind:  kind,
				ID:    m.ID,
				Name:  m.MethodName,
				Score: float64(m.EffectivenessScore),
				Usage: m.UsageCount,
			})
		}
	case models.KindFeedback:
		rows, err := e.feedback.Top(ctx, since, n)
		if err != nil {
			return nil, fmt.Errorf("top feedback: %w", err)
		}
		for _, f := range rows {
			out = append(out, Performer{
				Kind:    kind,
				ID:      f.ID,
				Name:    f.AnalysisMethod,
				Score:   float64(scoring.SatisfactionToEffectiveness(f.UserSatisfactionScore)),
				Usage:   1,
				Context: f.FileType,
			})
		}
	case models.KindPatterns:
		rows, err := e.patterns.Query(ctx, gorm.Filter{From: since, Limit: n})
		if err != nil {
			return nil, fmt.Errorf("top patterns: %w", err)
		}
		for _, p := range rows {
			out = append(out, Performer{
				Kind:    kind,
				ID:      p.ID,
				Name:    p.Description,
				Score:   float64(p.SuccessCount),
				Usage:   p.SuccessCount,
				Context: p.Context,
			})
		}
	default:
		return nil, models.NewValidationError("kind", "top performers supports methods, feedback and patterns (got %q)", kind)
	}
	if out == nil {
		out = []Performer{}
	}
	return out, nil
}

// CategoryStats summarizes the patterns of each context, most populated
// first.
func (e *Engine) CategoryStats(ctx context.Context) ([]gorm.CategoryStat, error) {
	stats, err := e.patterns.CategoryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	if stats == nil {
		stats = []gorm.CategoryStat{}
	}
	return stats, nil
}
