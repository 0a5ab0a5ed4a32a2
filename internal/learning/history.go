package learning

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

const (
	// DefaultHistoryDays is the window AnalyzeLearningHistory covers by
	// default.
	DefaultHistoryDays = 7
	historyRowLimit    = 100

	// Improvement area thresholds. Heuristic placeholders.
	minFeedbackRatio      = 0.1
	lowMethodSatisfaction = 3.0
)

// CategoryCount is the activity of one category within the window.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ImprovementArea is a weak spot found in the learning history.
type ImprovementArea struct {
	Area       string `json:"area"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion"`
}

// History summarizes recent learning activity.
type History struct {
	Period           string            `json:"period"`
	WindowDays       int               `json:"window_days"`
	TotalActivities  int               `json:"total_activities"`
	PatternGrowth    int               `json:"pattern_growth"`
	FeedbackVolume   int               `json:"feedback_volume"`
	JudgmentCount    int               `json:"judgment_count"`
	AnalysisAccuracy float64           `json:"analysis_accuracy"`
	CategoryTrends   []CategoryCount   `json:"category_trends"`
	ImprovementAreas []ImprovementArea `json:"improvement_areas"`
	GeneratedAt      string            `json:"generated_at"`
}

// AnalyzeLearningHistory reviews up to 100 rows of each kind created within
// the last windowDays (7 when zero).
//
// Accuracy is the share of judgments confirmed correct. Improvement areas
// flag confirmed misjudgments, feedback numbering under a tenth of the
// patterns, and methods whose average satisfaction is below 3.
func (s *Service) AnalyzeLearningHistory(ctx context.Context, windowDays int) (*History, error) {
	if windowDays < 0 {
		return nil, models.NewValidationError("window_days", "must be >= 0 (got %d)", windowDays)
	}
	if windowDays == 0 {
		windowDays = DefaultHistoryDays
	}

	end := s.now()
	start := end.AddDate(0, 0, -windowDays)
	filter := gorm.Filter{From: start, To: end, Limit: historyRowLimit}

	var (
		patterns  []*models.LearningPattern
		feedback  []*models.MethodFeedback
		judgments []*models.FileTypeJudgment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		patterns, err = s.stores.Patterns.Query(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		feedback, err = s.stores.Feedback.Query(gctx, filter)
		return err
	})
	g.Go(func() (err error) {
		judgments, err = s.stores.Judgments.Query(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("learning history: %w", err)
	}

	h := &History{
		Period:          start.In(models.JST).Format("2006-01-02") + " から " + end.In(models.JST).Format("2006-01-02"),
		WindowDays:      windowDays,
		TotalActivities: len(patterns) + len(feedback) + len(judgments),
		PatternGrowth:   len(patterns),
		FeedbackVolume:  len(feedback),
		JudgmentCount:   len(judgments),
		CategoryTrends:  categoryTrends(patterns, judgments),
		GeneratedAt:     models.FormatTimestamp(end),
	}

	misjudged, correct := 0, 0
	for _, j := range judgments {
		if j.IsCorrect == nil {
			continue
		}
		if *j.IsCorrect {
			correct++
		} else {
			misjudged++
		}
	}
	if len(judgments) > 0 {
		h.AnalysisAccuracy = scoring.RoundTo(float64(correct)/float64(len(judgments)), 1000)
	}

	h.ImprovementAreas = improvementAreas(misjudged, len(patterns), feedback)
	return h, nil
}

// categoryTrends counts patterns by context and judgments by label, busiest
// first.
func categoryTrends(patterns []*models.LearningPattern, judgments []*models.FileTypeJudgment) []CategoryCount {
	counts := make(map[string]int)
	for _, p := range patterns {
		counts[orUnknown(p.Context)]++
	}
	for _, j := range judgments {
		counts[orUnknown(string(j.Judgment))]++
	}

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return string(models.FileTypeUnknown)
	}
	return s
}

func improvementAreas(misjudged, patternCount int, feedback []*models.MethodFeedback) []ImprovementArea {
	areas := []ImprovementArea{}

	if misjudged > 0 {
		areas = append(areas, ImprovementArea{
			Area:       "ファイル種別判定精度",
			Issue:      fmt.Sprintf("%d件の誤判定", misjudged),
			Suggestion: "誤判定パターンの追加学習が必要",
		})
	}

	if float64(len(feedback)) < float64(patternCount)*minFeedbackRatio {
		areas = append(areas, ImprovementArea{
			Area:       "フィードバック収集",
			Issue:      "ユーザーフィードバックが不足",
			Suggestion: "より積極的なフィードバック要請が必要",
		})
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, f := range feedback {
		sums[f.AnalysisMethod] += f.UserSatisfactionScore
		counts[f.AnalysisMethod]++
	}
	low := 0
	for m, n := range counts {
		if sums[m]/float64(n) < lowMethodSatisfaction {
			low++
		}
	}
	if low > 0 {
		areas = append(areas, ImprovementArea{
			Area:       "分析方法改善",
			Issue:      fmt.Sprintf("%d件の低満足度方法", low),
			Suggestion: "分析手法の見直しが必要",
		})
	}
	return areas
}
