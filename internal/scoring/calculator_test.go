package scoring

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/learnlog/pkg/models"
)

// CalculatorSuite is a test suite for the effectiveness Calculator.
type CalculatorSuite struct {
	suite.Suite
	calc *Calculator
}

func (s *CalculatorSuite) SetupTest() {
	s.calc = NewCalculator(nil)
}

func TestCalculatorSuite(t *testing.T) {
	suite.Run(t, new(CalculatorSuite))
}

func intPtr(v int) *int { return &v }

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *CalculatorSuite) TestEffectiveness_SuccessWithConfidence() {
	score := s.calc.Effectiveness(models.Outcome{Success: true, Confidence: models.Float64(0.8)}, nil, nil)
	s.Equal(96, score)
}

func (s *CalculatorSuite) TestEffectiveness_HighSatisfactionClampsAt100() {
	fb := &models.UserFeedback{Satisfaction: models.Float64(0.9)}
	comp := s.calc.EffectivenessComponents(models.Outcome{Success: true, Confidence: models.Float64(0.8)}, fb, nil)
	s.InDelta(116, comp.Raw, 1e-9)
	s.Equal(100, comp.Final)
}

func (s *CalculatorSuite) TestEffectiveness_BaseOnly() {
	s.Equal(50, s.calc.Effectiveness(models.Outcome{}, nil, nil))
}

func (s *CalculatorSuite) TestEffectiveness_SatisfactionBands() {
	base := models.Outcome{}
	cases := []struct {
		satisfaction float64
		want         int
	}{
		{0.95, 70},
		{0.81, 70},
		{0.8, 60},
		{0.7, 60},
		{0.6, 50},
		{0.4, 50},
		{0.39, 30},
		{0.0, 30},
	}
	for _, tc := range cases {
		got := s.calc.Effectiveness(base, &models.UserFeedback{Satisfaction: models.Float64(tc.satisfaction)}, nil)
		s.Equal(tc.want, got, "satisfaction %v", tc.satisfaction)
	}
}

func (s *CalculatorSuite) TestEffectiveness_BlendsWithPrior() {
	// (96 + 40) / 2 = 68
	comp := s.calc.EffectivenessComponents(models.Outcome{Success: true, Confidence: models.Float64(0.8)}, nil, intPtr(40))
	s.True(comp.Blended)
	s.Equal(40, comp.PriorScore)
	s.Equal(68, comp.Final)
}

func (s *CalculatorSuite) TestEffectiveness_BlendUsesUnclampedTotal() {
	// (116 + 80) / 2 = 98, not (100 + 80) / 2 = 90
	fb := &models.UserFeedback{Satisfaction: models.Float64(0.9)}
	got := s.calc.Effectiveness(models.Outcome{Success: true, Confidence: models.Float64(0.8)}, fb, intPtr(80))
	s.Equal(98, got)
}

func (s *CalculatorSuite) TestComputeEffectivenessScore_DefaultCalculator() {
	s.Equal(96, ComputeEffectivenessScore(models.Outcome{Success: true, Confidence: models.Float64(0.8)}, nil, nil))
}

// =============================================================================
// PROPERTIES
// =============================================================================

func (s *CalculatorSuite) TestEffectiveness_AlwaysInRange() {
	sats := []*float64{nil, models.Float64(0), models.Float64(0.5), models.Float64(0.7), models.Float64(1)}
	priors := []*int{nil, intPtr(0), intPtr(50), intPtr(100)}
	for _, success := range []bool{false, true} {
		for c := 0.0; c <= 1.0; c += 0.05 {
			for _, sat := range sats {
				for _, prior := range priors {
					var fb *models.UserFeedback
					if sat != nil {
						fb = &models.UserFeedback{Satisfaction: sat}
					}
					got := s.calc.Effectiveness(models.Outcome{Success: success, Confidence: models.Float64(c)}, fb, prior)
					s.GreaterOrEqual(got, MinEffectiveness)
					s.LessOrEqual(got, MaxEffectiveness)
				}
			}
		}
	}
}

func (s *CalculatorSuite) TestEffectiveness_MonotonicInConfidence() {
	for _, prior := range []*int{nil, intPtr(0), intPtr(70)} {
		prev := -1
		for c := 0.0; c <= 1.0; c += 0.01 {
			got := s.calc.Effectiveness(models.Outcome{Confidence: models.Float64(c)}, nil, prior)
			s.GreaterOrEqual(got, prev, "confidence %v", c)
			prev = got
		}
	}
}

func (s *CalculatorSuite) TestEffectiveness_HighSatisfactionNeverLowers() {
	for _, prior := range []*int{nil, intPtr(0), intPtr(33), intPtr(100)} {
		for c := 0.0; c <= 1.0; c += 0.1 {
			outcome := models.Outcome{Confidence: models.Float64(c)}
			without := s.calc.Effectiveness(outcome, nil, prior)
			with := s.calc.Effectiveness(outcome, &models.UserFeedback{Satisfaction: models.Float64(0.85)}, prior)
			s.GreaterOrEqual(with, without)
		}
	}
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-12.4))
	assert.Equal(t, 100, ClampScore(150))
	assert.Equal(t, 73, ClampScore(72.5))
	assert.Equal(t, 0, ClampScore(0.0/zero()))
}

func zero() float64 { return 0 }

func TestComputeSatisfactionScore(t *testing.T) {
	t.Run("rating bypasses heuristic", func(t *testing.T) {
		got := ComputeSatisfactionScore(models.AnalysisResult{}, &models.UserFeedback{Rating: models.Float64(4.7)})
		assert.Equal(t, 4.7, got)
	})

	t.Run("rating is clamped", func(t *testing.T) {
		assert.Equal(t, 5.0, ComputeSatisfactionScore(models.AnalysisResult{}, &models.UserFeedback{Rating: models.Float64(9)}))
		assert.Equal(t, 1.0, ComputeSatisfactionScore(models.AnalysisResult{}, &models.UserFeedback{Rating: models.Float64(0)}))
	})

	t.Run("empty result scores base", func(t *testing.T) {
		assert.Equal(t, 3.0, ComputeSatisfactionScore(models.AnalysisResult{}, nil))
	})

	t.Run("feedback without rating uses heuristic", func(t *testing.T) {
		got := ComputeSatisfactionScore(models.AnalysisResult{Decisions: []string{"ship"}}, &models.UserFeedback{Text: "ok"})
		assert.Equal(t, 3.5, got)
	})

	t.Run("rich result caps at five", func(t *testing.T) {
		content := make([]rune, 501)
		for i := range content {
			content[i] = '議'
		}
		res := models.AnalysisResult{
			Participants: []string{"田中"},
			Decisions:    []string{"採用"},
			ActionItems:  []string{"見積"},
			Insights:     []string{"需要増"},
			Content:      string(content),
		}
		assert.Equal(t, 5.0, ComputeSatisfactionScore(res, nil))
	})

	t.Run("content length counts characters", func(t *testing.T) {
		content := make([]rune, 200)
		for i := range content {
			content[i] = '議'
		}
		// 600 bytes but only 200 characters
		assert.Equal(t, 3.0, ComputeSatisfactionScore(models.AnalysisResult{Content: string(content)}, nil))
	})
}

func TestSatisfactionToEffectiveness(t *testing.T) {
	assert.Equal(t, 0, SatisfactionToEffectiveness(1))
	assert.Equal(t, 50, SatisfactionToEffectiveness(3))
	assert.Equal(t, 100, SatisfactionToEffectiveness(5))
	assert.Equal(t, 100, SatisfactionToEffectiveness(7))
}

func TestClassifyTrend(t *testing.T) {
	t.Run("improving over two halves", func(t *testing.T) {
		summary := SummarizeTrend([]float64{40, 45, 90, 95}, 4)
		require.Equal(t, models.TrendImproving, summary.Trend)
		assert.Equal(t, 42.5, summary.OlderMean)
		assert.Equal(t, 92.5, summary.NewerMean)
		assert.Equal(t, 50.0, summary.Difference)
	})

	t.Run("below minimum is insufficient data", func(t *testing.T) {
		assert.Equal(t, models.TrendInsufficientData, ClassifyTrend([]float64{1, 2, 3, 4, 5}, 0))
		assert.Equal(t, models.TrendInsufficientData, ClassifyTrend(nil, 1))
	})

	t.Run("default minimum is six", func(t *testing.T) {
		assert.Equal(t, models.TrendImproving, ClassifyTrend([]float64{3, 3, 3, 4, 4, 4}, 0))
	})

	t.Run("boundary is stable", func(t *testing.T) {
		assert.Equal(t, models.TrendStable, ClassifyTrend([]float64{3.0, 3.0, 3.0, 3.2, 3.2, 3.2}, 6))
		assert.Equal(t, models.TrendStable, ClassifyTrend([]float64{3.2, 3.2, 3.2, 3.0, 3.0, 3.0}, 6))
		assert.Equal(t, models.TrendStable, ClassifyTrend([]float64{4.1, 4.1, 4.1, 4.3, 4.3, 4.3}, 6))
	})

	t.Run("reversal flips direction", func(t *testing.T) {
		series := []float64{2, 2.5, 3, 4, 4.5, 5, 4.8}
		reversed := make([]float64, len(series))
		for i, v := range series {
			reversed[len(series)-1-i] = v
		}
		assert.Equal(t, models.TrendImproving, ClassifyTrend(series, 6))
		assert.Equal(t, models.TrendDeclining, ClassifyTrend(reversed, 6))
	})

	t.Run("odd length puts extra sample in older half", func(t *testing.T) {
		summary := SummarizeTrend([]float64{1, 1, 1, 1, 5, 5, 5}, 6)
		assert.Equal(t, 1.0, summary.OlderMean)
		assert.Equal(t, 5.0, summary.NewerMean)
	})
}

func TestTrendCounts(t *testing.T) {
	var c TrendCounts
	c.Add(models.TrendImproving)
	c.Add(models.TrendDeclining)
	c.Add(models.TrendDeclining)
	c.Add(models.TrendStable)
	c.Add(models.TrendInsufficientData)
	assert.Equal(t, TrendCounts{Improving: 1, Declining: 2, Stable: 1, InsufficientData: 1}, c)
}

func TestRelevance(t *testing.T) {
	t.Run("empty query scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Relevance("", "meeting notes"))
		assert.Equal(t, 0.0, Relevance("   ", "meeting notes"))
	})

	t.Run("no match scores zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Relevance("proposal", "meeting notes"))
		assert.Equal(t, 0.0, Relevance("proposal"))
	})

	t.Run("full field match beats sparse match", func(t *testing.T) {
		full := Relevance("議事録", "議事録")
		sparse := Relevance("議事録", "議事録"+strings.Repeat("会", 27))
		assert.Greater(t, full, sparse)
		assert.InDelta(t, 1.0/3.0, full, 1e-9)
		assert.InDelta(t, 0.1/3.0, sparse, 1e-9)
	})

	t.Run("case insensitive", func(t *testing.T) {
		assert.Equal(t, Relevance("meeting", "meeting"), Relevance("MEETING", "Meeting"))
	})

	t.Run("monotonic in term frequency", func(t *testing.T) {
		once := Relevance("ab", "ab cd ef gh")
		twice := Relevance("ab", "ab ab ef gh")
		assert.Greater(t, twice, once)
	})

	t.Run("capped at one", func(t *testing.T) {
		assert.LessOrEqual(t, Relevance("a b aa", "aaaaaa", "b"), 1.0)
	})
}

func TestHybridScore(t *testing.T) {
	calc := NewRelevanceCalculator(nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	plain := calc.HybridScore(HybridParams{FullText: 0.5, Relational: 0.2, SuccessCount: 2, Now: now})
	assert.InDelta(t, 1.2, plain, 1e-9)

	proven := calc.HybridScore(HybridParams{FullText: 0.5, Relational: 0.2, SuccessCount: 6, Now: now})
	assert.InDelta(t, 1.8, proven, 1e-9)

	recent := calc.HybridScore(HybridParams{FullText: 0.5, Relational: 0.2, SuccessCount: 6, LastUsed: now.Add(-48 * time.Hour), Now: now})
	assert.InDelta(t, 2.16, recent, 1e-9)

	stale := calc.HybridScore(HybridParams{FullText: 0.5, Relational: 0.2, SuccessCount: 5, LastUsed: now.Add(-8 * 24 * time.Hour), Now: now})
	assert.InDelta(t, 1.2, stale, 1e-9)
}

func TestOptimizationNotes(t *testing.T) {
	notes := OptimizationNotes(
		models.Outcome{ExecutionTimeMs: 1200, Accuracy: models.Float64(0.853)},
		&models.UserFeedback{Improvements: "参加者の抽出精度を上げる"},
	)
	assert.Equal(t, "実行時間: 1200ms; 精度: 85.3%; 改善提案: 参加者の抽出精度を上げる", notes)
	assert.Empty(t, OptimizationNotes(models.Outcome{}, nil))
}
