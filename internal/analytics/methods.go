package analytics

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// Prediction and comparison heuristics. Placeholders, not derived constants.
const (
	predictionSamples         = 10
	defaultPrediction         = 50
	defaultPredictionConf     = 0.1
	contextMatchBonus         = 10
	comparisonTieThreshold    = 5
	methodRecommendationLimit = 10
	recommendedThreshold      = 70
	provenUsageThreshold      = 10
)

// Prediction is the expected effectiveness of a method for a file type.
type Prediction struct {
	MethodName string  `json:"method_name"`
	FileType   string  `json:"file_type,omitempty"`
	Prediction int     `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Samples    int     `json:"samples"`
}

// PredictEffectiveness estimates the effectiveness of method on fileType.
//
// The samples are the method's latest satisfaction ratings mapped onto
// 0-100; with no ratings, a stored method row counts as a single sample.
// The prediction is their mean, plus a bonus when fileType is one of the
// method's success contexts, clamped and rounded. Confidence grows linearly
// to 1 at ten samples. Without any history the prediction is 50 with
// confidence 0.1.
func (e *Engine) PredictEffectiveness(ctx context.Context, fileType, method string) (*Prediction, error) {
	if strings.TrimSpace(method) == "" {
		return nil, models.NewValidationError("method", "is required")
	}

	recent, err := e.feedback.Recent(ctx, method, predictionSamples)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", method, err)
	}
	row, err := e.methods.FindByName(ctx, method)
	if err != nil && !models.IsNotFound(err) {
		return nil, fmt.Errorf("predict %s: %w", method, err)
	}

	samples := make([]float64, 0, len(recent))
	for _, f := range recent {
		samples = append(samples, float64(scoring.SatisfactionToEffectiveness(f.UserSatisfactionScore)))
	}
	if len(samples) == 0 && row != nil {
		samples = append(samples, float64(row.EffectivenessScore))
	}

	p := &Prediction{MethodName: method, FileType: fileType, Samples: len(samples)}
	if len(samples) == 0 {
		p.Prediction = defaultPrediction
		p.Confidence = defaultPredictionConf
		p.Reason = "履歴データなし"
		return p, nil
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	estimate := sum / float64(len(samples))
	if fileType != "" && row != nil && row.SuccessContexts.Contains(fileType) {
		estimate += contextMatchBonus
	}

	p.Prediction = scoring.ClampScore(estimate)
	p.Confidence = scoring.RoundTo(math.Min(float64(len(samples))/predictionSamples, 1), 100)
	p.Reason = fmt.Sprintf("過去%d件のデータに基づく予測", len(samples))
	return p, nil
}

// MethodSummary is one side of a comparison.
type MethodSummary struct {
	Name             string `json:"name"`
	AvgEffectiveness int    `json:"avg_effectiveness"`
	UsageCount       int    `json:"usage_count"`
	DataPoints       int    `json:"data_points"`
}

// Comparison contrasts two methods.
type Comparison struct {
	Method1                 MethodSummary `json:"method1"`
	Method2                 MethodSummary `json:"method2"`
	EffectivenessDifference int           `json:"effectiveness_difference"`
	UsageDifference         int           `json:"usage_difference"`
	Recommendation          string        `json:"recommendation"`
}

// CompareMethods compares the stored effectiveness of two methods. A method
// with no row counts as 0 with no usage. Differences below 5 points are
// reported as a tie.
func (e *Engine) CompareMethods(ctx context.Context, method1, method2 string) (*Comparison, error) {
	if strings.TrimSpace(method1) == "" {
		return nil, models.NewValidationError("method1", "is required")
	}
	if strings.TrimSpace(method2) == "" {
		return nil, models.NewValidationError("method2", "is required")
	}

	a, err := e.methodSummary(ctx, method1)
	if err != nil {
		return nil, err
	}
	b, err := e.methodSummary(ctx, method2)
	if err != nil {
		return nil, err
	}

	c := &Comparison{
		Method1:                 a,
		Method2:                 b,
		EffectivenessDifference: a.AvgEffectiveness - b.AvgEffectiveness,
		UsageDifference:         a.UsageCount - b.UsageCount,
	}
	diff := c.EffectivenessDifference
	switch {
	case abs(diff) < comparisonTieThreshold:
		c.Recommendation = "両メソッドの効果は同程度です"
	case diff > 0:
		c.Recommendation = fmt.Sprintf("%sがより効果的です（+%d%%）", method1, diff)
	default:
		c.Recommendation = fmt.Sprintf("%sがより効果的です（+%d%%）", method2, -diff)
	}
	return c, nil
}

func (e *Engine) methodSummary(ctx context.Context, name string) (MethodSummary, error) {
	s := MethodSummary{Name: name}
	row, err := e.methods.FindByName(ctx, name)
	if models.IsNotFound(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("compare %s: %w", name, err)
	}
	s.AvgEffectiveness = row.EffectivenessScore
	s.UsageCount = row.UsageCount
	s.DataPoints = 1
	return s, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MethodRecommendation is a method suggested for a file type.
type MethodRecommendation struct {
	Method             string `json:"method"`
	EffectivenessScore int    `json:"effectiveness_score"`
	UsageCount         int    `json:"usage_count"`
	Reason             string `json:"reason"`
	// Recommendation is "recommended" at 70 and above, "optional" below.
	Recommendation string `json:"recommendation"`
}

// MethodRecommendations lists the methods that have succeeded on fileType,
// best first.
func (e *Engine) MethodRecommendations(ctx context.Context, fileType string) ([]MethodRecommendation, error) {
	if strings.TrimSpace(fileType) == "" {
		return nil, models.NewValidationError("file_type", "is required")
	}

	rows, err := e.methods.ByContext(ctx, fileType, methodRecommendationLimit)
	if err != nil {
		return nil, fmt.Errorf("method recommendations %s: %w", fileType, err)
	}

	out := make([]MethodRecommendation, 0, len(rows))
	for _, m := range rows {
		rec := MethodRecommendation{
			Method:             m.MethodName,
			EffectivenessScore: m.EffectivenessScore,
			UsageCount:         m.UsageCount,
			Recommendation:     "optional",
		}
		switch {
		case m.EffectivenessScore >= excellentLevel:
			rec.Reason = fmt.Sprintf("高い効果スコア（%d%%）", m.EffectivenessScore)
		case m.UsageCount > provenUsageThreshold:
			rec.Reason = fmt.Sprintf("豊富な使用実績（%d回）", m.UsageCount)
		default:
			rec.Reason = fmt.Sprintf("中程度の効果（%d%%）", m.EffectivenessScore)
		}
		if m.EffectivenessScore >= recommendedThreshold {
			rec.Recommendation = "recommended"
		}
		out = append(out, rec)
	}
	return out, nil
}
