package scoring

import (
	"math"
	"unicode/utf8"

	"github.com/thebtf/learnlog/pkg/models"
)

// Satisfaction heuristic weights. Placeholders.
const (
	satisfactionBase      = 3.0
	satisfactionStep      = 0.5
	richContentThreshold  = 500
	satisfactionPrecision = 10
)

// ComputeSatisfactionScore returns a 1-5 satisfaction score for an analysis.
//
// An explicit rating is clamped to [1,5] and returned unrounded. Without one
// the score is estimated from the shape of the result: 3, plus 0.5 for each
// non-empty participants, decisions, action items and insights list, plus 0.5
// for content longer than 500 characters, capped at 5 and kept at one
// decimal place.
func ComputeSatisfactionScore(result models.AnalysisResult, feedback *models.UserFeedback) float64 {
	if feedback != nil && feedback.Rating != nil {
		return ClampSatisfaction(*feedback.Rating)
	}

	score := satisfactionBase
	if len(result.Participants) > 0 {
		score += satisfactionStep
	}
	if len(result.Decisions) > 0 {
		score += satisfactionStep
	}
	if len(result.ActionItems) > 0 {
		score += satisfactionStep
	}
	if len(result.Insights) > 0 {
		score += satisfactionStep
	}
	if utf8.RuneCountInString(result.Content) > richContentThreshold {
		score += satisfactionStep
	}

	return math.Min(RoundTo(score, satisfactionPrecision), models.MaxSatisfaction)
}

// ClampSatisfaction clamps v into [1,5].
func ClampSatisfaction(v float64) float64 {
	if math.IsNaN(v) {
		return models.MinSatisfaction
	}
	return math.Min(math.Max(v, models.MinSatisfaction), models.MaxSatisfaction)
}

// SatisfactionToEffectiveness maps a 1-5 satisfaction score onto the 0-100
// effectiveness scale.
func SatisfactionToEffectiveness(s float64) int {
	return ClampScore((ClampSatisfaction(s) - models.MinSatisfaction) / (models.MaxSatisfaction - models.MinSatisfaction) * MaxEffectiveness)
}

// RoundTo rounds v to 1/scale (scale 10 keeps one decimal place).
func RoundTo(v float64, scale float64) float64 {
	return math.Round(v*scale) / scale
}
