// Package scoring provides effectiveness, satisfaction, trend and relevance
// scoring for learning records.
//
// The weights and thresholds here are heuristics carried over for
// behavioural compatibility. They are placeholders, not derived constants.
package scoring

import (
	"math"

	"github.com/thebtf/learnlog/pkg/models"
)

// Effectiveness score bounds.
const (
	MinEffectiveness = 0
	MaxEffectiveness = 100
)

// Config holds the effectiveness scoring weights.
type Config struct {
	BaseScore              float64 `json:"base_score"`
	SuccessBonus           float64 `json:"success_bonus"`
	ConfidenceWeight       float64 `json:"confidence_weight"`
	HighSatisfaction       float64 `json:"high_satisfaction"`
	HighSatisfactionBonus  float64 `json:"high_satisfaction_bonus"`
	GoodSatisfaction       float64 `json:"good_satisfaction"`
	GoodSatisfactionBonus  float64 `json:"good_satisfaction_bonus"`
	LowSatisfaction        float64 `json:"low_satisfaction"`
	LowSatisfactionPenalty float64 `json:"low_satisfaction_penalty"`
}

// DefaultConfig returns the standard effectiveness weights.
func DefaultConfig() *Config {
	return &Config{
		BaseScore:              50,
		SuccessBonus:           30,
		ConfidenceWeight:       20,
		HighSatisfaction:       0.8,
		HighSatisfactionBonus:  20,
		GoodSatisfaction:       0.6,
		GoodSatisfactionBonus:  10,
		LowSatisfaction:        0.4,
		LowSatisfactionPenalty: 20,
	}
}

// Calculator computes effectiveness scores for analysis methods.
type Calculator struct {
	config *Config
}

// NewCalculator creates a new effectiveness calculator.
// If config is nil, uses the default configuration.
func NewCalculator(config *Config) *Calculator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Calculator{config: config}
}

// Components is the breakdown of one effectiveness computation.
type Components struct {
	Base                float64 `json:"base"`
	SuccessContrib      float64 `json:"success_contrib"`
	ConfidenceContrib   float64 `json:"confidence_contrib"`
	SatisfactionContrib float64 `json:"satisfaction_contrib"`
	// Raw is the unclamped running total before blending.
	Raw float64 `json:"raw"`
	// Blended is set when a prior score was averaged in.
	Blended    bool    `json:"blended"`
	PriorScore int     `json:"prior_score,omitempty"`
	Final      int     `json:"final"`
	Unrounded  float64 `json:"unrounded"`
}

// Effectiveness computes the 0-100 score for an outcome.
//
//	total = base + success? + confidence × weight + satisfaction band
//	total = (total + prior) / 2          when prior is present
//	score = round(clamp(total, 0, 100))
func (c *Calculator) Effectiveness(outcome models.Outcome, feedback *models.UserFeedback, prior *int) int {
	return c.EffectivenessComponents(outcome, feedback, prior).Final
}

// EffectivenessComponents returns the individual contributions of the score.
func (c *Calculator) EffectivenessComponents(outcome models.Outcome, feedback *models.UserFeedback, prior *int) Components {
	comp := Components{Base: c.config.BaseScore}

	if outcome.Success {
		comp.SuccessContrib = c.config.SuccessBonus
	}
	if outcome.Confidence != nil {
		comp.ConfidenceContrib = *outcome.Confidence * c.config.ConfidenceWeight
	}
	if feedback != nil && feedback.Satisfaction != nil {
		comp.SatisfactionContrib = c.satisfactionAdjustment(*feedback.Satisfaction)
	}

	comp.Raw = comp.Base + comp.SuccessContrib + comp.ConfidenceContrib + comp.SatisfactionContrib

	total := comp.Raw
	if prior != nil {
		comp.Blended = true
		comp.PriorScore = *prior
		total = BlendWithPrior(total, *prior)
	}
	comp.Unrounded = total
	comp.Final = ClampScore(total)
	return comp
}

// RawEffectiveness returns the unclamped, unblended total. The store uses it
// to blend against the persisted prior inside a single statement.
func (c *Calculator) RawEffectiveness(outcome models.Outcome, feedback *models.UserFeedback) float64 {
	return c.EffectivenessComponents(outcome, feedback, nil).Raw
}

func (c *Calculator) satisfactionAdjustment(s float64) float64 {
	switch {
	case s > c.config.HighSatisfaction:
		return c.config.HighSatisfactionBonus
	case s > c.config.GoodSatisfaction:
		return c.config.GoodSatisfactionBonus
	case s < c.config.LowSatisfaction:
		return -c.config.LowSatisfactionPenalty
	}
	return 0
}

// BlendWithPrior averages a running total with the prior score.
func BlendWithPrior(total float64, prior int) float64 {
	return (total + float64(prior)) / 2
}

// ClampScore rounds v to the nearest integer within [0,100].
func ClampScore(v float64) int {
	if math.IsNaN(v) {
		return MinEffectiveness
	}
	return int(math.Round(math.Min(math.Max(v, MinEffectiveness), MaxEffectiveness)))
}

var defaultCalculator = NewCalculator(nil)

// ComputeEffectivenessScore scores an outcome with the default weights.
func ComputeEffectivenessScore(outcome models.Outcome, feedback *models.UserFeedback, prior *int) int {
	return defaultCalculator.Effectiveness(outcome, feedback, prior)
}
