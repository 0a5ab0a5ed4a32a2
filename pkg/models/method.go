package models

import "strings"

// MethodEffectiveness is the single live row per analysis method.
type MethodEffectiveness struct {
	ID                 int64           `json:"id"`
	MethodName         string          `json:"method_name"`
	EffectivenessScore int             `json:"effectiveness_score"`
	UsageCount         int             `json:"usage_count"`
	SuccessContexts    JSONStringArray `json:"success_contexts"`
	OptimizationNotes  string          `json:"optimization_notes,omitempty"`
	CreatedAt          string          `json:"created_at"`
	CreatedAtEpoch     int64           `json:"created_at_epoch"`
	LastUsed           string          `json:"last_used"`
	LastUsedEpoch      int64           `json:"last_used_epoch"`
}

// Validate checks the range invariants of a method row.
func (m *MethodEffectiveness) Validate() error {
	if strings.TrimSpace(m.MethodName) == "" {
		return NewValidationError("method_name", "is required")
	}
	if m.EffectivenessScore < 0 || m.EffectivenessScore > 100 {
		return NewValidationError("effectiveness_score", "must be within [0,100] (got %d)", m.EffectivenessScore)
	}
	if m.UsageCount < 1 {
		return NewValidationError("usage_count", "must be >= 1 (got %d)", m.UsageCount)
	}
	return nil
}

// MethodFeedback is a user satisfaction rating of one analysis run
// (stored in analysis_method_effectiveness).
type MethodFeedback struct {
	ID                    int64   `json:"id"`
	FileType              string  `json:"file_type"`
	AnalysisMethod        string  `json:"analysis_method"`
	UserSatisfactionScore float64 `json:"user_satisfaction_score"`
	SpecificFeedback      string  `json:"specific_feedback,omitempty"`
	CreatedAt             string  `json:"created_at"`
	CreatedAtEpoch        int64   `json:"created_at_epoch"`
}

// Satisfaction score bounds.
const (
	MinSatisfaction = 1.0
	MaxSatisfaction = 5.0
)

// Validate checks the range invariants of a feedback row.
func (f *MethodFeedback) Validate() error {
	if strings.TrimSpace(f.AnalysisMethod) == "" {
		return NewValidationError("analysis_method", "is required")
	}
	if f.UserSatisfactionScore < MinSatisfaction || f.UserSatisfactionScore > MaxSatisfaction {
		return NewValidationError("user_satisfaction_score", "must be within [1,5] (got %v)", f.UserSatisfactionScore)
	}
	return nil
}
