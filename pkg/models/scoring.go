package models

// Outcome describes the result of one analysis run as reported by the caller.
type Outcome struct {
	Success bool `json:"success"`
	// Confidence in [0,1], nil when the caller did not report one.
	Confidence *float64 `json:"confidence,omitempty"`
	// Accuracy in [0,1] as measured after the fact.
	Accuracy        *float64 `json:"accuracy,omitempty"`
	ExecutionTimeMs int64    `json:"execution_time_ms,omitempty"`
}

// UserFeedback carries the optional user reaction to a run.
type UserFeedback struct {
	// Satisfaction in [0,1], used by the effectiveness score.
	Satisfaction *float64 `json:"satisfaction,omitempty"`
	// Rating on the 1-5 scale, used by the satisfaction score.
	Rating       *float64 `json:"rating,omitempty"`
	Improvements string   `json:"improvements,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// AnalysisResult is the structured output of a transcript analysis.
type AnalysisResult struct {
	Participants []string `json:"participants,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`
	ActionItems  []string `json:"action_items,omitempty"`
	Insights     []string `json:"insights,omitempty"`
	Content      string   `json:"content,omitempty"`
}

// Trend is the three-way classification of a chronological score series,
// plus the explicit insufficient-data state.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendDeclining        Trend = "declining"
	TrendStable           Trend = "stable"
	TrendInsufficientData Trend = "insufficient_data"
)

// Priority of a generated recommendation.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
