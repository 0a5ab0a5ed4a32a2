package models

import (
	"database/sql/driver"
	"fmt"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

// RecordKind names one of the four learning tables.
type RecordKind string

const (
	// KindPatterns is the learning pattern table.
	KindPatterns RecordKind = "patterns"
	// KindMethods is the per-method effectiveness table.
	KindMethods RecordKind = "methods"
	// KindJudgments is the file-type classification history.
	KindJudgments RecordKind = "judgments"
	// KindFeedback is the per-analysis satisfaction feedback.
	KindFeedback RecordKind = "feedback"
)

// AllKinds lists every record kind in search order.
var AllKinds = []RecordKind{KindPatterns, KindFeedback, KindJudgments, KindMethods}

// ParseKinds parses a comma separated kind list. Empty input means all kinds.
func ParseKinds(s string) ([]RecordKind, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return AllKinds, nil
	}
	var kinds []RecordKind
	seen := make(map[RecordKind]bool)
	for _, part := range strings.Split(s, ",") {
		k := RecordKind(strings.ToLower(strings.TrimSpace(part)))
		switch k {
		case KindPatterns, KindMethods, KindJudgments, KindFeedback:
		default:
			return nil, NewValidationError("kinds", "unknown record kind %q", part)
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// LearningPattern is a recorded (description, context) observation with a
// reinforcement counter.
type LearningPattern struct {
	ID             int64  `json:"id"`
	Description    string `json:"description"`
	Details        string `json:"details,omitempty"`
	Context        string `json:"context"`
	SuccessCount   int    `json:"success_count"`
	CreatedAt      string `json:"created_at"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
	LastUsed       string `json:"last_used"`
	LastUsedEpoch  int64  `json:"last_used_epoch"`
}

// Validate checks the per-record invariants of a pattern.
func (p *LearningPattern) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return NewValidationError("description", "is required")
	}
	if p.SuccessCount < 0 {
		return NewValidationError("success_count", "must be >= 0 (got %d)", p.SuccessCount)
	}
	return nil
}

// PatternUpdate holds the mutable fields of a pattern. Nil fields are left
// untouched.
type PatternUpdate struct {
	Details      *string
	Context      *string
	SuccessCount *int
	Touch        bool
}

// JSONStringArray is a string slice persisted as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Contains reports whether s is present.
func (j JSONStringArray) Contains(s string) bool {
	return slices.Contains(j, s)
}
