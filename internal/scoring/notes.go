package scoring

import (
	"fmt"
	"strings"

	"github.com/thebtf/learnlog/pkg/models"
)

// OptimizationNotes summarizes what is known about a run for the method row.
// Absent parts are skipped; the rest are joined with "; ".
func OptimizationNotes(outcome models.Outcome, feedback *models.UserFeedback) string {
	var notes []string
	if outcome.ExecutionTimeMs > 0 {
		notes = append(notes, fmt.Sprintf("実行時間: %dms", outcome.ExecutionTimeMs))
	}
	if outcome.Accuracy != nil && *outcome.Accuracy > 0 {
		notes = append(notes, fmt.Sprintf("精度: %.1f%%", *outcome.Accuracy*100))
	}
	if feedback != nil && strings.TrimSpace(feedback.Improvements) != "" {
		notes = append(notes, "改善提案: "+strings.TrimSpace(feedback.Improvements))
	}
	return strings.Join(notes, "; ")
}
