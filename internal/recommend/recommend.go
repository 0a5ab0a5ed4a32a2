// Package recommend turns search evidence into analysis approach suggestions.
package recommend

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/learnlog/internal/search"
	"github.com/thebtf/learnlog/pkg/models"
)

const (
	// maxAlternatives is how many runner-up patterns an approach carries.
	maxAlternatives = 2
	// adaptationMinSatisfaction is the rating a feedback row needs to
	// become an adaptation.
	adaptationMinSatisfaction = 4.0
	// evidenceWeight normalizes the confidence; one piece of evidence with
	// weight 10 yields full confidence. Heuristic placeholder.
	evidenceWeight = 10

	defaultEvidenceLimit  = 5
	defaultReferenceLimit = 5
)

// defaultSteps holds the canned three-step approach per known context.
var defaultSteps = map[models.FileType][3]string{
	models.FileTypeMeeting:  {"参加者の抽出", "発言内容の分析", "決定事項の整理"},
	models.FileTypePersonal: {"主要テーマの抽出", "感情や気づきの分析", "次のアクションの提案"},
	models.FileTypeProposal: {"提案内容の要約", "関係者の整理", "次のステップの明確化"},
	models.FileTypeUnknown:  {"内容の分類", "主要要素の抽出", "適切な分析方法の提案"},
}

// Alternative is a runner-up pattern.
type Alternative struct {
	Description  string `json:"alternative"`
	Context      string `json:"usage_context"`
	SuccessCount int    `json:"success_count"`
}

// Adaptation suggests leaning on a method users rated highly.
type Adaptation struct {
	Method     string `json:"method"`
	Suggestion string `json:"suggestion"`
	Reason     string `json:"reason"`
	Feedback   string `json:"feedback,omitempty"`
}

// Approach is a recommended way to analyze a file of some context.
type Approach struct {
	Context      string        `json:"context"`
	Primary      string        `json:"primary"`
	Reasoning    string        `json:"reasoning"`
	Confidence   float64       `json:"confidence"`
	Default      bool          `json:"default,omitempty"`
	Alternatives []Alternative `json:"alternatives"`
	Adaptations  []Adaptation  `json:"adaptations"`
}

// Evidence is the history an approach is derived from.
type Evidence struct {
	Patterns []*models.LearningPattern
	Feedback []*models.MethodFeedback
}

// EvidenceFrom collects the pattern and feedback hits of a search result.
func EvidenceFrom(result *search.Result) Evidence {
	var ev Evidence
	if result == nil {
		return ev
	}
	for _, h := range result.Patterns {
		ev.Patterns = append(ev.Patterns, h.LearningPattern)
	}
	for _, h := range result.Feedback {
		ev.Feedback = append(ev.Feedback, h.MethodFeedback)
	}
	return ev
}

// DefaultApproach returns the canned approach for fileContext. Unrecognized
// contexts get the generic template, but the reasoning still names the
// context as given.
func DefaultApproach(fileContext string) *Approach {
	steps, ok := defaultSteps[models.FileType(fileContext)]
	if !ok {
		steps = defaultSteps[models.FileTypeUnknown]
	}
	name := fileContext
	if strings.TrimSpace(name) == "" {
		name = string(models.FileTypeUnknown)
	}

	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return &Approach{
		Context:      fileContext,
		Primary:      strings.Join(lines, "\n"),
		Reasoning:    name + "分析の標準アプローチ",
		Default:      true,
		Alternatives: []Alternative{},
		Adaptations:  []Adaptation{},
	}
}

// RecommendApproach derives an approach for fileContext from ev.
//
// Without any evidence the canned default is returned. Otherwise the primary
// step is the most reinforced pattern and the next two become alternatives.
// Feedback rated 4 or better turns into adaptations. Confidence is
// (Σ success count + Σ satisfaction) / (evidence × 10), clamped to [0,1].
func RecommendApproach(fileContext string, ev Evidence) *Approach {
	if len(ev.Patterns) == 0 && len(ev.Feedback) == 0 {
		return DefaultApproach(fileContext)
	}

	patterns := slices.Clone(ev.Patterns)
	slices.SortStableFunc(patterns, func(a, b *models.LearningPattern) int {
		return cmp.Compare(b.SuccessCount, a.SuccessCount)
	})

	approach := &Approach{
		Context:      fileContext,
		Confidence:   Confidence(ev),
		Alternatives: []Alternative{},
		Adaptations:  adaptations(ev.Feedback),
	}

	topCount := 0
	if len(patterns) > 0 {
		approach.Primary = patterns[0].Description
		topCount = patterns[0].SuccessCount
	} else {
		approach.Primary = DefaultApproach(fileContext).Primary
	}
	approach.Reasoning = fmt.Sprintf("過去の成功パターン（使用回数: %d回）に基づく推奨", topCount)

	for _, p := range patterns[min(1, len(patterns)):min(1+maxAlternatives, len(patterns))] {
		approach.Alternatives = append(approach.Alternatives, Alternative{
			Description:  p.Description,
			Context:      p.Context,
			SuccessCount: p.SuccessCount,
		})
	}
	return approach
}

// Confidence weighs the evidence behind an approach on [0,1].
func Confidence(ev Evidence) float64 {
	var weight float64
	for _, p := range ev.Patterns {
		weight += float64(p.SuccessCount)
	}
	for _, f := range ev.Feedback {
		weight += f.UserSatisfactionScore
	}
	evidence := len(ev.Patterns) + len(ev.Feedback)
	c := weight / float64(max(evidence*evidenceWeight, 1))
	return min(max(c, 0), 1)
}

// adaptations keeps feedback order, so the newest highly rated method
// comes first. Each method appears once.
func adaptations(feedback []*models.MethodFeedback) []Adaptation {
	out := []Adaptation{}
	seen := make(map[string]bool)
	for _, f := range feedback {
		if f.UserSatisfactionScore < adaptationMinSatisfaction || seen[f.AnalysisMethod] {
			continue
		}
		seen[f.AnalysisMethod] = true
		out = append(out, Adaptation{
			Method:     f.AnalysisMethod,
			Suggestion: f.AnalysisMethod + "の活用",
			Reason:     fmt.Sprintf("ユーザー満足度%s/5の実績", formatScore(f.UserSatisfactionScore)),
			Feedback:   f.SpecificFeedback,
		})
	}
	return out
}

func formatScore(v float64) string {
	if v == float64(int(v)) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%.1f", v)
}

// Searcher is the part of the search manager the recommender needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Result, error)
}

// Recommender gathers evidence through search and builds approaches.
type Recommender struct {
	searcher      Searcher
	now           func() time.Time
	log           zerolog.Logger
	evidenceLimit int
}

// NewRecommender creates a recommender reading through searcher.
func NewRecommender(searcher Searcher, log zerolog.Logger) *Recommender {
	return &Recommender{
		searcher:      searcher,
		now:           time.Now,
		log:           log.With().Str("component", "recommend").Logger(),
		evidenceLimit: defaultEvidenceLimit,
	}
}

// Recommend searches the patterns and feedback of fileContext for query,
// which may be empty, and derives an approach from the hits.
func (r *Recommender) Recommend(ctx context.Context, fileContext, query string) (*Approach, error) {
	result, err := r.searcher.Search(ctx, query, search.Options{
		Category: fileContext,
		Limit:    r.evidenceLimit,
		Kinds:    []models.RecordKind{models.KindPatterns, models.KindFeedback},
	})
	if err != nil {
		return nil, fmt.Errorf("recommend %s: %w", fileContext, err)
	}

	ev := EvidenceFrom(result)
	approach := RecommendApproach(fileContext, ev)
	r.log.Debug().
		Str("context", fileContext).
		Int("patterns", len(ev.Patterns)).
		Int("feedback", len(ev.Feedback)).
		Float64("confidence", approach.Confidence).
		Msg("Approach recommended")
	return approach, nil
}

// References is the reference material for analyzing one file type.
type References struct {
	FileType         string                     `json:"file_type"`
	Query            string                     `json:"query,omitempty"`
	SuccessPatterns  []*models.LearningPattern  `json:"success_patterns"`
	Feedback         []*models.MethodFeedback   `json:"method_feedback"`
	ContextPatterns  []*models.LearningPattern  `json:"contextual_patterns"`
	ConfirmedSamples []*models.FileTypeJudgment `json:"confirmed_samples"`
	Approach         *Approach                  `json:"recommended_approach"`
	GeneratedAt      string                     `json:"generated_at"`
}

// ReferencePatterns collects the most reinforced patterns of fileType, its
// feedback, correctly judged samples and, when query is set, the patterns
// matching query. The approach is derived from the first two.
func (r *Recommender) ReferencePatterns(ctx context.Context, fileType, query string, limit int) (*References, error) {
	if strings.TrimSpace(fileType) == "" {
		return nil, models.NewValidationError("file_type", "is required")
	}
	if limit <= 0 {
		limit = defaultReferenceLimit
	}

	base, err := r.searcher.Search(ctx, "", search.Options{
		Category: fileType,
		Limit:    limit,
		Kinds:    []models.RecordKind{models.KindPatterns, models.KindFeedback, models.KindJudgments},
	})
	if err != nil {
		return nil, fmt.Errorf("reference patterns %s: %w", fileType, err)
	}

	ev := EvidenceFrom(base)
	refs := &References{
		FileType:         fileType,
		Query:            query,
		SuccessPatterns:  nonNil(ev.Patterns),
		Feedback:         nonNil(ev.Feedback),
		ContextPatterns:  []*models.LearningPattern{},
		ConfirmedSamples: []*models.FileTypeJudgment{},
		Approach:         RecommendApproach(fileType, ev),
		GeneratedAt:      models.FormatTimestamp(r.now()),
	}
	for _, h := range base.Judgments {
		if h.IsCorrect != nil && *h.IsCorrect {
			refs.ConfirmedSamples = append(refs.ConfirmedSamples, h.FileTypeJudgment)
		}
	}

	if strings.TrimSpace(query) != "" {
		contextual, err := r.searcher.Search(ctx, query, search.Options{
			Category: fileType,
			Limit:    3,
			Kinds:    []models.RecordKind{models.KindPatterns},
		})
		if err != nil {
			return nil, fmt.Errorf("reference patterns %s: %w", fileType, err)
		}
		for _, h := range contextual.Patterns {
			refs.ContextPatterns = append(refs.ContextPatterns, h.LearningPattern)
		}
	}
	return refs, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
