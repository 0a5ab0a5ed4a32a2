// Package learning records analysis outcomes and keeps the derived caches in
// step with the record store.
package learning

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// PatternStore is the pattern side of the record store.
type PatternStore interface {
	Reinforce(ctx context.Context, description, patternContext, details string, success bool) (int64, bool, error)
	Query(ctx context.Context, f gorm.Filter) ([]*models.LearningPattern, error)
}

// MethodStore is the method side of the record store.
type MethodStore interface {
	Upsert(ctx context.Context, obs gorm.MethodObservation) (*models.MethodEffectiveness, error)
}

// FeedbackStore is the feedback side of the record store.
type FeedbackStore interface {
	Insert(ctx context.Context, feedback *models.MethodFeedback) (int64, error)
	Query(ctx context.Context, f gorm.Filter) ([]*models.MethodFeedback, error)
}

// JudgmentStore is the judgment side of the record store.
type JudgmentStore interface {
	Insert(ctx context.Context, judgment *models.FileTypeJudgment) (int64, error)
	Confirm(ctx context.Context, id int64, correctType models.FileType, isCorrect bool) error
	Query(ctx context.Context, f gorm.Filter) ([]*models.FileTypeJudgment, error)
}

// Stores groups the record stores the service writes to.
type Stores struct {
	Patterns  PatternStore
	Methods   MethodStore
	Feedback  FeedbackStore
	Judgments JudgmentStore
}

// Invalidator drops a derived cache after a write.
type Invalidator func(ctx context.Context) error

// Service records analysis outcomes.
type Service struct {
	stores       Stores
	calc         *scoring.Calculator
	now          func() time.Time
	invalidators map[string]Invalidator
	log          zerolog.Logger
}

// NewService creates a learning service. A nil calc uses the default
// weights.
func NewService(stores Stores, calc *scoring.Calculator, log zerolog.Logger) *Service {
	if calc == nil {
		calc = scoring.NewCalculator(nil)
	}
	return &Service{
		stores:       stores,
		calc:         calc,
		now:          time.Now,
		invalidators: make(map[string]Invalidator),
		log:          log.With().Str("component", "learning").Logger(),
	}
}

// OnWrite registers a cache to invalidate after every successful write.
func (s *Service) OnWrite(name string, fn Invalidator) {
	s.invalidators[name] = fn
}

// invalidate runs every registered invalidator. Failures are logged and
// never fail the write that triggered them.
func (s *Service) invalidate(ctx context.Context, op string) {
	for name, fn := range s.invalidators {
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("cache", name).Str("op", op).Msg("Cache invalidation failed")
		}
	}
}

// experience is the JSON stored in a captured pattern's details.
type experience struct {
	models.AnalysisResult
	Success bool `json:"success"`
}

// CaptureAnalysisExperience reinforces the "<fileType>分析経験" pattern with
// the analysis result as its details and returns the pattern id.
func (s *Service) CaptureAnalysisExperience(ctx context.Context, fileType string, result models.AnalysisResult, success bool) (int64, error) {
	fileType = strings.TrimSpace(fileType)
	if fileType == "" {
		return 0, models.NewValidationError("file_type", "is required")
	}

	details, err := json.Marshal(experience{AnalysisResult: result, Success: success})
	if err != nil {
		return 0, fmt.Errorf("encode experience: %w", err)
	}

	id, created, err := s.stores.Patterns.Reinforce(ctx, fileType+"分析経験", fileType, string(details), success)
	if err != nil {
		return 0, fmt.Errorf("capture experience %s: %w", fileType, err)
	}
	s.invalidate(ctx, "capture_experience")

	s.log.Info().
		Int64("pattern_id", id).
		Str("file_type", fileType).
		Bool("success", success).
		Bool("created", created).
		Msg("Analysis experience captured")
	return id, nil
}

// TrackMethodEffectiveness scores one run of methodName and folds it into
// the method's row. On success fileType is added to the success contexts.
func (s *Service) TrackMethodEffectiveness(ctx context.Context, methodName, fileType string, outcome models.Outcome, feedback *models.UserFeedback) (*models.MethodEffectiveness, error) {
	obs := gorm.MethodObservation{
		MethodName: strings.TrimSpace(methodName),
		RawScore:   s.calc.RawEffectiveness(outcome, feedback),
		Notes:      scoring.OptimizationNotes(outcome, feedback),
	}
	if outcome.Success {
		obs.SuccessContext = strings.TrimSpace(fileType)
	}

	method, err := s.stores.Methods.Upsert(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("track method %s: %w", methodName, err)
	}
	s.invalidate(ctx, "track_method")

	s.log.Info().
		Str("method", method.MethodName).
		Int("score", method.EffectivenessScore).
		Int("usage", method.UsageCount).
		Msg("Method effectiveness tracked")
	return method, nil
}

// RecordAnalysisFeedback stores a satisfaction rating of one analysis. The
// rating comes from feedback when it carries one and is otherwise derived
// from the shape of result.
func (s *Service) RecordAnalysisFeedback(ctx context.Context, fileType, method string, result models.AnalysisResult, feedback *models.UserFeedback, text string) (int64, error) {
	if text == "" && feedback != nil {
		text = feedback.Text
	}
	row := &models.MethodFeedback{
		FileType:              strings.TrimSpace(fileType),
		AnalysisMethod:        strings.TrimSpace(method),
		UserSatisfactionScore: scoring.ComputeSatisfactionScore(result, feedback),
		SpecificFeedback:      text,
	}

	id, err := s.stores.Feedback.Insert(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("record feedback %s: %w", method, err)
	}
	s.invalidate(ctx, "record_feedback")

	s.log.Info().
		Int64("feedback_id", id).
		Str("method", row.AnalysisMethod).
		Float64("satisfaction", row.UserSatisfactionScore).
		Msg("Analysis feedback recorded")
	return id, nil
}

// RecordJudgment stores an unconfirmed classification and returns its id.
func (s *Service) RecordJudgment(ctx context.Context, contentSample, judgment, reasoning string) (int64, error) {
	label, err := models.ParseFileType("judgment", judgment)
	if err != nil {
		return 0, err
	}

	id, err := s.stores.Judgments.Insert(ctx, &models.FileTypeJudgment{
		ContentSample: contentSample,
		Judgment:      label,
		Reasoning:     reasoning,
	})
	if err != nil {
		return 0, fmt.Errorf("record judgment: %w", err)
	}
	s.invalidate(ctx, "record_judgment")

	s.log.Info().Int64("judgment_id", id).Str("judgment", string(label)).Msg("Judgment recorded")
	return id, nil
}

// ConfirmJudgment records the ground truth of judgment id. Every other field
// of the judgment is kept.
func (s *Service) ConfirmJudgment(ctx context.Context, id int64, correctType string, isCorrect bool) error {
	label, err := models.ParseFileType("correct_type", correctType)
	if err != nil {
		return err
	}
	if err := s.stores.Judgments.Confirm(ctx, id, label, isCorrect); err != nil {
		return fmt.Errorf("confirm judgment %d: %w", id, err)
	}
	s.invalidate(ctx, "confirm_judgment")

	s.log.Info().Int64("judgment_id", id).Bool("correct", isCorrect).Msg("Judgment confirmed")
	return nil
}
