package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// FeedbackStore provides analysis method feedback operations using GORM.
type FeedbackStore struct {
	store *Store
	db    *gorm.DB
}

// NewFeedbackStore creates a new feedback store.
func NewFeedbackStore(store *Store) *FeedbackStore {
	return &FeedbackStore{
		store: store,
		db:    store.DB,
	}
}

var feedbackTextColumns = []string{"file_type", "analysis_method", "specific_feedback"}

// Insert stores a feedback row and returns its id.
func (s *FeedbackStore) Insert(ctx context.Context, feedback *models.MethodFeedback) (int64, error) {
	if err := feedback.Validate(); err != nil {
		return 0, err
	}

	dbFeedback := &MethodFeedback{
		FileType:              feedback.FileType,
		AnalysisMethod:        feedback.AnalysisMethod,
		UserSatisfactionScore: feedback.UserSatisfactionScore,
		SpecificFeedback:      feedback.SpecificFeedback,
		CreatedAt:             feedback.CreatedAt,
		CreatedAtEpoch:        feedback.CreatedAtEpoch,
	}

	err := s.store.do(ctx, "feedback.insert", func(ctx context.Context) error {
		dbFeedback.ID = 0
		return s.db.WithContext(ctx).Create(dbFeedback).Error
	})
	if err != nil {
		return 0, err
	}
	return dbFeedback.ID, nil
}

// FindByID retrieves a feedback row by id.
func (s *FeedbackStore) FindByID(ctx context.Context, id int64) (*models.MethodFeedback, error) {
	var dbFeedback MethodFeedback
	err := s.store.do(ctx, "feedback.find", func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&dbFeedback, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Kind: models.KindFeedback, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return toModelFeedback(&dbFeedback), nil
}

// Query lists feedback matching f, newest first. Category matches the file
// type.
func (s *FeedbackStore) Query(ctx context.Context, f Filter) ([]*models.MethodFeedback, error) {
	var feedback []MethodFeedback
	err := s.store.do(ctx, "feedback.query", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&MethodFeedback{})
		q = whereContainsAny(q, f.Text, feedbackTextColumns...)
		q = whereContainsAny(q, f.Category, "file_type")
		q = whereCreatedBetween(q, f.From, f.To)
		q = applyPaging(q, f)
		return q.Order("created_at_epoch DESC, id DESC").Find(&feedback).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelFeedbacks(feedback), nil
}

// FeedbackUpdate holds the fields Update may change. Nil fields are kept.
type FeedbackUpdate struct {
	UserSatisfactionScore *float64
	SpecificFeedback      *string
}

// Update applies the non-nil fields of upd to feedback id.
func (s *FeedbackStore) Update(ctx context.Context, id int64, upd FeedbackUpdate) error {
	updates := map[string]interface{}{}
	if upd.UserSatisfactionScore != nil {
		v := *upd.UserSatisfactionScore
		if v < models.MinSatisfaction || v > models.MaxSatisfaction {
			return models.NewValidationError("user_satisfaction_score", "must be within [1,5] (got %v)", v)
		}
		updates["user_satisfaction_score"] = v
	}
	if upd.SpecificFeedback != nil {
		updates["specific_feedback"] = *upd.SpecificFeedback
	}
	if len(updates) == 0 {
		_, err := s.FindByID(ctx, id)
		return err
	}

	var affected int64
	err := s.store.do(ctx, "feedback.update", func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&MethodFeedback{}).Where("id = ?", id).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: models.KindFeedback, ID: id}
	}
	return nil
}

// Since returns feedback created at or after since, oldest first.
// A non-empty method restricts the rows to that analysis method.
func (s *FeedbackStore) Since(ctx context.Context, since time.Time, method string) ([]*models.MethodFeedback, error) {
	var feedback []MethodFeedback
	err := s.store.do(ctx, "feedback.since", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Where("created_at_epoch >= ?", since.UnixMilli())
		if method != "" {
			q = q.Where("analysis_method = ?", method)
		}
		return q.Order("created_at_epoch ASC, id ASC").Find(&feedback).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelFeedbacks(feedback), nil
}

// Recent returns the latest n feedback rows of method in chronological
// order.
func (s *FeedbackStore) Recent(ctx context.Context, method string, n int) ([]*models.MethodFeedback, error) {
	if n <= 0 {
		n = 10
	}
	var feedback []MethodFeedback
	err := s.store.do(ctx, "feedback.recent", func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("analysis_method = ?", method).
			Order("created_at_epoch DESC, id DESC").
			Limit(min(n, MaxPaginationLimit)).
			Find(&feedback).Error
	})
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order
	for i, j := 0, len(feedback)-1; i < j; i, j = i+1, j-1 {
		feedback[i], feedback[j] = feedback[j], feedback[i]
	}
	return toModelFeedbacks(feedback), nil
}

// Top returns up to n feedback rows created at or after since, highest
// satisfaction first.
func (s *FeedbackStore) Top(ctx context.Context, since time.Time, n int) ([]*models.MethodFeedback, error) {
	var feedback []MethodFeedback
	err := s.store.do(ctx, "feedback.top", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).
			Where("created_at_epoch >= ?", since.UnixMilli()).
			Order("user_satisfaction_score DESC, created_at_epoch DESC, id DESC")
		if n > 0 {
			q = q.Limit(min(n, MaxPaginationLimit))
		}
		return q.Find(&feedback).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelFeedbacks(feedback), nil
}

// MethodAverage is the mean satisfaction of one analysis method.
type MethodAverage struct {
	AnalysisMethod  string  `json:"analysis_method"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
	UsageCount      int64   `json:"usage_count"`
}

// MethodAverages groups feedback for fileType created at or after since by
// analysis method, keeping methods whose average is at least minAvg, best
// first. An empty fileType covers every file type.
func (s *FeedbackStore) MethodAverages(ctx context.Context, fileType string, since time.Time, minAvg float64, limit int) ([]MethodAverage, error) {
	var rows []MethodAverage
	err := s.store.do(ctx, "feedback.method_averages", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&MethodFeedback{}).
			Select("analysis_method, AVG(user_satisfaction_score) as avg_satisfaction, COUNT(*) as usage_count").
			Where("created_at_epoch >= ?", since.UnixMilli())
		if fileType != "" {
			q = q.Where("LOWER(file_type) = ?", strings.ToLower(fileType))
		}
		q = q.Group("analysis_method").
			Having("AVG(user_satisfaction_score) >= ?", minAvg).
			Order("avg_satisfaction DESC, usage_count DESC, analysis_method ASC")
		if limit > 0 {
			q = q.Limit(min(limit, MaxPaginationLimit))
		}
		return q.Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FeedbackSummary is the overall count and mean satisfaction.
type FeedbackSummary struct {
	Count           int64   `json:"count"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
}

// Summary returns the overall feedback count and mean satisfaction.
func (s *FeedbackStore) Summary(ctx context.Context) (*FeedbackSummary, error) {
	var row FeedbackSummary
	err := s.store.do(ctx, "feedback.summary", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&MethodFeedback{}).
			Select("COUNT(*) as count, COALESCE(AVG(user_satisfaction_score), 0) as avg_satisfaction").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}
