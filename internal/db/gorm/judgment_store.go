package gorm

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// JudgmentStore provides file type judgment operations using GORM.
type JudgmentStore struct {
	store *Store
	db    *gorm.DB
}

// NewJudgmentStore creates a new judgment store.
func NewJudgmentStore(store *Store) *JudgmentStore {
	return &JudgmentStore{
		store: store,
		db:    store.DB,
	}
}

var judgmentTextColumns = []string{"file_content_sample", "llm_reasoning", "llm_judgment", "user_feedback"}

// Insert stores a judgment and returns its id. The content sample is
// truncated to models.MaxContentSampleLength.
func (s *JudgmentStore) Insert(ctx context.Context, judgment *models.FileTypeJudgment) (int64, error) {
	if err := judgment.Validate(); err != nil {
		return 0, err
	}

	dbJudgment := &FileTypeJudgment{
		ContentSample:  models.TruncateSample(judgment.ContentSample),
		Judgment:       string(judgment.Judgment),
		Reasoning:      judgment.Reasoning,
		CreatedAt:      judgment.CreatedAt,
		CreatedAtEpoch: judgment.CreatedAtEpoch,
	}
	if judgment.UserFeedback != "" {
		dbJudgment.UserFeedback = sql.NullString{String: judgment.UserFeedback, Valid: true}
	}
	if judgment.CorrectType != "" {
		dbJudgment.CorrectType = sql.NullString{String: string(judgment.CorrectType), Valid: true}
	}
	if judgment.IsCorrect != nil {
		dbJudgment.IsCorrect = sql.NullBool{Bool: *judgment.IsCorrect, Valid: true}
	}

	err := s.store.do(ctx, "judgment.insert", func(ctx context.Context) error {
		dbJudgment.ID = 0
		return s.db.WithContext(ctx).Create(dbJudgment).Error
	})
	if err != nil {
		return 0, err
	}
	return dbJudgment.ID, nil
}

// FindByID retrieves a judgment by id.
func (s *JudgmentStore) FindByID(ctx context.Context, id int64) (*models.FileTypeJudgment, error) {
	var dbJudgment FileTypeJudgment
	err := s.store.do(ctx, "judgment.find", func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&dbJudgment, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Kind: models.KindJudgments, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return toModelJudgment(&dbJudgment), nil
}

// Query lists judgments matching f, newest first. Category matches the
// judged type.
func (s *JudgmentStore) Query(ctx context.Context, f Filter) ([]*models.FileTypeJudgment, error) {
	var judgments []FileTypeJudgment
	err := s.store.do(ctx, "judgment.query", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&FileTypeJudgment{})
		q = whereContainsAny(q, f.Text, judgmentTextColumns...)
		q = whereContainsAny(q, f.Category, "llm_judgment")
		q = whereCreatedBetween(q, f.From, f.To)
		q = applyPaging(q, f)
		return q.Order("created_at_epoch DESC, id DESC").Find(&judgments).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelJudgments(judgments), nil
}

// JudgmentUpdate holds the fields Update may change. Nil fields are kept;
// the sample, judgment, reasoning and creation time never change.
type JudgmentUpdate struct {
	UserFeedback *string
	CorrectType  *models.FileType
	IsCorrect    *bool
}

// Update applies the non-nil fields of upd to judgment id.
func (s *JudgmentStore) Update(ctx context.Context, id int64, upd JudgmentUpdate) error {
	updates := map[string]interface{}{}
	if upd.UserFeedback != nil {
		updates["user_feedback"] = sql.NullString{String: *upd.UserFeedback, Valid: true}
	}
	if upd.CorrectType != nil {
		if !upd.CorrectType.Valid() {
			return models.NewValidationError("correct_type", "invalid file type %q", *upd.CorrectType)
		}
		updates["correct_type"] = sql.NullString{String: string(*upd.CorrectType), Valid: true}
	}
	if upd.IsCorrect != nil {
		updates["is_correct"] = sql.NullBool{Bool: *upd.IsCorrect, Valid: true}
	}
	if len(updates) == 0 {
		_, err := s.FindByID(ctx, id)
		return err
	}

	var affected int64
	err := s.store.do(ctx, "judgment.update", func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&FileTypeJudgment{}).Where("id = ?", id).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: models.KindJudgments, ID: id}
	}
	return nil
}

// Confirm records the ground truth of judgment id.
func (s *JudgmentStore) Confirm(ctx context.Context, id int64, correctType models.FileType, isCorrect bool) error {
	return s.Update(ctx, id, JudgmentUpdate{CorrectType: &correctType, IsCorrect: &isCorrect})
}

// JudgmentAccuracy summarizes confirmed judgments.
type JudgmentAccuracy struct {
	Total     int64 `json:"total"`
	Confirmed int64 `json:"confirmed"`
	Correct   int64 `json:"correct"`
	// Accuracy is Correct / Total, 0 when there are no judgments.
	Accuracy float64 `json:"accuracy"`
}

// Accuracy computes the accuracy over judgments created at or after since.
// A zero since covers all judgments.
func (s *JudgmentStore) Accuracy(ctx context.Context, since time.Time) (*JudgmentAccuracy, error) {
	var row struct {
		Total     int64
		Confirmed int64
		Correct   int64
	}
	err := s.store.do(ctx, "judgment.accuracy", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&FileTypeJudgment{}).Select(`
			COUNT(*) as total,
			COALESCE(SUM(CASE WHEN is_correct IS NOT NULL THEN 1 ELSE 0 END), 0) as confirmed,
			COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) as correct`)
		q = whereCreatedBetween(q, since, time.Time{})
		return q.Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	acc := &JudgmentAccuracy{Total: row.Total, Confirmed: row.Confirmed, Correct: row.Correct}
	if row.Total > 0 {
		acc.Accuracy = float64(row.Correct) / float64(row.Total)
	}
	return acc, nil
}

// CountMisjudged returns the number of judgments confirmed incorrect.
func (s *JudgmentStore) CountMisjudged(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.do(ctx, "judgment.count_misjudged", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&FileTypeJudgment{}).Where("is_correct = ?", false).Count(&count).Error
	})
	return count, err
}
