package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// PatternCleanupFunc is a callback for when patterns are deleted.
type PatternCleanupFunc func(ctx context.Context, deletedIDs []int64)

// PatternStore provides learning pattern operations using GORM.
type PatternStore struct {
	store       *Store
	db          *gorm.DB
	cleanupFunc PatternCleanupFunc
}

// NewPatternStore creates a new pattern store.
func NewPatternStore(store *Store) *PatternStore {
	return &PatternStore{
		store: store,
		db:    store.DB,
	}
}

// SetCleanupFunc sets the callback for when patterns are deleted.
func (s *PatternStore) SetCleanupFunc(fn PatternCleanupFunc) {
	s.cleanupFunc = fn
}

// patternTextColumns are matched by Filter.Text.
var patternTextColumns = []string{"description", "details", "context"}

// Insert stores a new pattern and returns its id. Repeated descriptions are
// allowed; use Reinforce for find-and-increment semantics.
func (s *PatternStore) Insert(ctx context.Context, pattern *models.LearningPattern) (int64, error) {
	if err := pattern.Validate(); err != nil {
		return 0, err
	}

	dbPattern := &LearningPattern{
		Description:    pattern.Description,
		Details:        pattern.Details,
		Context:        pattern.Context,
		SuccessCount:   pattern.SuccessCount,
		CreatedAt:      pattern.CreatedAt,
		CreatedAtEpoch: pattern.CreatedAtEpoch,
		LastUsed:       pattern.LastUsed,
		LastUsedEpoch:  pattern.LastUsedEpoch,
	}

	err := s.store.do(ctx, "pattern.insert", func(ctx context.Context) error {
		dbPattern.ID = 0
		return s.db.WithContext(ctx).Create(dbPattern).Error
	})
	if err != nil {
		return 0, err
	}
	return dbPattern.ID, nil
}

// Reinforce records one observation of (description, context).
//
// When a pattern with exactly that description and context exists, the one
// with the highest success count is updated in a single statement: success
// count +1 (successful observations only), last used refreshed and details
// replaced when given. Otherwise a new pattern is inserted with success
// count 1, or 0 for a failed observation. It returns the pattern id and
// whether a row was created.
func (s *PatternStore) Reinforce(ctx context.Context, description, patternContext, details string, success bool) (int64, bool, error) {
	probe := &models.LearningPattern{Description: description, Context: patternContext}
	if err := probe.Validate(); err != nil {
		return 0, false, err
	}

	increment := 0
	if success {
		increment = 1
	}

	var id int64
	var created bool
	err := s.store.TransactionWithTimeout(ctx, "pattern.reinforce", func(tx *gorm.DB) error {
		id, created = 0, false
		stamp, epoch := nowStamp()

		var updated []int64
		err := tx.Raw(`UPDATE learning_patterns
			SET success_count = success_count + ?,
				last_used = ?,
				last_used_epoch = ?,
				details = CASE WHEN ? = '' THEN details ELSE ? END
			WHERE id = (
				SELECT id FROM learning_patterns
				WHERE description = ? AND context = ?
				ORDER BY success_count DESC, id ASC
				LIMIT 1
			)
			RETURNING id`,
			increment, stamp, epoch, details, details, description, patternContext,
		).Scan(&updated).Error
		if err != nil {
			return err
		}
		if len(updated) > 0 {
			id = updated[0]
			return nil
		}

		row := &LearningPattern{
			Description:    description,
			Details:        details,
			Context:        patternContext,
			SuccessCount:   increment,
			CreatedAt:      stamp,
			CreatedAtEpoch: epoch,
			LastUsed:       stamp,
			LastUsedEpoch:  epoch,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		id, created = row.ID, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// FindByID retrieves a pattern by ID.
func (s *PatternStore) FindByID(ctx context.Context, id int64) (*models.LearningPattern, error) {
	var dbPattern LearningPattern
	err := s.store.do(ctx, "pattern.find", func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&dbPattern, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Kind: models.KindPatterns, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return toModelPattern(&dbPattern), nil
}

// Query lists patterns matching f, ordered by success count then recency.
func (s *PatternStore) Query(ctx context.Context, f Filter) ([]*models.LearningPattern, error) {
	var patterns []LearningPattern
	err := s.store.do(ctx, "pattern.query", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&LearningPattern{})
		q = whereContainsAny(q, f.Text, patternTextColumns...)
		q = whereContainsAny(q, f.Category, "context")
		q = whereCreatedBetween(q, f.From, f.To)
		q = applyPaging(q, f)
		return q.Order("success_count DESC, created_at_epoch DESC, id DESC").Find(&patterns).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelPatterns(patterns), nil
}

// FindByIDs retrieves patterns by id; missing ids are skipped.
func (s *PatternStore) FindByIDs(ctx context.Context, ids []int64) ([]*models.LearningPattern, error) {
	if len(ids) == 0 {
		return []*models.LearningPattern{}, nil
	}
	var patterns []LearningPattern
	err := s.store.do(ctx, "pattern.find_many", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Where("id IN ?", ids).Find(&patterns).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelPatterns(patterns), nil
}

// Update applies the non-nil fields of upd to pattern id.
func (s *PatternStore) Update(ctx context.Context, id int64, upd models.PatternUpdate) error {
	updates := map[string]interface{}{}
	if upd.Details != nil {
		updates["details"] = *upd.Details
	}
	if upd.Context != nil {
		updates["context"] = *upd.Context
	}
	if upd.SuccessCount != nil {
		if *upd.SuccessCount < 0 {
			return models.NewValidationError("success_count", "must be >= 0 (got %d)", *upd.SuccessCount)
		}
		updates["success_count"] = *upd.SuccessCount
	}
	if upd.Touch {
		stamp, epoch := nowStamp()
		updates["last_used"] = stamp
		updates["last_used_epoch"] = epoch
	}
	if len(updates) == 0 {
		_, err := s.FindByID(ctx, id)
		return err
	}

	var affected int64
	err := s.store.do(ctx, "pattern.update", func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&LearningPattern{}).Where("id = ?", id).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: models.KindPatterns, ID: id}
	}
	return nil
}

// IncrementSuccess atomically bumps the success count and last used time.
func (s *PatternStore) IncrementSuccess(ctx context.Context, id int64) error {
	stamp, epoch := nowStamp()
	var affected int64
	err := s.store.do(ctx, "pattern.increment", func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&LearningPattern{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"success_count":   gorm.Expr("success_count + 1"),
				"last_used":       stamp,
				"last_used_epoch": epoch,
			})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: models.KindPatterns, ID: id}
	}
	return nil
}

// Count returns the number of stored patterns.
func (s *PatternStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.do(ctx, "pattern.count", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&LearningPattern{}).Count(&count).Error
	})
	return count, err
}

// CategoryStat summarizes the patterns of one context.
type CategoryStat struct {
	Context         string  `json:"context"`
	Count           int64   `json:"count"`
	AvgSuccessCount float64 `json:"avg_success_count"`
	TotalSuccess    int64   `json:"total_success"`
	LatestUsedEpoch int64   `json:"latest_used_epoch"`
	LatestUsed      string  `json:"latest_used"`
}

// CategoryStats groups patterns by context, most populated first.
func (s *PatternStore) CategoryStats(ctx context.Context) ([]CategoryStat, error) {
	var stats []CategoryStat
	err := s.store.do(ctx, "pattern.category_stats", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Raw(`
			SELECT
				context,
				COUNT(*) as count,
				AVG(success_count) as avg_success_count,
				SUM(success_count) as total_success,
				MAX(last_used_epoch) as latest_used_epoch
			FROM learning_patterns
			GROUP BY context
			ORDER BY count DESC, context ASC
		`).Scan(&stats).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range stats {
		if stats[i].LatestUsedEpoch > 0 {
			stats[i].LatestUsed = models.FormatTimestamp(time.UnixMilli(stats[i].LatestUsedEpoch))
		}
	}
	return stats, nil
}

// DeleteStale removes never-successful patterns not used since before and
// returns the deleted ids.
func (s *PatternStore) DeleteStale(ctx context.Context, before time.Time) ([]int64, error) {
	var ids []int64
	err := s.store.TransactionWithTimeout(ctx, "pattern.delete_stale", func(tx *gorm.DB) error {
		ids = nil
		if err := tx.Model(&LearningPattern{}).
			Where("success_count = 0 AND last_used_epoch < ?", before.UnixMilli()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&LearningPattern{}).Error
	})
	if err != nil {
		return nil, err
	}

	if len(ids) > 0 && s.cleanupFunc != nil {
		s.cleanupFunc(ctx, ids)
	}
	return ids, nil
}
