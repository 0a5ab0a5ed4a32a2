package gorm

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// MethodStore provides method effectiveness operations using GORM.
type MethodStore struct {
	store *Store
	db    *gorm.DB
}

// NewMethodStore creates a new method store.
func NewMethodStore(store *Store) *MethodStore {
	return &MethodStore{
		store: store,
		db:    store.DB,
	}
}

var methodTextColumns = []string{"method_name", "success_contexts", "optimization_notes"}

// MethodObservation is one scored use of a method.
type MethodObservation struct {
	MethodName string
	// RawScore is the unclamped score of this run. It is blended with the
	// stored score before clamping, so values outside [0,100] are expected.
	RawScore float64
	// SuccessContext is appended to success_contexts when non-empty and not
	// already present.
	SuccessContext string
	// Notes replaces optimization_notes when non-empty.
	Notes string
}

// Validate checks the observation before it reaches SQL.
func (o *MethodObservation) Validate() error {
	if strings.TrimSpace(o.MethodName) == "" {
		return models.NewValidationError("method_name", "is required")
	}
	if math.IsNaN(o.RawScore) || math.IsInf(o.RawScore, 0) {
		return models.NewValidationError("effectiveness_score", "must be a finite number")
	}
	return nil
}

// Upsert applies one observation to the method's row in a single statement.
//
// A new method is inserted with score clamp(round(raw)) and usage 1. An
// existing one gets score clamp(round((raw + stored) / 2)), usage + 1 and
// the success context appended. The read-modify-write happens inside the
// database, so concurrent observations of the same method never lose an
// update.
func (s *MethodStore) Upsert(ctx context.Context, obs MethodObservation) (*models.MethodEffectiveness, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	contexts := models.JSONStringArray{}
	if obs.SuccessContext != "" {
		contexts = append(contexts, obs.SuccessContext)
	}
	encoded, err := contexts.Value()
	if err != nil {
		return nil, err
	}

	stamp, epoch := nowStamp()
	args := map[string]interface{}{
		"name":     obs.MethodName,
		"raw":      obs.RawScore,
		"initial":  clampScore(obs.RawScore),
		"contexts": encoded,
		"context":  obs.SuccessContext,
		"notes":    obs.Notes,
		"stamp":    stamp,
		"epoch":    epoch,
	}

	var row MethodEffectiveness
	err = s.store.do(ctx, "method.upsert", func(ctx context.Context) error {
		row = MethodEffectiveness{}
		return s.db.WithContext(ctx).Raw(s.upsertSQL(), args).Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, errors.New("method upsert returned no row")
	}
	return toModelMethod(&row), nil
}

func (s *MethodStore) upsertSQL() string {
	if s.store.Dialect() == DriverPostgres {
		return methodUpsertPostgres
	}
	return methodUpsertSQLite
}

const methodUpsertSQLite = `
INSERT INTO method_effectiveness
	(method_name, effectiveness_score, usage_count, success_contexts, optimization_notes,
	 created_at, created_at_epoch, last_used, last_used_epoch)
VALUES (@name, @initial, 1, @contexts, @notes, @stamp, @epoch, @stamp, @epoch)
ON CONFLICT(method_name) DO UPDATE SET
	effectiveness_score = MAX(0, MIN(100, CAST(ROUND((@raw + method_effectiveness.effectiveness_score) / 2.0) AS INTEGER))),
	usage_count = method_effectiveness.usage_count + 1,
	success_contexts = CASE
		WHEN @context = '' THEN method_effectiveness.success_contexts
		WHEN EXISTS (SELECT 1 FROM json_each(COALESCE(method_effectiveness.success_contexts, '[]')) WHERE value = @context)
			THEN method_effectiveness.success_contexts
		ELSE json_insert(COALESCE(method_effectiveness.success_contexts, '[]'), '$[#]', @context)
	END,
	optimization_notes = CASE WHEN @notes = '' THEN method_effectiveness.optimization_notes ELSE @notes END,
	last_used = @stamp,
	last_used_epoch = @epoch
RETURNING *`

const methodUpsertPostgres = `
INSERT INTO method_effectiveness
	(method_name, effectiveness_score, usage_count, success_contexts, optimization_notes,
	 created_at, created_at_epoch, last_used, last_used_epoch)
VALUES (@name, @initial, 1, @contexts, @notes, @stamp, @epoch, @stamp, @epoch)
ON CONFLICT(method_name) DO UPDATE SET
	effectiveness_score = GREATEST(0, LEAST(100, ROUND((CAST(@raw AS NUMERIC) + method_effectiveness.effectiveness_score) / 2)))::integer,
	usage_count = method_effectiveness.usage_count + 1,
	success_contexts = CASE
		WHEN CAST(@context AS TEXT) = '' THEN method_effectiveness.success_contexts
		WHEN jsonb_exists(COALESCE(method_effectiveness.success_contexts, '[]')::jsonb, CAST(@context AS TEXT))
			THEN method_effectiveness.success_contexts
		ELSE (COALESCE(method_effectiveness.success_contexts, '[]')::jsonb || to_jsonb(CAST(@context AS TEXT)))::text
	END,
	optimization_notes = CASE WHEN CAST(@notes AS TEXT) = '' THEN method_effectiveness.optimization_notes ELSE @notes END,
	last_used = @stamp,
	last_used_epoch = @epoch
RETURNING *`

func clampScore(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

// Insert stores a complete method row. The name must not exist yet; use
// Upsert to record observations.
func (s *MethodStore) Insert(ctx context.Context, method *models.MethodEffectiveness) (int64, error) {
	if method.UsageCount == 0 {
		method.UsageCount = 1
	}
	if err := method.Validate(); err != nil {
		return 0, err
	}

	dbMethod := &MethodEffectiveness{
		MethodName:         method.MethodName,
		EffectivenessScore: method.EffectivenessScore,
		UsageCount:         method.UsageCount,
		SuccessContexts:    method.SuccessContexts,
		OptimizationNotes:  method.OptimizationNotes,
		CreatedAt:          method.CreatedAt,
		CreatedAtEpoch:     method.CreatedAtEpoch,
		LastUsed:           method.LastUsed,
		LastUsedEpoch:      method.LastUsedEpoch,
	}

	err := s.store.TransactionWithTimeout(ctx, "method.insert", func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&MethodEffectiveness{}).Where("method_name = ?", method.MethodName).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return models.NewValidationError("method_name", "%q already exists", method.MethodName)
		}
		dbMethod.ID = 0
		return tx.Create(dbMethod).Error
	})
	if err != nil {
		return 0, err
	}
	return dbMethod.ID, nil
}

// FindByID retrieves a method row by id.
func (s *MethodStore) FindByID(ctx context.Context, id int64) (*models.MethodEffectiveness, error) {
	var dbMethod MethodEffectiveness
	err := s.store.do(ctx, "method.find", func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&dbMethod, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Kind: models.KindMethods, ID: id}
	}
	if err != nil {
		return nil, err
	}
	return toModelMethod(&dbMethod), nil
}

// FindByName retrieves the row of methodName.
func (s *MethodStore) FindByName(ctx context.Context, methodName string) (*models.MethodEffectiveness, error) {
	var dbMethod MethodEffectiveness
	err := s.store.do(ctx, "method.find_by_name", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Where("method_name = ?", methodName).First(&dbMethod).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Kind: models.KindMethods, Key: methodName}
	}
	if err != nil {
		return nil, err
	}
	return toModelMethod(&dbMethod), nil
}

// Query lists methods matching f, best first. Category matches the
// success contexts.
func (s *MethodStore) Query(ctx context.Context, f Filter) ([]*models.MethodEffectiveness, error) {
	var methods []MethodEffectiveness
	err := s.store.do(ctx, "method.query", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Model(&MethodEffectiveness{})
		q = whereContainsAny(q, f.Text, methodTextColumns...)
		q = whereContainsAny(q, f.Category, "success_contexts")
		q = whereCreatedBetween(q, f.From, f.To)
		q = applyPaging(q, f)
		return q.Order("effectiveness_score DESC, usage_count DESC, id ASC").Find(&methods).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelMethods(methods), nil
}

// MethodUpdate holds the fields Update may change. Nil fields are kept.
type MethodUpdate struct {
	EffectivenessScore *int
	UsageCount         *int
	SuccessContexts    models.JSONStringArray
	OptimizationNotes  *string
}

// Update applies the non-nil fields of upd to method id.
func (s *MethodStore) Update(ctx context.Context, id int64, upd MethodUpdate) error {
	updates := map[string]interface{}{}
	if upd.EffectivenessScore != nil {
		if *upd.EffectivenessScore < 0 || *upd.EffectivenessScore > 100 {
			return models.NewValidationError("effectiveness_score", "must be within [0,100] (got %d)", *upd.EffectivenessScore)
		}
		updates["effectiveness_score"] = *upd.EffectivenessScore
	}
	if upd.UsageCount != nil {
		if *upd.UsageCount < 1 {
			return models.NewValidationError("usage_count", "must be >= 1 (got %d)", *upd.UsageCount)
		}
		updates["usage_count"] = *upd.UsageCount
	}
	if upd.SuccessContexts != nil {
		updates["success_contexts"] = upd.SuccessContexts
	}
	if upd.OptimizationNotes != nil {
		updates["optimization_notes"] = *upd.OptimizationNotes
	}
	if len(updates) == 0 {
		_, err := s.FindByID(ctx, id)
		return err
	}

	var affected int64
	err := s.store.do(ctx, "method.update", func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&MethodEffectiveness{}).Where("id = ?", id).Updates(updates)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Kind: models.KindMethods, ID: id}
	}
	return nil
}

// UsedSince returns the methods used at or after since, oldest use first.
func (s *MethodStore) UsedSince(ctx context.Context, since time.Time) ([]*models.MethodEffectiveness, error) {
	var methods []MethodEffectiveness
	err := s.store.do(ctx, "method.used_since", func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("last_used_epoch >= ?", since.UnixMilli()).
			Order("last_used_epoch ASC, id ASC").
			Find(&methods).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelMethods(methods), nil
}

// Top returns up to n methods used at or after since, by score then usage.
func (s *MethodStore) Top(ctx context.Context, since time.Time, n int) ([]*models.MethodEffectiveness, error) {
	var methods []MethodEffectiveness
	err := s.store.do(ctx, "method.top", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).
			Where("last_used_epoch >= ?", since.UnixMilli()).
			Order("effectiveness_score DESC, usage_count DESC, id ASC")
		if n > 0 {
			q = q.Limit(min(n, MaxPaginationLimit))
		}
		return q.Find(&methods).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelMethods(methods), nil
}

// ByContext returns methods that have succeeded in successContext, by
// score then usage. Membership is an exact element match on the JSON array.
func (s *MethodStore) ByContext(ctx context.Context, successContext string, limit int) ([]*models.MethodEffectiveness, error) {
	var methods []MethodEffectiveness
	err := s.store.do(ctx, "method.by_context", func(ctx context.Context) error {
		q := s.db.WithContext(ctx).
			Where(s.contextMemberSQL(), successContext).
			Order("effectiveness_score DESC, usage_count DESC, id ASC")
		if limit > 0 {
			q = q.Limit(min(limit, MaxPaginationLimit))
		}
		return q.Find(&methods).Error
	})
	if err != nil {
		return nil, err
	}
	return toModelMethods(methods), nil
}

func (s *MethodStore) contextMemberSQL() string {
	if s.store.Dialect() == DriverPostgres {
		return "jsonb_exists(COALESCE(success_contexts, '[]')::jsonb, CAST(? AS TEXT))"
	}
	return "EXISTS (SELECT 1 FROM json_each(COALESCE(success_contexts, '[]')) WHERE value = ?)"
}

// Count returns the number of method rows.
func (s *MethodStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.do(ctx, "method.count", func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&MethodEffectiveness{}).Count(&count).Error
	})
	return count, err
}
