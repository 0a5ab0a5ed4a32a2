// Package gorm provides GORM-based persistence for the learning records.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/learnlog/pkg/models"
)

// GORM Models

// Note: JSONStringArray is imported from pkg/models and already implements
// sql.Scanner and driver.Valuer.

// LearningPattern is a reinforced (description, context) observation.
type LearningPattern struct {
	Description    string `gorm:"type:text;not null;index:idx_learning_patterns_desc_ctx,priority:1"`
	Details        string `gorm:"type:text"`
	Context        string `gorm:"type:text;not null;index:idx_learning_patterns_desc_ctx,priority:2"`
	CreatedAt      string `gorm:"not null"`
	LastUsed       string `gorm:"not null"`
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SuccessCount   int    `gorm:"not null;check:success_count >= 0;index:idx_learning_patterns_success,sort:desc"`
	CreatedAtEpoch int64  `gorm:"not null;index:idx_learning_patterns_created,sort:desc"`
	LastUsedEpoch  int64  `gorm:"not null;index:idx_learning_patterns_last_used,sort:desc"`
}

func (LearningPattern) TableName() string { return "learning_patterns" }

// BeforeCreate hook to ensure timestamps are set.
func (p *LearningPattern) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = now.UnixMilli()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = models.FormatTimestamp(time.UnixMilli(p.CreatedAtEpoch))
	}
	if p.LastUsedEpoch == 0 {
		p.LastUsedEpoch = p.CreatedAtEpoch
	}
	if p.LastUsed == "" {
		p.LastUsed = models.FormatTimestamp(time.UnixMilli(p.LastUsedEpoch))
	}
	return nil
}

// MethodEffectiveness is the single live effectiveness row per method.
type MethodEffectiveness struct {
	MethodName         string                 `gorm:"type:text;not null;uniqueIndex:idx_method_effectiveness_name"`
	SuccessContexts    models.JSONStringArray `gorm:"type:text"`
	OptimizationNotes  string                 `gorm:"type:text"`
	CreatedAt          string                 `gorm:"not null"`
	LastUsed           string                 `gorm:"not null"`
	ID                 int64                  `gorm:"primaryKey;autoIncrement"`
	EffectivenessScore int                    `gorm:"not null;check:effectiveness_score >= 0 AND effectiveness_score <= 100;index:idx_method_effectiveness_score,sort:desc"`
	UsageCount         int                    `gorm:"not null;check:usage_count >= 1"`
	CreatedAtEpoch     int64                  `gorm:"not null"`
	LastUsedEpoch      int64                  `gorm:"not null;index:idx_method_effectiveness_last_used,sort:desc"`
}

func (MethodEffectiveness) TableName() string { return "method_effectiveness" }

// BeforeCreate hook to ensure timestamps and defaults are set.
func (m *MethodEffectiveness) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if m.CreatedAtEpoch == 0 {
		m.CreatedAtEpoch = now.UnixMilli()
	}
	if m.CreatedAt == "" {
		m.CreatedAt = models.FormatTimestamp(time.UnixMilli(m.CreatedAtEpoch))
	}
	if m.LastUsedEpoch == 0 {
		m.LastUsedEpoch = m.CreatedAtEpoch
	}
	if m.LastUsed == "" {
		m.LastUsed = models.FormatTimestamp(time.UnixMilli(m.LastUsedEpoch))
	}
	if m.UsageCount == 0 {
		m.UsageCount = 1
	}
	if m.SuccessContexts == nil {
		m.SuccessContexts = models.JSONStringArray{}
	}
	return nil
}

// FileTypeJudgment is one classification made by the external judge.
type FileTypeJudgment struct {
	ContentSample  string         `gorm:"column:file_content_sample;type:text;not null"`
	Judgment       string         `gorm:"column:llm_judgment;type:text;not null;check:llm_judgment IN ('meeting', 'personal', 'proposal', 'unknown');index"`
	Reasoning      string         `gorm:"column:llm_reasoning;type:text"`
	UserFeedback   sql.NullString `gorm:"type:text"`
	CorrectType    sql.NullString `gorm:"type:text;check:correct_type IS NULL OR correct_type IN ('meeting', 'personal', 'proposal', 'unknown')"`
	CreatedAt      string         `gorm:"not null"`
	IsCorrect      sql.NullBool   `gorm:"index"`
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	CreatedAtEpoch int64          `gorm:"not null;index:idx_file_type_learning_created,sort:desc"`
}

func (FileTypeJudgment) TableName() string { return "file_type_learning" }

// BeforeCreate hook to ensure timestamps are set.
func (j *FileTypeJudgment) BeforeCreate(tx *gorm.DB) error {
	if j.CreatedAtEpoch == 0 {
		j.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if j.CreatedAt == "" {
		j.CreatedAt = models.FormatTimestamp(time.UnixMilli(j.CreatedAtEpoch))
	}
	return nil
}

// MethodFeedback is one satisfaction rating of an analysis run.
type MethodFeedback struct {
	FileType              string  `gorm:"type:text;not null;index:idx_analysis_method_type_method,priority:1"`
	AnalysisMethod        string  `gorm:"type:text;not null;index:idx_analysis_method_type_method,priority:2"`
	SpecificFeedback      string  `gorm:"type:text"`
	CreatedAt             string  `gorm:"not null"`
	UserSatisfactionScore float64 `gorm:"type:double precision;not null;check:user_satisfaction_score >= 1 AND user_satisfaction_score <= 5"`
	ID                    int64   `gorm:"primaryKey;autoIncrement"`
	CreatedAtEpoch        int64   `gorm:"not null;index:idx_analysis_method_created,sort:desc"`
}

func (MethodFeedback) TableName() string { return "analysis_method_effectiveness" }

// BeforeCreate hook to ensure timestamps are set.
func (f *MethodFeedback) BeforeCreate(tx *gorm.DB) error {
	if f.CreatedAtEpoch == 0 {
		f.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if f.CreatedAt == "" {
		f.CreatedAt = models.FormatTimestamp(time.UnixMilli(f.CreatedAtEpoch))
	}
	return nil
}

func toModelPattern(p *LearningPattern) *models.LearningPattern {
	return &models.LearningPattern{
		ID:             p.ID,
		Description:    p.Description,
		Details:        p.Details,
		Context:        p.Context,
		SuccessCount:   p.SuccessCount,
		CreatedAt:      p.CreatedAt,
		CreatedAtEpoch: p.CreatedAtEpoch,
		LastUsed:       p.LastUsed,
		LastUsedEpoch:  p.LastUsedEpoch,
	}
}

func toModelPatterns(patterns []LearningPattern) []*models.LearningPattern {
	result := make([]*models.LearningPattern, len(patterns))
	for i := range patterns {
		result[i] = toModelPattern(&patterns[i])
	}
	return result
}

func toModelMethod(m *MethodEffectiveness) *models.MethodEffectiveness {
	contexts := m.SuccessContexts
	if contexts == nil {
		contexts = models.JSONStringArray{}
	}
	return &models.MethodEffectiveness{
		ID:                 m.ID,
		MethodName:         m.MethodName,
		EffectivenessScore: m.EffectivenessScore,
		UsageCount:         m.UsageCount,
		SuccessContexts:    contexts,
		OptimizationNotes:  m.OptimizationNotes,
		CreatedAt:          m.CreatedAt,
		CreatedAtEpoch:     m.CreatedAtEpoch,
		LastUsed:           m.LastUsed,
		LastUsedEpoch:      m.LastUsedEpoch,
	}
}

func toModelMethods(methods []MethodEffectiveness) []*models.MethodEffectiveness {
	result := make([]*models.MethodEffectiveness, len(methods))
	for i := range methods {
		result[i] = toModelMethod(&methods[i])
	}
	return result
}

func toModelJudgment(j *FileTypeJudgment) *models.FileTypeJudgment {
	out := &models.FileTypeJudgment{
		ID:             j.ID,
		ContentSample:  j.ContentSample,
		Judgment:       models.FileType(j.Judgment),
		Reasoning:      j.Reasoning,
		CreatedAt:      j.CreatedAt,
		CreatedAtEpoch: j.CreatedAtEpoch,
	}
	if j.UserFeedback.Valid {
		out.UserFeedback = j.UserFeedback.String
	}
	if j.CorrectType.Valid {
		out.CorrectType = models.FileType(j.CorrectType.String)
	}
	if j.IsCorrect.Valid {
		out.IsCorrect = models.Bool(j.IsCorrect.Bool)
	}
	return out
}

func toModelJudgments(judgments []FileTypeJudgment) []*models.FileTypeJudgment {
	result := make([]*models.FileTypeJudgment, len(judgments))
	for i := range judgments {
		result[i] = toModelJudgment(&judgments[i])
	}
	return result
}

func toModelFeedback(f *MethodFeedback) *models.MethodFeedback {
	return &models.MethodFeedback{
		ID:                    f.ID,
		FileType:              f.FileType,
		AnalysisMethod:        f.AnalysisMethod,
		UserSatisfactionScore: f.UserSatisfactionScore,
		SpecificFeedback:      f.SpecificFeedback,
		CreatedAt:             f.CreatedAt,
		CreatedAtEpoch:        f.CreatedAtEpoch,
	}
}

func toModelFeedbacks(feedback []MethodFeedback) []*models.MethodFeedback {
	result := make([]*models.MethodFeedback, len(feedback))
	for i := range feedback {
		result[i] = toModelFeedback(&feedback[i])
	}
	return result
}
