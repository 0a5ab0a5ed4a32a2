package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
// It reports whether the pattern full-text index is available.
func runMigrations(db *gorm.DB, driver string) (bool, error) {
	migrations := []*gormigrate.Migration{
		// Migration 001: the four learning tables
		{
			ID: "001_learning_tables",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates tables with all indexes and checks from struct tags
				return tx.AutoMigrate(
					&LearningPattern{},
					&MethodEffectiveness{},
					&FileTypeJudgment{},
					&MethodFeedback{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"learning_patterns",
					"method_effectiveness",
					"file_type_learning",
					"analysis_method_effectiveness",
				)
			},
		},
	}

	fullText := driver == DriverSQLite && fts5Available(db)
	if fullText {
		migrations = append(migrations, patternsFTSMigration())
	} else {
		log.Warn().Str("driver", driver).Msg("FTS5 unavailable, hybrid pattern ranking disabled")
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, migrations)
	if err := m.Migrate(); err != nil {
		return false, err
	}
	return fullText, nil
}

// fts5Available probes for FTS5 with the trigram tokenizer using a throwaway
// temp table.
func fts5Available(db *gorm.DB) bool {
	if err := db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS temp.fts5_probe USING fts5(x, tokenize='trigram')").Error; err != nil {
		log.Debug().Err(err).Msg("FTS5 probe failed")
		return false
	}
	_ = db.Exec("DROP TABLE IF EXISTS temp.fts5_probe").Error
	return true
}

// Migration 002: FTS5 external-content index over learning patterns
func patternsFTSMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "002_learning_patterns_fts",
		Migrate: func(tx *gorm.DB) error {
			sqls := []string{
				`CREATE VIRTUAL TABLE IF NOT EXISTS learning_patterns_fts USING fts5(
					description,
					details,
					context,
					content='learning_patterns',
					content_rowid='id',
					tokenize='trigram'
				)`,
				`CREATE TRIGGER IF NOT EXISTS learning_patterns_ai AFTER INSERT ON learning_patterns BEGIN
					INSERT INTO learning_patterns_fts(rowid, description, details, context)
					VALUES (new.id, new.description, new.details, new.context);
				END`,
				`CREATE TRIGGER IF NOT EXISTS learning_patterns_ad AFTER DELETE ON learning_patterns BEGIN
					INSERT INTO learning_patterns_fts(learning_patterns_fts, rowid, description, details, context)
					VALUES('delete', old.id, old.description, old.details, old.context);
				END`,
				`CREATE TRIGGER IF NOT EXISTS learning_patterns_au AFTER UPDATE OF description, details, context ON learning_patterns BEGIN
					INSERT INTO learning_patterns_fts(learning_patterns_fts, rowid, description, details, context)
					VALUES('delete', old.id, old.description, old.details, old.context);
					INSERT INTO learning_patterns_fts(rowid, description, details, context)
					VALUES (new.id, new.description, new.details, new.context);
				END`,
				// Index rows that predate the index
				`INSERT INTO learning_patterns_fts(learning_patterns_fts) VALUES('rebuild')`,
			}
			for _, s := range sqls {
				if err := tx.Exec(s).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			sqls := []string{
				"DROP TRIGGER IF EXISTS learning_patterns_au",
				"DROP TRIGGER IF EXISTS learning_patterns_ad",
				"DROP TRIGGER IF EXISTS learning_patterns_ai",
				"DROP TABLE IF EXISTS learning_patterns_fts",
			}
			for _, s := range sqls {
				if err := tx.Exec(s).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
