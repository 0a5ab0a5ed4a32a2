// Package gorm provides the GORM-based record store for learnlog.
//
// Four independent tables hold the learning records: learning_patterns,
// method_effectiveness, file_type_learning and analysis_method_effectiveness.
// Each has its own store type (PatternStore, MethodStore, JudgmentStore,
// FeedbackStore) built on a shared Store.
//
// # Usage
//
//	store, err := gorm.NewStore(gorm.Config{
//	    Path:     "/path/to/learnlog.db",
//	    MaxConns: 4,
//	    LogLevel: logger.Silent,
//	})
//	methods := gorm.NewMethodStore(store)
//	row, err := methods.Upsert(ctx, gorm.MethodObservation{MethodName: "timeline", RawScore: 96})
//
// SQLite (modernc.org/sqlite, FTS5 with the trigram tokenizer) is the
// default. Set Driver to "postgres" and DSN to use PostgreSQL; the
// full-text index is SQLite only.
//
// # Operations
//
// Every operation runs under a per-attempt timeout and the configured retry
// policy. Connection, lock and deadline failures surface as
// models.StorageUnavailableError and are retried; validation and not found
// errors are returned immediately.
package gorm
