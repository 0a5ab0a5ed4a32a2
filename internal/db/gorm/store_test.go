package gorm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/thebtf/learnlog/internal/retry"
	"github.com/thebtf/learnlog/pkg/models"
)

// testStore opens a migrated SQLite store in a temp dir.
func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "learnlog_store_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store, err := NewStore(Config{
		Path:     filepath.Join(tmpDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
		Retry:    retry.Policy{Attempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond},
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func TestNewStore_Migrates(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	for _, table := range []string{"learning_patterns", "method_effectiveness", "file_type_learning", "analysis_method_effectiveness"} {
		assert.True(t, store.DB.Migrator().HasTable(table), table)
	}
	assert.Equal(t, DriverSQLite, store.Dialect())
	assert.True(t, store.FullTextEnabled(), "modernc sqlite ships FTS5 with trigram")
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	require.Error(t, err)

	_, err = NewStore(Config{Driver: DriverSQLite})
	require.Error(t, err)

	_, err = NewStore(Config{Driver: DriverPostgres})
	require.Error(t, err)
}

func TestStore_HealthCheck(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	info := store.HealthCheck(context.Background())
	require.NotNil(t, info)
	assert.NotEqual(t, StatusUnhealthy, info.Status)
	assert.Equal(t, DriverSQLite, info.Driver)
	assert.Len(t, info.Records, len(models.AllKinds))
	for _, kind := range models.AllKinds {
		assert.Zero(t, info.Records[kind], kind)
	}
	if !info.FullText {
		assert.Contains(t, info.Warnings, "FTS5 unavailable, hybrid pattern ranking disabled")
	}

	// Second call is served from cache
	again := store.HealthCheck(context.Background())
	assert.Same(t, info, again)
}

func TestLatencyWindow_Summary(t *testing.T) {
	w := newLatencyWindow(10)
	assert.Equal(t, LatencySummary{}, w.Summary())

	for i := 1; i <= 15; i++ {
		w.Observe(time.Duration(i) * time.Millisecond)
	}
	sum := w.Summary()
	assert.Equal(t, int64(15), sum.Operations)
	assert.Equal(t, 10, sum.Samples)
	// ring holds 6..15ms
	assert.Equal(t, 15*time.Millisecond, sum.Max)
	assert.Equal(t, 10500*time.Microsecond, sum.Avg)
	assert.Zero(t, sum.P95, "too few samples for p95")

	big := newLatencyWindow(latencyWindowSize)
	for i := 1; i <= 100; i++ {
		big.Observe(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 96*time.Millisecond, big.Summary().P95)
}

func TestStore_Optimize(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	require.NoError(t, store.Optimize(context.Background()))
}

func TestStore_Ping(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	require.NoError(t, store.Ping(context.Background()))
}

func TestStore_DoClassifiesDeadline(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	store.retry = retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := store.do(context.Background(), "test.deadline", func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestStore_DoDoesNotRetryValidation(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	calls := 0
	err := store.do(context.Background(), "test.validation", func(ctx context.Context) error {
		calls++
		return models.NewValidationError("field", "bad")
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 1, calls)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, sqliteDSN("/tmp/a.db"), "/tmp/a.db?_pragma=busy_timeout(5000)")
	assert.Contains(t, sqliteDSN("file:/tmp/a.db?cache=shared"), "cache=shared&_pragma=")
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "", errorClass(nil))
	assert.Equal(t, "unavailable", errorClass(&models.StorageUnavailableError{Op: "x", Err: context.DeadlineExceeded}))
	assert.Equal(t, "not_found", errorClass(&models.NotFoundError{Kind: models.KindPatterns, ID: 1}))
	assert.Equal(t, "validation", errorClass(models.NewValidationError("f", "m")))
	assert.Equal(t, "other", errorClass(assert.AnError))
}

func TestClassifyError_SQLiteBusy(t *testing.T) {
	err := classifyError("op", &testErr{"database is locked (5) (SQLITE_BUSY)"})
	assert.True(t, models.IsRetryable(err))

	plain := classifyError("op", &testErr{"UNIQUE constraint failed"})
	assert.False(t, models.IsRetryable(plain))
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
