package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/learnlog/pkg/models"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), "insert", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &models.StorageUnavailableError{Op: "insert", Err: errors.New("database is locked")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), "insert", func(ctx context.Context) error {
		calls++
		return &models.StorageUnavailableError{Op: "insert", Err: errors.New("connection refused")}
	})
	require.Error(t, err)
	assert.True(t, models.IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryValidation(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), "insert", func(ctx context.Context) error {
		calls++
		return models.NewValidationError("judgment", "invalid")
	})
	assert.True(t, models.IsValidation(err))
	assert.Equal(t, 1, calls)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, BaseDelay: time.Hour}, "query", func(ctx context.Context) error {
		calls++
		cancel()
		return &models.StorageUnavailableError{Op: "query", Err: context.DeadlineExceeded}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroPolicyRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, "query", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
