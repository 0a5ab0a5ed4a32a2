// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/learnlog/pkg/models"
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns 3 attempts starting at 100ms, capped at 2s.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. Only models.IsRetryable errors are retried.
// The last error is returned unchanged.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	backoff := p.BaseDelay
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxBackoff := p.MaxDelay
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !models.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("Retrying store operation")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	log.Warn().Err(err).Str("op", op).Int("attempts", attempts).Msg("Store operation failed after retries")
	return err
}
