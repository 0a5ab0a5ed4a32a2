// Package maintenance provides scheduled maintenance tasks for learnlog.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/thebtf/learnlog/internal/config"
)

// runTimeout bounds one scheduled maintenance run.
const runTimeout = 10 * time.Minute

// PatternPruner deletes patterns that never succeeded.
type PatternPruner interface {
	DeleteStale(ctx context.Context, before time.Time) ([]int64, error)
}

// Optimizer refreshes the query planner statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Report describes one maintenance run.
type Report struct {
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Cutoff         time.Time     `json:"cutoff"`
	DeletedIDs     []int64       `json:"deleted_ids"`
	PatternsPruned int           `json:"patterns_pruned"`
	Optimized      bool          `json:"optimized"`
}

// Service handles scheduled maintenance tasks.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	patterns        PatternPruner
	optimizer       Optimizer
	cleanupFn       func(ctx context.Context, deletedIDs []int64)
	now             func() time.Time
	cron            *cron.Cron
	config          config.MaintenanceConfig
	lastRunDuration time.Duration
	totalPruned     int64
	totalRuns       int64
	totalOptimized  int64
	mu              sync.Mutex
	running         bool
}

// NewService creates a new maintenance service.
func NewService(patterns PatternPruner, optimizer Optimizer, cfg config.MaintenanceConfig, log zerolog.Logger) *Service {
	return &Service{
		patterns:  patterns,
		optimizer: optimizer,
		config:    cfg,
		now:       time.Now,
		log:       log.With().Str("component", "maintenance").Logger(),
	}
}

// SetCleanupFunc sets a callback run with the ids of pruned patterns.
func (s *Service) SetCleanupFunc(fn func(ctx context.Context, deletedIDs []int64)) {
	s.cleanupFn = fn
}

// Start schedules maintenance on the configured cron expression. It returns
// immediately; a disabled service does nothing.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	if !s.config.Enabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(s.config.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if _, err := s.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("Scheduled maintenance failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", s.config.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.log.Info().
		Str("schedule", s.config.Schedule).
		Int("retention_days", s.config.PatternRetentionDays).
		Msg("Starting maintenance scheduler")
	return nil
}

// Stop unschedules maintenance and waits for a running job to finish or
// ctx to end.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// ErrRunning is returned when a run is requested while one is in progress.
var ErrRunning = errors.New("maintenance already running")

// Run prunes patterns with no successes whose last use is older than the
// retention period, then optimizes the database. A failed optimize is
// logged and reported but does not undo the pruning.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	report := &Report{
		StartedAt:  start,
		Cutoff:     start.AddDate(0, 0, -s.config.PatternRetentionDays),
		DeletedIDs: []int64{},
	}
	s.log.Info().Time("cutoff", report.Cutoff).Msg("Starting maintenance run")

	ids, err := s.patterns.DeleteStale(ctx, report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune stale patterns: %w", err)
	}
	if ids != nil {
		report.DeletedIDs = ids
	}
	report.PatternsPruned = len(ids)
	if len(ids) > 0 && s.cleanupFn != nil {
		s.cleanupFn(ctx, ids)
	}

	if err := s.optimizer.Optimize(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to optimize database")
	} else {
		report.Optimized = true
	}
	report.Duration = time.Since(start)

	s.mu.Lock()
	s.lastRunTime = start
	s.lastRunDuration = report.Duration
	s.totalPruned += int64(report.PatternsPruned)
	s.totalRuns++
	if report.Optimized {
		s.totalOptimized++
	}
	s.mu.Unlock()

	s.log.Info().
		Dur("duration", report.Duration).
		Int("patterns_pruned", report.PatternsPruned).
		Bool("optimized", report.Optimized).
		Msg("Maintenance run completed")
	return report, nil
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]any{
		"enabled":          s.config.Enabled,
		"schedule":         s.config.Schedule,
		"retention_days":   s.config.PatternRetentionDays,
		"last_run":         s.lastRunTime,
		"last_duration_ms": s.lastRunDuration.Milliseconds(),
		"total_pruned":     s.totalPruned,
		"total_runs":       s.totalRuns,
		"total_optimizes":  s.totalOptimized,
		"running":          s.running,
	}
	if s.cron != nil {
		if entries := s.cron.Entries(); len(entries) > 0 {
			stats["next_run"] = entries[0].Next
		}
	}
	return stats
}
