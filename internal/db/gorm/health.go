package gorm

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/thebtf/learnlog/pkg/models"
)

// Health thresholds.
const (
	healthPoolBusyRatio  = 0.8
	healthSlowP95        = 50 * time.Millisecond
	latencyWindowSize    = 100
	latencyMinP95Samples = 20
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthInfo describes the state of the record store.
type HealthInfo struct {
	Timestamp    time.Time                   `json:"timestamp"`
	Status       string                      `json:"status"`
	Driver       string                      `json:"driver"`
	Error        string                      `json:"error,omitempty"`
	Warnings     []string                    `json:"warnings,omitempty"`
	Records      map[models.RecordKind]int64 `json:"records,omitempty"`
	Latency      LatencySummary              `json:"latency"`
	Pool         PoolStats                   `json:"pool"`
	QueryLatency time.Duration               `json:"query_latency_ns"`
	FullText     bool                        `json:"full_text"`
}

// PoolStats is the connection pool state at check time.
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ns"`
}

// HealthCheck reports store health. Results are reused for healthCacheTTL so
// frequent probes do not hit the database.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	s.healthCacheMu.RLock()
	if s.cachedHealth != nil && time.Since(s.healthCacheTime) < s.healthCacheTTL {
		cached := s.cachedHealth
		s.healthCacheMu.RUnlock()
		return cached
	}
	s.healthCacheMu.RUnlock()

	info := s.checkHealth(ctx)

	s.healthCacheMu.Lock()
	s.cachedHealth = info
	s.healthCacheTime = time.Now()
	s.healthCacheMu.Unlock()
	return info
}

// recordTables maps each record kind to its table.
var recordTables = map[models.RecordKind]string{
	models.KindPatterns:  "learning_patterns",
	models.KindMethods:   "method_effectiveness",
	models.KindJudgments: "file_type_learning",
	models.KindFeedback:  "analysis_method_effectiveness",
}

func (s *Store) checkHealth(ctx context.Context) *HealthInfo {
	info := &HealthInfo{
		Status:    StatusHealthy,
		Driver:    s.dialect,
		FullText:  s.fullText,
		Timestamp: time.Now(),
	}

	stats := s.sqlDB.Stats()
	info.Pool = PoolStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}

	checkCtx, cancel := context.WithTimeout(ctx, FastQueryTimeout)
	defer cancel()

	start := time.Now()
	var one int
	err := s.sqlDB.QueryRowContext(checkCtx, "SELECT 1").Scan(&one)
	info.QueryLatency = time.Since(start)
	if err != nil {
		info.Status = StatusUnhealthy
		info.Error = err.Error()
		return info
	}

	info.Records = make(map[models.RecordKind]int64, len(recordTables))
	for kind, table := range recordTables {
		var n int64
		if err := s.DB.WithContext(checkCtx).Table(table).Count(&n).Error; err != nil {
			info.Status = StatusUnhealthy
			info.Error = fmt.Sprintf("count %s: %v", table, err)
			return info
		}
		info.Records[kind] = n
	}

	if s.latency != nil {
		info.Latency = s.latency.Summary()
	}

	if stats.OpenConnections > 0 && float64(stats.InUse)/float64(stats.OpenConnections) > healthPoolBusyRatio {
		info.degrade("connection pool heavily utilized")
	}
	if info.Latency.P95 > healthSlowP95 {
		info.degrade(fmt.Sprintf("high p95 operation latency: %v", info.Latency.P95))
	}
	if s.dialect == DriverSQLite && !s.fullText {
		info.Warnings = append(info.Warnings, "FTS5 unavailable, hybrid pattern ranking disabled")
	}
	return info
}

func (h *HealthInfo) degrade(warning string) {
	h.Status = StatusDegraded
	h.Warnings = append(h.Warnings, warning)
}

// LatencySummary aggregates the recent store operation latencies.
type LatencySummary struct {
	Operations int64         `json:"operations"`
	Samples    int           `json:"samples"`
	Avg        time.Duration `json:"avg_ns"`
	Max        time.Duration `json:"max_ns"`
	P95        time.Duration `json:"p95_ns,omitempty"`
}

// latencyWindow keeps the last n operation latencies in a ring.
type latencyWindow struct {
	samples []time.Duration
	next    int
	filled  int
	total   int64
	mu      sync.Mutex
}

func newLatencyWindow(n int) *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, max(n, 1))}
}

// Observe records one operation latency.
func (w *latencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	w.filled = min(w.filled+1, len(w.samples))
	w.total++
}

// Summary returns the window statistics. P95 needs at least 20 samples.
func (w *latencyWindow) Summary() LatencySummary {
	w.mu.Lock()
	sorted := slices.Clone(w.samples[:w.filled])
	sum := LatencySummary{Operations: w.total, Samples: w.filled}
	w.mu.Unlock()

	if len(sorted) == 0 {
		return sum
	}
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	sum.Avg = total / time.Duration(len(sorted))
	sum.Max = sorted[len(sorted)-1]
	if len(sorted) >= latencyMinP95Samples {
		sum.P95 = sorted[len(sorted)*95/100]
	}
	return sum
}
