// Package analytics provides windowed rollups, trend classification and
// recommendation generation over the learning records.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/pkg/models"
)

// MethodSource is the method side of the record store.
type MethodSource interface {
	UsedSince(ctx context.Context, since time.Time) ([]*models.MethodEffectiveness, error)
	Top(ctx context.Context, since time.Time, n int) ([]*models.MethodEffectiveness, error)
	FindByName(ctx context.Context, methodName string) (*models.MethodEffectiveness, error)
	ByContext(ctx context.Context, successContext string, limit int) ([]*models.MethodEffectiveness, error)
}

// FeedbackSource is the feedback side of the record store.
type FeedbackSource interface {
	Since(ctx context.Context, since time.Time, method string) ([]*models.MethodFeedback, error)
	Recent(ctx context.Context, method string, n int) ([]*models.MethodFeedback, error)
	Top(ctx context.Context, since time.Time, n int) ([]*models.MethodFeedback, error)
	MethodAverages(ctx context.Context, fileType string, since time.Time, minAvg float64, limit int) ([]gorm.MethodAverage, error)
}

// PatternSource is the pattern side of the record store.
type PatternSource interface {
	Query(ctx context.Context, f gorm.Filter) ([]*models.LearningPattern, error)
	CategoryStats(ctx context.Context) ([]gorm.CategoryStat, error)
}

// Config contains configuration for the analytics engine.
type Config struct {
	// WindowDays is used when a caller passes a zero window.
	WindowDays int
	// AggregateTrendMinSamples is the smallest series Aggregate classifies.
	AggregateTrendMinSamples int
	// MethodTrendMinSamples is the smallest per-method feedback series
	// MethodStatistics classifies.
	MethodTrendMinSamples int
	// CacheTTL is how long MethodStatistics results are reused.
	CacheTTL time.Duration
}

// DefaultConfig returns the default analytics configuration.
func DefaultConfig() Config {
	return Config{
		WindowDays:               30,
		AggregateTrendMinSamples: 4,
		MethodTrendMinSamples:    6,
		CacheTTL:                 5 * time.Minute,
	}
}

// Engine computes rollups from the record store.
type Engine struct {
	methods  MethodSource
	feedback FeedbackSource
	patterns PatternSource
	now      func() time.Time
	cache    map[string]cacheEntry
	log      zerolog.Logger
	config   Config
	cacheMu  sync.Mutex
	// gen advances on every Invalidate; guarded by cacheMu.
	gen uint64
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// NewEngine creates a new analytics engine. Zero config fields take their
// defaults.
func NewEngine(methods MethodSource, feedback FeedbackSource, patterns PatternSource, config Config) *Engine {
	def := DefaultConfig()
	if config.WindowDays <= 0 {
		config.WindowDays = def.WindowDays
	}
	if config.AggregateTrendMinSamples <= 0 {
		config.AggregateTrendMinSamples = def.AggregateTrendMinSamples
	}
	if config.MethodTrendMinSamples <= 0 {
		config.MethodTrendMinSamples = def.MethodTrendMinSamples
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	return &Engine{
		methods:  methods,
		feedback: feedback,
		patterns: patterns,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
		log:      log.With().Str("component", "analytics").Logger(),
		config:   config,
	}
}

// Invalidate drops every cached rollup. Writers call it after a successful
// insert or update.
func (e *Engine) Invalidate() {
	e.cacheMu.Lock()
	e.gen++
	e.cache = make(map[string]cacheEntry)
	e.cacheMu.Unlock()
}

// cached returns the entry for key, or the current generation to pass to
// store once the value has been computed.
func (e *Engine) cached(key string) (any, uint64, bool) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	entry, ok := e.cache[key]
	if !ok {
		return nil, e.gen, false
	}
	if e.now().After(entry.expiresAt) {
		delete(e.cache, key)
		return nil, e.gen, false
	}
	return entry.value, e.gen, true
}

// store caches value unless the cache was invalidated after gen was read.
func (e *Engine) store(key string, value any, gen uint64) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	if gen != e.gen {
		return
	}

	now := e.now()
	for k, v := range e.cache {
		if now.After(v.expiresAt) {
			delete(e.cache, k)
		}
	}
	e.cache[key] = cacheEntry{value: value, expiresAt: now.Add(e.config.CacheTTL)}
}

// SetCacheTTL changes the TTL of rollups cached from now on.
func (e *Engine) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	e.cacheMu.Lock()
	e.config.CacheTTL = ttl
	e.cacheMu.Unlock()
}

// window resolves a day count into the window start. Zero uses the
// configured default; negative windows are rejected.
func (e *Engine) window(days int) (int, time.Time, error) {
	if days < 0 {
		return 0, time.Time{}, models.NewValidationError("window_days", "must be >= 0 (got %d)", days)
	}
	if days == 0 {
		days = e.config.WindowDays
	}
	return days, e.now().AddDate(0, 0, -days), nil
}
