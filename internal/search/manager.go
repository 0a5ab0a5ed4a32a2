// Package search provides keyword search across the learning records.
package search

import (
	"context"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/metrics"
	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/pkg/models"
)

// multiSpaceRegex matches multiple consecutive whitespace characters.
var multiSpaceRegex = regexp.MustCompile(`\s+`)

// Search configuration constants.
const (
	// Cache configuration
	defaultCacheTTL        = 600 * time.Second
	defaultCacheMaxSize    = 200 // Max cached results
	cacheEvictionPercent   = 10  // Evict 10% when cache is full
	cacheEvictionThreshold = 80  // Start eviction scan at 80% capacity
	cacheCleanupInterval   = time.Minute

	// Default query limits
	DefaultLimit = 20
	maxLimit     = gorm.MaxPaginationLimit

	// hybridPoolFactor widens the candidate pool before hybrid re-ranking.
	hybridPoolFactor = 2

	slowSearchThreshold = 100 * time.Millisecond
	queryLogTruncateLen = 50
)

// PatternSource is the pattern side of the record store.
type PatternSource interface {
	Query(ctx context.Context, f gorm.Filter) ([]*models.LearningPattern, error)
	FindByIDs(ctx context.Context, ids []int64) ([]*models.LearningPattern, error)
	FullTextSearch(ctx context.Context, query string, limit int) ([]gorm.FullTextHit, error)
}

// FeedbackSource is the feedback side of the record store.
type FeedbackSource interface {
	Query(ctx context.Context, f gorm.Filter) ([]*models.MethodFeedback, error)
}

// JudgmentSource is the judgment side of the record store.
type JudgmentSource interface {
	Query(ctx context.Context, f gorm.Filter) ([]*models.FileTypeJudgment, error)
}

// MethodSource is the method side of the record store.
type MethodSource interface {
	Query(ctx context.Context, f gorm.Filter) ([]*models.MethodEffectiveness, error)
}

// Sources groups the stores the manager reads. Nil sources are skipped.
type Sources struct {
	Patterns  PatternSource
	Feedback  FeedbackSource
	Judgments JudgmentSource
	Methods   MethodSource
}

// Config tunes the manager.
type Config struct {
	DefaultLimit int
	CacheTTL     time.Duration
	CacheMaxSize int
	// Hybrid enables full-text re-ranking of patterns when the store has an
	// index.
	Hybrid    bool
	Relevance *scoring.RelevanceCalculator
}

// SearchMetrics tracks search statistics.
type SearchMetrics struct {
	TotalSearches     int64
	HybridSearches    int64
	TotalLatencyNs    int64
	CacheHits         int64
	CoalescedRequests int64
	SearchErrors      int64
	Invalidations     int64
}

// GetStats returns the current search statistics.
func (m *SearchMetrics) GetStats() map[string]any {
	totalSearches := atomic.LoadInt64(&m.TotalSearches)
	totalLatency := atomic.LoadInt64(&m.TotalLatencyNs)

	avgLatencyMs := float64(0)
	if totalSearches > 0 {
		avgLatencyMs = float64(totalLatency) / float64(totalSearches) / 1e6
	}

	return map[string]any{
		"total_searches":     totalSearches,
		"hybrid_searches":    atomic.LoadInt64(&m.HybridSearches),
		"cache_hits":         atomic.LoadInt64(&m.CacheHits),
		"coalesced_requests": atomic.LoadInt64(&m.CoalescedRequests),
		"search_errors":      atomic.LoadInt64(&m.SearchErrors),
		"invalidations":      atomic.LoadInt64(&m.Invalidations),
		"avg_latency_ms":     avgLatencyMs,
	}
}

// Manager runs searches over the four record kinds with caching and
// request coalescing.
type Manager struct {
	ctx           context.Context
	searchGroup   singleflight.Group
	cancel        context.CancelFunc
	sources       Sources
	metrics       *SearchMetrics
	instruments   *metrics.Instruments
	relevance     *scoring.RelevanceCalculator
	resultCache   map[string]*cachedResult
	defaultLimit  int
	cacheTTL      time.Duration
	cacheMaxSize  int
	resultCacheMu sync.RWMutex
	// generation advances on every Invalidate. Results computed under an
	// older generation are returned but never cached.
	generation atomic.Uint64
	hybrid     bool
}

// cachedResult stores a cached search result with expiry.
type cachedResult struct {
	result    *Result
	expiresAt time.Time
}

// NewManager creates a new search manager and starts its cache cleanup
// loop. Call Close to stop it.
func NewManager(sources Sources, cfg Config) *Manager {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = defaultCacheMaxSize
	}
	if cfg.Relevance == nil {
		cfg.Relevance = scoring.NewRelevanceCalculator(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ctx:          ctx,
		cancel:       cancel,
		sources:      sources,
		metrics:      &SearchMetrics{},
		instruments:  metrics.Get(),
		relevance:    cfg.Relevance,
		resultCache:  make(map[string]*cachedResult),
		defaultLimit: cfg.DefaultLimit,
		cacheTTL:     cfg.CacheTTL,
		cacheMaxSize: cfg.CacheMaxSize,
		hybrid:       cfg.Hybrid,
	}
	go m.cleanupCacheLoop()
	return m
}

// Close stops background goroutines.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
}

// Options narrow a search. Zero values mean "no constraint"; Limit 0 means
// the configured default and empty Kinds means every kind.
type Options struct {
	Category string
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Kinds    []models.RecordKind
}

// PatternHit is a matched pattern with its scores.
type PatternHit struct {
	*models.LearningPattern
	RelevanceScore float64 `json:"relevance_score"`
	// FullTextScore and HybridScore are set only when hybrid ranking ran.
	FullTextScore float64 `json:"full_text_score,omitempty"`
	HybridScore   float64 `json:"hybrid_score,omitempty"`
}

// FeedbackHit is a matched feedback row with its relevance.
type FeedbackHit struct {
	*models.MethodFeedback
	RelevanceScore float64 `json:"relevance_score"`
}

// JudgmentHit is a matched judgment with its relevance.
type JudgmentHit struct {
	*models.FileTypeJudgment
	RelevanceScore float64 `json:"relevance_score"`
}

// MethodHit is a matched method row with its relevance.
type MethodHit struct {
	*models.MethodEffectiveness
	RelevanceScore float64 `json:"relevance_score"`
}

// Result contains the hits of every requested kind. Kinds that were not
// requested are empty.
type Result struct {
	Query        string        `json:"query"`
	RequestID    string        `json:"request_id"`
	Patterns     []PatternHit  `json:"patterns"`
	Feedback     []FeedbackHit `json:"feedback"`
	Judgments    []JudgmentHit `json:"judgments"`
	MethodStats  []MethodHit   `json:"method_stats"`
	TotalResults int           `json:"total_results"`
	Hybrid       bool          `json:"hybrid,omitempty"`
}

// Search runs query over the requested kinds. An empty query matches every
// row and scores 0 relevance.
func (m *Manager) Search(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	cached := false
	defer func() {
		elapsed := time.Since(start)
		atomic.AddInt64(&m.metrics.TotalSearches, 1)
		atomic.AddInt64(&m.metrics.TotalLatencyNs, elapsed.Nanoseconds())
		m.instruments.RecordSearch(ctx, elapsed, cached)

		if elapsed > slowSearchThreshold {
			log.Warn().
				Str("query", truncate(query, queryLogTruncateLen)).
				Dur("latency", elapsed).
				Msg("Slow search query")
		}
	}()

	opts = m.normalizeOptions(opts)
	if !opts.DateFrom.IsZero() && !opts.DateTo.IsZero() && opts.DateFrom.After(opts.DateTo) {
		return nil, models.NewValidationError("date_from", "must not be after date_to")
	}

	// Check cache first
	cacheKey := m.getCacheKey(query, opts)
	if result, ok := m.getFromCache(cacheKey); ok {
		cached = true
		return result, nil
	}

	// Coalesce identical requests within one cache generation only, so a
	// caller arriving after Invalidate never joins a pre-write search.
	gen := m.generation.Load()
	flightKey := cacheKey + "@" + strconv.FormatUint(gen, 36)
	result, err, shared := m.searchGroup.Do(flightKey, func() (any, error) {
		return m.executeSearch(ctx, query, opts)
	})
	if shared {
		atomic.AddInt64(&m.metrics.CoalescedRequests, 1)
	}
	if err != nil {
		atomic.AddInt64(&m.metrics.SearchErrors, 1)
		return nil, err
	}

	searchResult := result.(*Result)
	m.putInCache(cacheKey, searchResult, gen)
	return searchResult, nil
}

func (m *Manager) normalizeOptions(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = m.defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
	if len(opts.Kinds) == 0 {
		opts.Kinds = models.AllKinds
	}
	return opts
}

// executeSearch queries every requested kind concurrently.
func (m *Manager) executeSearch(ctx context.Context, query string, opts Options) (*Result, error) {
	result := &Result{
		Query:       query,
		RequestID:   uuid.NewString(),
		Patterns:    []PatternHit{},
		Feedback:    []FeedbackHit{},
		Judgments:   []JudgmentHit{},
		MethodStats: []MethodHit{},
	}
	filter := gorm.Filter{
		Text:     strings.TrimSpace(query),
		Category: opts.Category,
		From:     opts.DateFrom,
		To:       opts.DateTo,
		Limit:    opts.Limit,
	}

	// Each goroutine writes only its own field of result.
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range opts.Kinds {
		switch kind {
		case models.KindPatterns:
			if m.sources.Patterns == nil {
				continue
			}
			g.Go(func() error {
				hits, hybrid, err := m.searchPatterns(gctx, query, filter)
				result.Patterns, result.Hybrid = hits, hybrid
				return err
			})
		case models.KindFeedback:
			if m.sources.Feedback == nil {
				continue
			}
			g.Go(func() error {
				var err error
				result.Feedback, err = m.searchFeedback(gctx, query, filter)
				return err
			})
		case models.KindJudgments:
			if m.sources.Judgments == nil {
				continue
			}
			g.Go(func() error {
				var err error
				result.Judgments, err = m.searchJudgments(gctx, query, filter)
				return err
			})
		case models.KindMethods:
			if m.sources.Methods == nil {
				continue
			}
			g.Go(func() error {
				var err error
				result.MethodStats, err = m.searchMethods(gctx, query, filter)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.TotalResults = len(result.Patterns) + len(result.Feedback) + len(result.Judgments) + len(result.MethodStats)
	return result, nil
}

func (m *Manager) searchPatterns(ctx context.Context, query string, filter gorm.Filter) ([]PatternHit, bool, error) {
	if m.hybrid && strings.TrimSpace(query) != "" {
		hits, ok, err := m.hybridPatterns(ctx, query, filter)
		if err != nil || ok {
			return hits, ok, err
		}
	}

	patterns, err := m.sources.Patterns.Query(ctx, filter)
	if err != nil {
		return nil, false, err
	}
	hits := make([]PatternHit, len(patterns))
	for i, p := range patterns {
		hits[i] = PatternHit{
			LearningPattern: p,
			RelevanceScore:  m.relevance.Relevance(query, patternFields(p)...),
		}
	}
	return hits, false, nil
}

// hybridPatterns merges relational and full-text candidates and re-ranks
// them. ok is false when the full-text index produced nothing, in which
// case the caller falls back to relational ordering.
func (m *Manager) hybridPatterns(ctx context.Context, query string, filter gorm.Filter) ([]PatternHit, bool, error) {
	ftHits, err := m.sources.Patterns.FullTextSearch(ctx, query, filter.Limit*hybridPoolFactor)
	if err != nil {
		log.Warn().Err(err).Msg("Full-text search failed, using relational ranking")
		return nil, false, nil
	}
	if len(ftHits) == 0 {
		return nil, false, nil
	}
	atomic.AddInt64(&m.metrics.HybridSearches, 1)

	pool := filter
	pool.Limit = filter.Limit * hybridPoolFactor
	relational, err := m.sources.Patterns.Query(ctx, pool)
	if err != nil {
		return nil, false, err
	}

	byID := make(map[int64]*models.LearningPattern, len(relational)+len(ftHits))
	for _, p := range relational {
		byID[p.ID] = p
	}
	ftScores := make(map[int64]float64, len(ftHits))
	var missing []int64
	for _, h := range ftHits {
		ftScores[h.ID] = h.Score
		if _, ok := byID[h.ID]; !ok {
			missing = append(missing, h.ID)
		}
	}
	if len(missing) > 0 {
		extra, err := m.sources.Patterns.FindByIDs(ctx, missing)
		if err != nil {
			return nil, false, err
		}
		for _, p := range extra {
			// Full-text only hits still honour category and date filters.
			if matchesFilter(p, filter) {
				byID[p.ID] = p
			}
		}
	}

	now := time.Now()
	hits := make([]PatternHit, 0, len(byID))
	for _, p := range byID {
		rel := m.relevance.Relevance(query, patternFields(p)...)
		ft := ftScores[p.ID]
		hits = append(hits, PatternHit{
			LearningPattern: p,
			RelevanceScore:  rel,
			FullTextScore:   ft,
			HybridScore: m.relevance.HybridScore(scoring.HybridParams{
				FullText:     ft,
				Relational:   rel,
				SuccessCount: p.SuccessCount,
				LastUsed:     time.UnixMilli(p.LastUsedEpoch),
				Now:          now,
			}),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].HybridScore != hits[j].HybridScore {
			return hits[i].HybridScore > hits[j].HybridScore
		}
		if hits[i].SuccessCount != hits[j].SuccessCount {
			return hits[i].SuccessCount > hits[j].SuccessCount
		}
		return hits[i].ID > hits[j].ID
	})
	if len(hits) > filter.Limit {
		hits = hits[:filter.Limit]
	}
	return hits, true, nil
}

func matchesFilter(p *models.LearningPattern, f gorm.Filter) bool {
	if f.Category != "" && !strings.Contains(strings.ToLower(p.Context), strings.ToLower(f.Category)) {
		return false
	}
	if !f.From.IsZero() && p.CreatedAtEpoch < f.From.UnixMilli() {
		return false
	}
	if !f.To.IsZero() && p.CreatedAtEpoch > f.To.UnixMilli() {
		return false
	}
	return true
}

func (m *Manager) searchFeedback(ctx context.Context, query string, filter gorm.Filter) ([]FeedbackHit, error) {
	rows, err := m.sources.Feedback.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]FeedbackHit, len(rows))
	for i, f := range rows {
		hits[i] = FeedbackHit{
			MethodFeedback: f,
			RelevanceScore: m.relevance.Relevance(query, f.FileType, f.AnalysisMethod, f.SpecificFeedback),
		}
	}
	return hits, nil
}

func (m *Manager) searchJudgments(ctx context.Context, query string, filter gorm.Filter) ([]JudgmentHit, error) {
	rows, err := m.sources.Judgments.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]JudgmentHit, len(rows))
	for i, j := range rows {
		hits[i] = JudgmentHit{
			FileTypeJudgment: j,
			RelevanceScore:   m.relevance.Relevance(query, j.ContentSample, j.Reasoning, string(j.Judgment), j.UserFeedback),
		}
	}
	return hits, nil
}

func (m *Manager) searchMethods(ctx context.Context, query string, filter gorm.Filter) ([]MethodHit, error) {
	rows, err := m.sources.Methods.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]MethodHit, len(rows))
	for i, me := range rows {
		hits[i] = MethodHit{
			MethodEffectiveness: me,
			RelevanceScore:      m.relevance.Relevance(query, me.MethodName, strings.Join(me.SuccessContexts, " "), me.OptimizationNotes),
		}
	}
	return hits, nil
}

func patternFields(p *models.LearningPattern) []string {
	return []string{p.Description, p.Details, p.Context}
}

// cleanupCacheLoop periodically removes expired cache entries.
func (m *Manager) cleanupCacheLoop() {
	ticker := time.NewTicker(cacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredCache()
		}
	}
}

// cleanupExpiredCache removes expired entries from the cache.
func (m *Manager) cleanupExpiredCache() {
	m.resultCacheMu.Lock()
	defer m.resultCacheMu.Unlock()

	now := time.Now()
	for key, cached := range m.resultCache {
		if now.After(cached.expiresAt) {
			delete(m.resultCache, key)
		}
	}
}

// normalizeQuery lowercases, trims and collapses whitespace so equivalent
// queries share a cache entry.
func normalizeQuery(query string) string {
	query = strings.ToLower(query)
	query = multiSpaceRegex.ReplaceAllString(query, " ")
	return strings.TrimSpace(query)
}

// getCacheKey hashes the normalized query and options.
func (m *Manager) getCacheKey(query string, opts Options) string {
	h := fnv.New64a()

	h.Write([]byte(normalizeQuery(query)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(opts.Category)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(epochOrZero(opts.DateFrom), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(epochOrZero(opts.DateTo), 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(opts.Limit)))
	for _, k := range opts.Kinds {
		h.Write([]byte{'|'})
		h.Write([]byte(k))
	}

	return strconv.FormatUint(h.Sum64(), 36)
}

func epochOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// getFromCache retrieves a result from cache if valid.
func (m *Manager) getFromCache(key string) (*Result, bool) {
	m.resultCacheMu.RLock()
	defer m.resultCacheMu.RUnlock()

	if cached, ok := m.resultCache[key]; ok {
		if time.Now().Before(cached.expiresAt) {
			atomic.AddInt64(&m.metrics.CacheHits, 1)
			return cached.result, true
		}
	}
	return nil, false
}

// putInCache stores a result computed under generation gen, evicting
// expired entries first and then an arbitrary tenth when the cache is full.
// Results from a generation that has since been invalidated are dropped.
func (m *Manager) putInCache(key string, result *Result, gen uint64) {
	m.resultCacheMu.Lock()
	defer m.resultCacheMu.Unlock()

	if m.generation.Load() != gen {
		return
	}

	now := time.Now()
	cacheLen := len(m.resultCache)

	evictionThreshold := (m.cacheMaxSize * cacheEvictionThreshold) / 100
	if cacheLen >= evictionThreshold {
		for k, v := range m.resultCache {
			if now.After(v.expiresAt) {
				delete(m.resultCache, k)
			}
		}
		cacheLen = len(m.resultCache)
	}

	if cacheLen >= m.cacheMaxSize {
		evictCount := max(m.cacheMaxSize*cacheEvictionPercent/100, 1)
		evicted := 0
		for k := range m.resultCache {
			delete(m.resultCache, k)
			evicted++
			if evicted >= evictCount {
				break
			}
		}
	}

	m.resultCache[key] = &cachedResult{
		result:    result,
		expiresAt: now.Add(m.cacheTTL),
	}
}

// Invalidate drops every cached result. Writers call it after a successful
// insert or update.
func (m *Manager) Invalidate() {
	m.resultCacheMu.Lock()
	m.generation.Add(1)
	m.resultCache = make(map[string]*cachedResult)
	m.resultCacheMu.Unlock()
	atomic.AddInt64(&m.metrics.Invalidations, 1)
}

// SetCacheTTL changes the TTL of entries cached from now on.
func (m *Manager) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.resultCacheMu.Lock()
	m.cacheTTL = ttl
	m.resultCacheMu.Unlock()
}

// Metrics returns the search metrics for monitoring.
func (m *Manager) Metrics() *SearchMetrics {
	return m.metrics
}

// CacheStats returns current cache statistics.
func (m *Manager) CacheStats() map[string]any {
	m.resultCacheMu.RLock()
	defer m.resultCacheMu.RUnlock()

	return map[string]any{
		"size":     len(m.resultCache),
		"max_size": m.cacheMaxSize,
		"ttl_sec":  m.cacheTTL.Seconds(),
	}
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
