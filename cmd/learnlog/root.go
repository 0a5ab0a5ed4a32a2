package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/learnlog/internal/analytics"
	"github.com/thebtf/learnlog/internal/config"
	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/internal/learning"
	"github.com/thebtf/learnlog/internal/maintenance"
	"github.com/thebtf/learnlog/internal/recommend"
	"github.com/thebtf/learnlog/internal/retry"
	"github.com/thebtf/learnlog/internal/scoring"
	"github.com/thebtf/learnlog/internal/search"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "learnlog",
	Short: "Learning memory for transcript analysis",
	Long: `learnlog records how transcript analyses went (patterns, method
effectiveness, feedback and file type judgments) and answers questions
about that history. Every command prints JSON on stdout.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath(), "config file path")
}

// app holds the components a command works with.
type app struct {
	cfg         *config.Config
	store       *gorm.Store
	patterns    *gorm.PatternStore
	methods     *gorm.MethodStore
	feedback    *gorm.FeedbackStore
	judgments   *gorm.JudgmentStore
	search      *search.Manager
	analytics   *analytics.Engine
	learning    *learning.Service
	recommender *recommend.Recommender
	maintenance *maintenance.Service
}

// openApp loads the config, applies the log level and opens the store with
// every service wired on top of it.
func openApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	zerolog.SetGlobalLevel(cfg.Level())

	if cfg.DB.Driver == "sqlite" && cfg.DB.Path == config.DBPath() {
		if err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}

	store, err := gorm.NewStore(storeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		store:     store,
		patterns:  gorm.NewPatternStore(store),
		methods:   gorm.NewMethodStore(store),
		feedback:  gorm.NewFeedbackStore(store),
		judgments: gorm.NewJudgmentStore(store),
	}

	a.search = search.NewManager(search.Sources{
		Patterns:  a.patterns,
		Feedback:  a.feedback,
		Judgments: a.judgments,
		Methods:   a.methods,
	}, search.Config{
		DefaultLimit: cfg.Search.DefaultLimit,
		CacheTTL:     cfg.Search.CacheTTL.Std(),
		Hybrid:       cfg.Search.Hybrid,
	})

	a.analytics = analytics.NewEngine(a.methods, a.feedback, a.patterns, analytics.Config{
		WindowDays:               cfg.Analytics.WindowDays,
		AggregateTrendMinSamples: cfg.Analytics.TrendMinSamples,
		CacheTTL:                 cfg.Analytics.CacheTTL.Std(),
	})

	a.learning = learning.NewService(learning.Stores{
		Patterns:  a.patterns,
		Methods:   a.methods,
		Feedback:  a.feedback,
		Judgments: a.judgments,
	}, scoring.NewCalculator(nil), log.Logger)
	a.learning.OnWrite("search", func(context.Context) error {
		a.search.Invalidate()
		return nil
	})
	a.learning.OnWrite("analytics", func(context.Context) error {
		a.analytics.Invalidate()
		return nil
	})

	a.recommender = recommend.NewRecommender(a.search, log.Logger)
	a.maintenance = maintenance.NewService(a.patterns, store, cfg.Maintenance, log.Logger)
	a.maintenance.SetCleanupFunc(func(ctx context.Context, ids []int64) {
		log.Debug().Ints64("ids", ids).Msg("Pruned stale patterns")
	})
	a.patterns.SetCleanupFunc(func(ctx context.Context, ids []int64) {
		a.search.Invalidate()
		a.analytics.Invalidate()
	})
	return a, nil
}

func (a *app) Close() {
	a.search.Close()
	if err := a.store.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}
}

// storeConfig maps the db and retry sections onto the store config.
func storeConfig(cfg *config.Config) gorm.Config {
	return gorm.Config{
		Driver:    cfg.DB.Driver,
		Path:      cfg.DB.Path,
		DSN:       cfg.DB.DSN,
		MaxConns:  cfg.DB.MaxConns,
		LogLevel:  cfg.DB.GormLogLevel(),
		OpTimeout: cfg.DB.OpTimeout.Std(),
		Retry: retry.Policy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay.Std(),
			MaxDelay:  cfg.Retry.MaxDelay.Std(),
		},
	}
}

// withApp runs fn against an opened app with a command timeout.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	return fn(ctx, a)
}

// commandTimeout bounds one-shot commands.
const commandTimeout = 2 * time.Minute

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSONInput decodes a JSON document from path, or stdin when path is "-".
// An empty path leaves v untouched.
func readJSONInput(path string, v any) error {
	var data []byte
	var err error
	switch path {
	case "":
		return nil
	case "-":
		data, err = io.ReadAll(os.Stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
