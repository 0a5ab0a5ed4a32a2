package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/learnlog/internal/db/gorm"
	"github.com/thebtf/learnlog/pkg/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report on the learning history",
	Long: `Without a subcommand, prints record counts, feedback satisfaction and
judgment accuracy. Subcommands expose the individual rollups.`,
	Args: cobra.NoArgs,
	RunE: runStatsSummary,
}

// summary is the overview printed by a bare stats command.
type summary struct {
	Patterns   int64                  `json:"patterns"`
	Methods    int64                  `json:"methods"`
	Feedback   *gorm.FeedbackSummary  `json:"feedback"`
	Judgments  *gorm.JudgmentAccuracy `json:"judgments"`
	Misjudged  int64                  `json:"misjudged"`
	Categories []gorm.CategoryStat    `json:"categories"`
	Search     map[string]any         `json:"search"`
	Health     *gorm.HealthInfo       `json:"health"`
}

func runStatsSummary(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		var s summary
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) { s.Patterns, err = a.patterns.Count(gctx); return })
		g.Go(func() (err error) { s.Methods, err = a.methods.Count(gctx); return })
		g.Go(func() (err error) { s.Feedback, err = a.feedback.Summary(gctx); return })
		g.Go(func() (err error) { s.Judgments, err = a.judgments.Accuracy(gctx, time.Time{}); return })
		g.Go(func() (err error) { s.Misjudged, err = a.judgments.CountMisjudged(gctx); return })
		g.Go(func() (err error) { s.Categories, err = a.analytics.CategoryStats(gctx); return })
		if err := g.Wait(); err != nil {
			return err
		}
		s.Search = a.search.Metrics().GetStats()
		s.Health = a.store.HealthCheck(ctx)
		return printJSON(cmd.OutOrStdout(), s)
	})
}

// kindFlag reads the single record kind given by --kind.
func kindFlag(cmd *cobra.Command) (models.RecordKind, error) {
	raw, _ := cmd.Flags().GetString("kind")
	kinds, err := models.ParseKinds(raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" || len(kinds) != 1 {
		return "", models.NewValidationError("kind", "expected a single record kind (got %q)", raw)
	}
	return kinds[0], nil
}

func windowFlag(cmd *cobra.Command) int {
	days, _ := cmd.Flags().GetInt("window-days")
	return days
}

func addWindowFlag(cmd *cobra.Command, def int) {
	cmd.Flags().Int("window-days", def, "window in days (0 uses the configured default)")
}

var statsAggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Summarize the scores of a record kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindFlag(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			agg, err := a.analytics.Aggregate(ctx, kind, windowFlag(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), agg)
		})
	},
}

var statsTopCmd = &cobra.Command{
	Use:   "top",
	Short: "List the best performing rows of a record kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := kindFlag(cmd)
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			top, err := a.analytics.TopPerformers(ctx, kind, windowFlag(cmd), n)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), top)
		})
	},
}

var statsMethodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "Method statistics, distribution and recommendations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.analytics.MethodStatistics(ctx, windowFlag(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var statsPredictCmd = &cobra.Command{
	Use:   "predict <method>",
	Short: "Predict the effectiveness of a method on a file type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("file-type")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, err := a.analytics.PredictEffectiveness(ctx, fileType, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

var statsCompareCmd = &cobra.Command{
	Use:   "compare <method1> <method2>",
	Short: "Compare two methods",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			c, err := a.analytics.CompareMethods(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		})
	},
}

var statsRecommendCmd = &cobra.Command{
	Use:   "method-recommendations",
	Short: "Recommend methods for a file type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("file-type")
		fromFeedback, _ := cmd.Flags().GetBool("from-feedback")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if fromFeedback {
				recs, err := a.analytics.FeedbackRecommendations(ctx, fileType)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			}
			recs, err := a.analytics.MethodRecommendations(ctx, fileType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var statsTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Satisfaction trends and improvement suggestions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.analytics.ImprovementTrends(ctx, windowFlag(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var statsHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Review recent learning activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			h, err := a.learning.AnalyzeLearningHistory(ctx, windowFlag(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), h)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{statsAggregateCmd, statsTopCmd} {
		c.Flags().String("kind", "", "record kind: methods, feedback or patterns")
		_ = c.MarkFlagRequired("kind")
	}
	statsTopCmd.Flags().Int("n", 10, "number of rows")

	addWindowFlag(statsAggregateCmd, 0)
	addWindowFlag(statsTopCmd, 0)
	addWindowFlag(statsMethodsCmd, 0)
	addWindowFlag(statsTrendsCmd, 0)
	addWindowFlag(statsHistoryCmd, 0)

	statsPredictCmd.Flags().String("file-type", "", "target file type")
	statsRecommendCmd.Flags().String("file-type", "", "target file type")
	statsRecommendCmd.Flags().Bool("from-feedback", false, "rank by feedback satisfaction instead of stored effectiveness")

	statsCmd.AddCommand(statsAggregateCmd, statsTopCmd, statsMethodsCmd, statsPredictCmd,
		statsCompareCmd, statsRecommendCmd, statsTrendsCmd, statsHistoryCmd)
	rootCmd.AddCommand(statsCmd)
}
