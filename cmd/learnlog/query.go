package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thebtf/learnlog/internal/search"
	"github.com/thebtf/learnlog/pkg/models"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search patterns, feedback, judgments and methods",
	Long:  `Searches every record kind for the query. An empty query lists the newest rows.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().String("category", "", "restrict to a file type or pattern context")
	searchCmd.Flags().String("from", "", "earliest creation date (YYYY-MM-DD or RFC 3339)")
	searchCmd.Flags().String("to", "", "latest creation date, inclusive")
	searchCmd.Flags().Int("limit", 0, "maximum results per kind (0 uses search.default_limit)")
	searchCmd.Flags().String("kinds", "", "comma separated kinds: patterns,feedback,judgments,methods")
	rootCmd.AddCommand(searchCmd)
}

// searchOptions builds search options from the search flags.
func searchOptions(cmd *cobra.Command) (search.Options, error) {
	var opts search.Options
	var err error

	opts.Category, _ = cmd.Flags().GetString("category")
	opts.Limit, _ = cmd.Flags().GetInt("limit")
	if opts.Limit < 0 {
		return opts, models.NewValidationError("limit", "must not be negative")
	}

	if v, _ := cmd.Flags().GetString("from"); v != "" {
		if opts.DateFrom, err = models.ParseTimestamp("from", v, false); err != nil {
			return opts, err
		}
	}
	if v, _ := cmd.Flags().GetString("to"); v != "" {
		if opts.DateTo, err = models.ParseTimestamp("to", v, true); err != nil {
			return opts, err
		}
	}
	kinds, _ := cmd.Flags().GetString("kinds")
	opts.Kinds, err = models.ParseKinds(kinds)
	return opts, err
}

func runSearch(cmd *cobra.Command, args []string) error {
	opts, err := searchOptions(cmd)
	if err != nil {
		return err
	}
	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	return withApp(cmd, func(ctx context.Context, a *app) error {
		result, err := a.search.Search(ctx, query, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	})
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend an analysis approach from past successes",
	Long: `Recommends a primary approach with alternatives and method adaptations
for the given file context. With --references the raw reference material
for a file type is printed instead.`,
	Args: cobra.NoArgs,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().String("context", "", "file context, e.g. meeting")
	recommendCmd.Flags().String("query", "", "free text describing the file")
	recommendCmd.Flags().Bool("references", false, "print reference patterns instead of an approach")
	recommendCmd.Flags().Int("limit", 0, "reference rows per kind")
	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, args []string) error {
	fileContext, _ := cmd.Flags().GetString("context")
	query, _ := cmd.Flags().GetString("query")
	references, _ := cmd.Flags().GetBool("references")
	limit, _ := cmd.Flags().GetInt("limit")
	fileContext = strings.TrimSpace(fileContext)

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if references {
			refs, err := a.recommender.ReferencePatterns(ctx, fileContext, query, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), refs)
		}
		approach, err := a.recommender.Recommend(ctx, fileContext, query)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), approach)
	})
}
