package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thebtf/learnlog/pkg/models"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the experience of one analysis as a learning pattern",
	Long: `Reinforces the "<file type>分析経験" pattern with the analysis result read
from --result (a JSON file, or - for stdin).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("file-type")
		success, _ := cmd.Flags().GetBool("success")
		resultPath, _ := cmd.Flags().GetString("result")

		var result models.AnalysisResult
		if err := readJSONInput(resultPath, &result); err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.learning.CaptureAnalysisExperience(ctx, fileType, result, success)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"pattern_id": id, "success": success})
		})
	},
}

var judgmentCmd = &cobra.Command{
	Use:   "judgment",
	Short: "Record and confirm file type judgments",
}

var judgmentRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a file type judgment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, _ := cmd.Flags().GetString("sample")
		judgment, _ := cmd.Flags().GetString("judgment")
		reasoning, _ := cmd.Flags().GetString("reasoning")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.learning.RecordJudgment(ctx, sample, judgment, reasoning)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"judgment_id": id})
		})
	},
}

var judgmentConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm or correct a recorded judgment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return models.NewValidationError("id", "must be an integer (got %q)", args[0])
		}
		correctType, _ := cmd.Flags().GetString("correct-type")
		correct, _ := cmd.Flags().GetBool("correct")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.learning.ConfirmJudgment(ctx, id, correctType, correct); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"judgment_id": id, "is_correct": correct, "correct_type": correctType})
		})
	},
}

var methodCmd = &cobra.Command{
	Use:   "method",
	Short: "Track analysis method effectiveness",
}

var methodTrackCmd = &cobra.Command{
	Use:   "track <method>",
	Short: "Record one run of an analysis method",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("file-type")
		var outcome models.Outcome
		outcome.Success, _ = cmd.Flags().GetBool("success")
		outcome.ExecutionTimeMs, _ = cmd.Flags().GetInt64("duration-ms")
		outcome.Confidence = floatFlag(cmd, "confidence")
		outcome.Accuracy = floatFlag(cmd, "accuracy")

		feedback := userFeedback(cmd)
		return withApp(cmd, func(ctx context.Context, a *app) error {
			row, err := a.learning.TrackMethodEffectiveness(ctx, args[0], fileType, outcome, feedback)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record user feedback on an analysis",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fileType, _ := cmd.Flags().GetString("file-type")
		method, _ := cmd.Flags().GetString("method")
		text, _ := cmd.Flags().GetString("text")
		resultPath, _ := cmd.Flags().GetString("result")

		var result models.AnalysisResult
		if err := readJSONInput(resultPath, &result); err != nil {
			return err
		}
		feedback := userFeedback(cmd)
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.learning.RecordAnalysisFeedback(ctx, fileType, method, result, feedback, text)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"feedback_id": id})
		})
	},
}

// floatFlag returns the value of a float flag, nil when it was not set.
func floatFlag(cmd *cobra.Command, name string) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return &v
}

// userFeedback builds the optional feedback from the rating flags. It is
// nil when none of them were given.
func userFeedback(cmd *cobra.Command) *models.UserFeedback {
	fb := &models.UserFeedback{
		Satisfaction: floatFlag(cmd, "satisfaction"),
		Rating:       floatFlag(cmd, "rating"),
	}
	fb.Improvements, _ = cmd.Flags().GetString("improvements")
	if fb.Satisfaction == nil && fb.Rating == nil && fb.Improvements == "" {
		return nil
	}
	return fb
}

func addFeedbackFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("satisfaction", 0, "user satisfaction in [0,1]")
	cmd.Flags().Float64("rating", 0, "user rating on the 1-5 scale")
	cmd.Flags().String("improvements", "", "requested improvements")
}

func init() {
	captureCmd.Flags().String("file-type", "", "file type of the analysed transcript")
	captureCmd.Flags().Bool("success", true, "whether the analysis succeeded")
	captureCmd.Flags().String("result", "", "analysis result JSON file, - for stdin")
	_ = captureCmd.MarkFlagRequired("file-type")

	judgmentRecordCmd.Flags().String("sample", "", "content sample the judgment was made on")
	judgmentRecordCmd.Flags().String("judgment", "", "judged file type")
	judgmentRecordCmd.Flags().String("reasoning", "", "why the type was chosen")
	_ = judgmentRecordCmd.MarkFlagRequired("judgment")
	judgmentConfirmCmd.Flags().String("correct-type", "", "the actual file type")
	judgmentConfirmCmd.Flags().Bool("correct", false, "whether the judgment was right")
	_ = judgmentConfirmCmd.MarkFlagRequired("correct-type")
	judgmentCmd.AddCommand(judgmentRecordCmd, judgmentConfirmCmd)

	methodTrackCmd.Flags().String("file-type", "", "file type the method was applied to")
	methodTrackCmd.Flags().Bool("success", false, "whether the run succeeded")
	methodTrackCmd.Flags().Int64("duration-ms", 0, "execution time in milliseconds")
	methodTrackCmd.Flags().Float64("confidence", 0, "reported confidence in [0,1]")
	methodTrackCmd.Flags().Float64("accuracy", 0, "measured accuracy in [0,1]")
	addFeedbackFlags(methodTrackCmd)
	methodCmd.AddCommand(methodTrackCmd)

	feedbackCmd.Flags().String("file-type", "", "file type of the analysed transcript")
	feedbackCmd.Flags().String("method", "", "analysis method the feedback is about")
	feedbackCmd.Flags().String("text", "", "free text feedback")
	feedbackCmd.Flags().String("result", "", "analysis result JSON file, - for stdin")
	addFeedbackFlags(feedbackCmd)
	_ = feedbackCmd.MarkFlagRequired("method")

	rootCmd.AddCommand(captureCmd, judgmentCmd, methodCmd, feedbackCmd)
}
