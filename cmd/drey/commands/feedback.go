package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback \"<text>\"",
	Short: "Send operator feedback to the running pipeline",
	Long: `Send operator feedback to the running pipeline.

When the pipeline is paused at an approval step, non-approval feedback
makes it redo the step with your text as guidance. Feedback only counts
while a step is waiting; check the pause with: drey status

Examples:
  drey feedback "use three replicas, not two"
  drey feedback "the service must be a NodePort"`,
	Args: cobra.ExactArgs(1),
	RunE: runFeedback,
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the step the pipeline is waiting on",
	Long: `Approve the step the pipeline is waiting on, letting an assisted run
continue to the next phase. Shorthand for: drey feedback "approve"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitFeedback("approve")
	},
}

func init() {
	registerAddrFlag(feedbackCmd)
	registerAddrFlag(approveCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(approveCmd)
}

func runFeedback(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(args[0])
	if text == "" {
		return printer.Error(
			"no feedback provided",
			"Usage:\n  drey feedback \"what to change\"",
			nil,
		)
	}
	return submitFeedback(text)
}

func submitFeedback(text string) error {
	if err := apiPost("/api/v1/feedback", map[string]string{"feedback": text}, nil); err != nil {
		return err
	}
	if text == "approve" {
		printer.Success("step approved\n")
	} else {
		printer.Success("feedback submitted\n")
	}
	return nil
}
