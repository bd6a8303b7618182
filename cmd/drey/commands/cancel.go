package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running pipeline",
	Long: `Ask the running pipeline to stop. The run halts at its next boundary
check; in-flight task subprocesses are interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiPost("/api/v1/cancel", struct{}{}, nil); err != nil {
			return err
		}
		printer.Success("run cancellation requested\n")
		return nil
	},
}

func init() {
	registerAddrFlag(cancelCmd)
	rootCmd.AddCommand(cancelCmd)
}
