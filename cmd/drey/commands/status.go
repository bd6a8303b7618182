package commands

import (
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/blackboard"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the running pipeline is",
	Long: `Show the current phase, iteration count and interaction state of the
pipeline a running 'drey run' is driving.

Examples:
  drey status
  drey status --addr :9191`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	registerAddrFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var status struct {
		Phase       string                 `json:"phase"`
		Iterations  int                    `json:"iterations"`
		Waiting     bool                   `json:"waiting"`
		Interaction blackboard.Interaction `json:"interaction"`
	}
	if err := apiGet("/api/v1/status", &status); err != nil {
		return err
	}

	printer.Printf("Phase:      %s\n", status.Phase)
	printer.Printf("Iterations: %d\n", status.Iterations)
	printer.Printf("Mode:       %s\n", status.Interaction.Mode)

	if status.Waiting {
		printer.Warning("waiting for operator input at step '%s'\n", status.Interaction.StepName)
		if status.Interaction.Message != "" {
			printer.Printf("\n%s\n", status.Interaction.Message)
		}
		printer.Printf("\nRespond with:\n  drey approve\n  drey feedback \"what to change\"\n")
	}
	return nil
}
