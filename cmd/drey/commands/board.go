package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/printer"
)

var (
	boardJSON    bool
	boardRecords int
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the shared board of the running pipeline",
	Long: `Show the shared board: plan, manifests, images, open issues and recent
activity of the pipeline a running 'drey run' is driving.

Examples:
  # Human-readable summary
  drey board

  # Full board as JSON, e.g. for jq
  drey board --json

  # Trim the activity trail
  drey board --records 5`,
	Args: cobra.NoArgs,
	RunE: runBoard,
}

func init() {
	registerAddrFlag(boardCmd)
	boardCmd.Flags().BoolVar(&boardJSON, "json", false, "Print the raw board JSON")
	boardCmd.Flags().IntVar(&boardRecords, "records", 0, "Only include the last N activity records")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	path := "/api/v1/board"
	if boardRecords > 0 {
		path += fmt.Sprintf("?last_records=%d", boardRecords)
	}

	var resp struct {
		Blackboard map[string]any `json:"blackboard"`
	}
	if err := apiGet(path, &resp); err != nil {
		return err
	}

	if boardJSON {
		pretty, err := json.MarshalIndent(resp.Blackboard, "", "  ")
		if err != nil {
			return err
		}
		printer.Println(string(pretty))
		return nil
	}

	printBoardSummary(resp.Blackboard)
	return nil
}

// printBoardSummary renders the board export for a terminal. The export is
// already filtered server-side, so everything present gets shown.
func printBoardSummary(board map[string]any) {
	if phase, ok := board["phase"].(string); ok {
		printer.Printf("Phase:      %s\n", phase)
	}
	if iterations, ok := board["iterations"].(float64); ok {
		printer.Printf("Iterations: %d\n", int(iterations))
	}

	if manifests, ok := board["manifests"].([]any); ok && len(manifests) > 0 {
		printer.Printf("\nManifests:\n")
		for _, raw := range manifests {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			printer.Printf("  %s (namespace %s)\n", entry["file_path"], entry["namespace"])
		}
	}

	issues, _ := board["issues"].([]any)
	if len(issues) == 0 {
		printer.Printf("\nNo open issues\n")
	} else {
		printer.Printf("\nOpen issues:\n")
		for _, raw := range issues {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			severity, _ := entry["severity"].(string)
			title, _ := entry["issue"].(string)
			printer.Issue(severity, title)
		}
	}

	if records, ok := board["records"].([]any); ok && len(records) > 0 {
		printer.Printf("\nRecent activity:\n")
		for _, raw := range records {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			printer.Printf("  [%s] %s\n", entry["agent"], entry["task_name"])
		}
	}
}
