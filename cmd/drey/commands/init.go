package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new drey project",
	Long: `Initialize a new drey project with default configuration and a task
runner stub.

Creates:
  • drey.yml - Run configuration file
  • tasks/run-task.sh - Task runner stub speaking the stdin/stdout JSON contract
  • tasks/README.md - Task contract documentation
  • workspace/ - Directory the generated manifests are written to

This command must be run from the root of a Git repository.

Use --force to reinitialize an existing project (WARNING: destroys existing
configuration; the workspace/ directory is left untouched).`,
	RunE: runInit,
}

func init() {
	// Note: Cannot use -f shorthand because it conflicts with global --config flag
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing drey.yml and tasks/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// Validate Git context first
	checker := git.NewChecker()
	if err := checker.ValidateGitContext(); err != nil {
		return err
	}

	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	// Initialize the project
	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	// Print success message
	scaffold.PrintSuccess()

	return nil
}
