package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	// configPath is the global --config flag shared by commands that read
	// drey.yml
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "Drey - Kubernetes deployment pipeline driven by delegated tasks",
	Long: `Drey turns a plain-language deployment request into running Kubernetes
manifests. It plans the deployment, writes the manifests through a
configurable task runner, applies them to a local cluster and keeps
testing and repairing until the deployment is healthy.

Progress and results live on a shared blackboard, observable and
steerable over a small HTTP control API while a run is in flight.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to root command
	// e.g., "drey --config other.yml" instead of "drey run --config other.yml"
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "drey.yml", "Path to the drey configuration file")
}
