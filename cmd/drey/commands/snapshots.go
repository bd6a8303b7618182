package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/snapshot"
)

var snapshotsRedisURL string

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <run-id> [milestone]",
	Short: "Inspect board snapshots stored in Redis",
	Long: `Inspect the board snapshots a run stored in Redis.

List Mode (no milestone):
  Prints the milestone names that have a stored snapshot for the run.

Get Mode (with milestone):
  Prints the full board snapshot for that milestone as pretty-printed JSON.

The run ID is printed when 'drey run' starts. Snapshots are only written when
redis.url is configured, and they expire after redis.snapshot_ttl.

Examples:
  # List stored milestones for a run
  drey snapshots 2f1c9a3e-...

  # Inspect the board as it was after the first approach
  drey snapshots 2f1c9a3e-... first_approach

  # Pull issues out of a snapshot for scripting
  drey snapshots 2f1c9a3e-... completed | jq '.issues'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSnapshots,
}

func init() {
	snapshotsCmd.Flags().StringVar(&snapshotsRedisURL, "redis-url", "", "Redis URL (defaults to redis.url from the config file)")
	rootCmd.AddCommand(snapshotsCmd)
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	redisURL := snapshotsRedisURL
	if redisURL == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return printer.Error(
				"cannot determine the Redis URL",
				fmt.Sprintf("No --redis-url was given and the config file could not be read: %v", err),
				[]string{"Pass the URL directly:\n  drey snapshots --redis-url redis://localhost:6379 <run-id>"},
			)
		}
		redisURL = cfg.Redis.URL
	}
	if redisURL == "" {
		return printer.Error(
			"no Redis configured",
			"Snapshots are stored in Redis, but redis.url is not set.",
			[]string{
				"Set redis.url in drey.yml, or pass --redis-url",
				"Runs without Redis do not store snapshots",
			},
		)
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	runID := args[0]
	store, err := snapshot.NewStore(redisOpts, runID, 0)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return printer.Error(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s: %v", redisURL, err),
			[]string{"Check that the Redis server is running and the URL is correct"},
		)
	}

	if len(args) == 2 {
		return printSnapshot(ctx, store, runID, args[1])
	}
	return printMilestones(ctx, store, runID)
}

func printSnapshot(ctx context.Context, store *snapshot.Store, runID, milestone string) error {
	state, err := store.Load(ctx, milestone)
	if err != nil {
		if snapshot.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("no snapshot for milestone '%s'", milestone),
				fmt.Sprintf("Run %s has no stored snapshot named '%s'.", runID, milestone),
				[]string{fmt.Sprintf("List the stored milestones:\n  drey snapshots %s", runID)},
			)
		}
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func printMilestones(ctx context.Context, store *snapshot.Store, runID string) error {
	milestones, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(milestones) == 0 {
		fmt.Printf("No snapshots stored for run %s\n", runID)
		return nil
	}
	for _, milestone := range milestones {
		fmt.Println(milestone)
	}
	return nil
}
