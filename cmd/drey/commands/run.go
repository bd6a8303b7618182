package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/cluster"
	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/docker"
	"github.com/dyluth/drey/internal/executor"
	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/internal/inspect"
	"github.com/dyluth/drey/internal/logging"
	"github.com/dyluth/drey/internal/orchestrator"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/server"
	"github.com/dyluth/drey/internal/snapshot"
	"github.com/dyluth/drey/pkg/blackboard"
)

var runCmd = &cobra.Command{
	Use:   "run \"<request>\"",
	Short: "Run the deployment pipeline for a request",
	Long: `Run the full deployment pipeline for a plain-language request.

The pipeline researches the request, plans the manifests, writes them
through the configured task runner, applies them to the cluster and
iterates on test-and-repair until the deployment is healthy or the
iteration budget runs out.

While the run is in flight the control API (server.addr in drey.yml)
serves status, board reads, operator feedback and cancellation.

Examples:
  # Assisted run, operator approves key steps over the control API
  drey run "nginx with two replicas behind a ClusterIP service"

  # Hands-off run
  DREY_RUN_INTERACTION_MODE=automated drey run "redis with persistent storage"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	userRequest := strings.TrimSpace(args[0])
	if userRequest == "" {
		return printer.Error(
			"empty deployment request",
			"Usage:\n  drey run \"description of what to deploy\"\n\nExample:\n  drey run \"nginx with two replicas behind a ClusterIP service\"",
			nil,
		)
	}

	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.ErrorWithContext(
			"configuration not found or invalid",
			err.Error(),
			map[string]string{"Config file": configPath},
			[]string{
				"Initialize the project first:\n  drey init",
				"Or point --config at an existing drey.yml",
			},
		)
	}

	// 2. Build the process logger
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	// 3. Prepare the workspace repository and warn about uncommitted work
	workspace, err := filepath.Abs(cfg.Run.Workspace)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if err := git.EnsureRepo(workspace); err != nil {
		return err
	}
	if clean, cleanErr := git.IsClean(workspace); cleanErr == nil && !clean {
		if files, filesErr := git.DirtyFiles(workspace); filesErr == nil && files != "" {
			printer.Warning("workspace has uncommitted changes the run will overwrite:\n%s\n", files)
		}
	}

	// 4. Create the shared board
	board := blackboard.New()

	// 5. Create the task executor. The subprocess runs in the workspace, so
	// a relative command path must be pinned to where drey was started.
	command := append([]string(nil), cfg.Executor.Command...)
	command[0] = resolveCommandPath(command[0])
	taskExec, err := executor.NewCommandExecutor(command, workspace, cfg.Executor.Timeout, logger)
	if err != nil {
		return fmt.Errorf("invalid executor.command: %w", err)
	}

	// 6. Cluster tooling
	runner := cluster.ExecRunner{}
	clusterMgr := cluster.NewManager(runner, cfg.Cluster.KubectlPath, workspace, logger)

	var provisioner orchestrator.ClusterProvisioner
	if cfg.Cluster.Recreate {
		provisioner = cluster.NewKindManager(runner, cluster.KindOptions{
			Path:        cfg.Cluster.KindPath,
			Cluster:     cfg.Cluster.KindCluster,
			NodeVersion: cfg.Cluster.NodeVersion,
			ConfigPath:  cfg.Cluster.KindConfig,
		}, logger)
	}

	// 7. Image inspector. Without Docker the run still works, images just
	// keep their references without registry metadata.
	ctx := context.Background()
	var inspector orchestrator.ImageInspector
	dockerClient, err := docker.NewClient(ctx)
	if err != nil {
		printer.Warning("Docker not accessible (image inspection disabled): %v\n", err)
	} else {
		defer dockerClient.Close()
		inspector = inspect.New(dockerClient, logger)
	}

	// 8. Optional snapshot store, same degradation rule as Docker
	runID := uuid.New().String()
	var snapshots orchestrator.SnapshotStore
	if cfg.Redis.URL != "" {
		redisOpts, parseErr := redis.ParseURL(cfg.Redis.URL)
		if parseErr != nil {
			return fmt.Errorf("invalid redis.url: %w", parseErr)
		}
		store, storeErr := snapshot.NewStore(redisOpts, runID, cfg.Redis.SnapshotTTL)
		if storeErr != nil {
			return fmt.Errorf("failed to create snapshot store: %w", storeErr)
		}
		if pingErr := store.Ping(ctx); pingErr != nil {
			printer.Warning("Redis not accessible (snapshots disabled): %v\n", pingErr)
			store.Close()
		} else {
			defer store.Close()
			snapshots = store
		}
	}

	// 9. Assemble the engine
	engine, err := orchestrator.NewEngine(orchestrator.Options{
		Board:         board,
		Executor:      taskExec,
		Cluster:       clusterMgr,
		Provisioner:   provisioner,
		Inspector:     inspector,
		Workspace:     orchestrator.NewReconciler(workspace, logger),
		Snapshots:     snapshots,
		Progress:      consoleProgress{},
		SeedDir:       cfg.Run.BaseDir,
		RunID:         runID,
		Mode:          blackboard.Mode(cfg.Run.InteractionMode),
		MaxIterations: cfg.Run.MaxIterations,
		SettleDelay:   cfg.Run.SettleDelay,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// 10. Shutdown plumbing. The control API's cancel endpoint and Ctrl+C
	// share the same context.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 11. Control API
	srv, err := server.New(server.Options{
		Addr:     cfg.Server.Addr,
		Board:    board,
		Feedback: engine.Coordinator(),
		Cancel:   cancel,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	printer.Info("Control API listening on %s\n", cfg.Server.Addr)
	printer.Info("Run ID: %s\n", engine.RunID())
	if blackboard.Mode(cfg.Run.InteractionMode) == blackboard.ModeAssisted {
		printer.Info("Assisted mode: approve steps with 'drey approve' or steer with 'drey feedback'\n")
	}
	printer.Info("\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 12. Start the pipeline in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx, userRequest)
	}()

	// 13. Wait for completion or a shutdown signal
	select {
	case sig := <-sigCh:
		printer.Step("received %v, shutting down gracefully\n", sig)
		cancel()
		<-errCh
		printer.Info("Run stopped\n")
		return nil
	case runErr := <-errCh:
		if runErr != nil {
			return printer.Error(
				"pipeline failed",
				runErr.Error(),
				[]string{
					"Inspect the board state:\n  drey board",
					"Check the task runner:\n  tasks/run-task.sh must print a JSON result on stdout",
				},
			)
		}
	}

	printRunSummary(board)
	return nil
}

// resolveCommandPath absolutizes a relative command path so the executor's
// workspace working directory does not change what runs. Bare names keep
// their normal PATH lookup.
func resolveCommandPath(path string) string {
	if filepath.IsAbs(path) || !strings.ContainsRune(path, os.PathSeparator) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// consoleProgress puts pipeline progress on stdout while zap logs stay on
// stderr.
type consoleProgress struct{}

func (consoleProgress) PhaseChanged(phase string) { printer.Phase(phase) }

func (consoleProgress) IterationStarted(current, max int) { printer.Iteration(current, max) }

func printRunSummary(board *blackboard.Board) {
	printer.Success("pipeline finished: %s\n", board.Phase())
	printer.Info("  Iterations: %d\n", board.Iterations())

	issues := board.Issues()
	if len(issues) == 0 {
		printer.Info("  No open issues\n")
		return
	}
	printer.Info("  Open issues:\n")
	for _, issue := range issues {
		printer.Issue(string(issue.Severity), issue.Issue)
	}
}
