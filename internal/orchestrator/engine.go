// Package orchestrator sequences the pipeline phases over the shared board.
//
// The engine owns the board for the duration of a run. It drives the task
// executor, the cluster tooling and the image inspector through a fixed
// phase machine: research, structure and images, per-resource research,
// environment preparation, the first code approach, then a bounded
// test-and-improve loop that applies the manifests, collects issues and
// repairs them until the board is clean.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyluth/drey/internal/executor"
	"github.com/dyluth/drey/internal/git"
	"github.com/dyluth/drey/internal/lint"
	"github.com/dyluth/drey/internal/retry"
	"github.com/dyluth/drey/pkg/blackboard"
)

// Phase labels observable through Board.Phase().
const (
	PhaseInitialResearch    = "Initial Research"
	PhaseStructureAndImages = "Defining Project Structure and Getting Images"
	PhaseResourceResearch   = "Per Resource Research"
	PhasePrepareEnvironment = "Preparing Environment"
	PhaseFirstApproach      = "First Code Approach"
	PhaseResetCluster       = "Resetting Cluster"
	PhaseTestAndImprove     = "Basic Test and Improve"
	PhaseTesting            = "Testing"
	PhaseImproving          = "Improving"
	PhaseCompleted          = "Completed"

	// phaseFailedPrefix starts the terminal label carrying the failure
	// reason.
	phaseFailedPrefix = "pipeline failed: "
)

// Task names sent to the executor. The subprocess keys its prompts off
// these, so they are part of the executor contract.
const (
	taskInitialResearch  = "initial_research"
	taskDefineStructure  = "define_project_structure"
	taskExtractImages    = "get_images"
	taskResourceResearch = "per_resource_research"
	taskFirstApproach    = "first_approach"
	taskTestCluster      = "test_cluster"
	taskImprove          = "basic_improve"
)

const (
	// DefaultMaxIterations bounds the test-and-improve loop.
	DefaultMaxIterations = 10

	// DefaultSettleDelay is how long the cluster gets to settle after an
	// apply before testing starts.
	DefaultSettleDelay = 10 * time.Second

	settlePollInterval = 100 * time.Millisecond
	snapshotTimeout    = 5 * time.Second
	eventOutputLimit   = 200
)

// ClusterManager is the kubectl surface a run needs.
type ClusterManager interface {
	ApplyAll(ctx context.Context) (string, error)
	DeleteAll(ctx context.Context) (string, error)
	EnsureNamespaces(ctx context.Context, names []string) error
}

// ClusterProvisioner recreates the disposable test cluster.
type ClusterProvisioner interface {
	RecreateCluster(ctx context.Context) error
}

// ImageInspector looks up metadata for one container image.
type ImageInspector interface {
	Inspect(ctx context.Context, repository, tag string) (blackboard.Image, error)
}

// SnapshotStore persists board snapshots at run milestones.
type SnapshotStore interface {
	Save(ctx context.Context, milestone string, board *blackboard.Board) error
}

// ProgressSink receives operator-facing progress: phase transitions and test
// loop iterations. Calls arrive from the run goroutine, so implementations
// must not block.
type ProgressSink interface {
	PhaseChanged(phase string)
	IterationStarted(current, max int)
}

// Options wires the collaborators and knobs for one Engine.
type Options struct {
	Board       *blackboard.Board
	Executor    executor.TaskExecutor
	Cluster     ClusterManager
	Provisioner ClusterProvisioner // nil skips cluster recreation
	Inspector   ImageInspector     // nil skips image inspection
	Workspace   *Reconciler
	Coordinator *Coordinator  // nil builds one from Board
	Snapshots   SnapshotStore // nil disables snapshots
	Progress    ProgressSink  // nil disables progress display

	// Validate checks the manifest tree; nil means lint.ValidateDir.
	Validate func(dir string) ([]lint.Finding, error)

	// InitRepo puts the workspace under version control during environment
	// preparation; nil means git.EnsureRepo.
	InitRepo func(dir string) error

	// SeedDir is copied into the workspace after it is cleared; empty skips
	// seeding.
	SeedDir string

	// RunID labels the run in snapshots and logs; empty generates one.
	RunID string

	Mode          blackboard.Mode // empty means assisted
	MaxIterations int             // zero means DefaultMaxIterations
	SettleDelay   time.Duration   // zero means DefaultSettleDelay
	RetryDelay    time.Duration   // zero means retry.DefaultDelay
	Logger        *zap.Logger
}

// Engine runs the pipeline. One Engine drives one run at a time.
type Engine struct {
	board       *blackboard.Board
	executor    executor.TaskExecutor
	cluster     ClusterManager
	provisioner ClusterProvisioner
	inspector   ImageInspector
	workspace   *Reconciler
	coordinator *Coordinator
	snapshots   SnapshotStore
	progress    ProgressSink
	validate    func(dir string) ([]lint.Finding, error)
	initRepo    func(dir string) error
	seedDir     string

	mode          blackboard.Mode
	maxIterations int
	settleDelay   time.Duration
	retryDelay    time.Duration
	runID         string
	logger        *zap.Logger
}

// NewEngine validates the wiring and returns a ready Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Board == nil {
		return nil, errors.New("board is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("task executor is required")
	}
	if opts.Cluster == nil {
		return nil, errors.New("cluster manager is required")
	}
	if opts.Workspace == nil {
		return nil, errors.New("workspace reconciler is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orchestrator")

	mode := opts.Mode
	if mode == "" {
		mode = blackboard.ModeAssisted
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = NewCoordinator(opts.Board, logger)
	}

	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	settleDelay := opts.SettleDelay
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	validate := opts.Validate
	if validate == nil {
		validate = lint.ValidateDir
	}
	initRepo := opts.InitRepo
	if initRepo == nil {
		initRepo = git.EnsureRepo
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	return &Engine{
		board:         opts.Board,
		executor:      opts.Executor,
		cluster:       opts.Cluster,
		provisioner:   opts.Provisioner,
		inspector:     opts.Inspector,
		workspace:     opts.Workspace,
		coordinator:   coordinator,
		snapshots:     opts.Snapshots,
		progress:      opts.Progress,
		validate:      validate,
		initRepo:      initRepo,
		seedDir:       opts.SeedDir,
		mode:          mode,
		maxIterations: maxIterations,
		settleDelay:   settleDelay,
		retryDelay:    opts.RetryDelay,
		runID:         runID,
		logger:        logger,
	}, nil
}

// RunID identifies this engine's run, for snapshot keys and logs.
func (e *Engine) RunID() string {
	return e.runID
}

// Coordinator returns the interaction coordinator, for the control API.
func (e *Engine) Coordinator() *Coordinator {
	return e.coordinator
}

// Run drives a full pipeline run for the given request. It blocks until the
// run completes, fails, or ctx is cancelled. Any error is also surfaced as
// the terminal phase label.
func (e *Engine) Run(ctx context.Context, userRequest string) (err error) {
	if strings.TrimSpace(userRequest) == "" {
		return errors.New("user request is empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.board.Reset()
	e.board.SetInteractionMode(e.mode)
	e.board.SetInteractionStatus(blackboard.StatusRunning)
	e.board.SetUserRequest(userRequest)
	e.logger.Info("run started",
		zap.String("run_id", e.runID),
		zap.String("mode", string(e.mode)))

	defer func() {
		e.board.SetInteractionStatus(blackboard.StatusIdle)
		if err != nil {
			e.board.SetPhase(phaseFailedPrefix + err.Error())
			e.logger.Error("run failed", zap.String("run_id", e.runID), zap.Error(err))
			e.saveSnapshot("failed")
		}
	}()

	e.setPhase(PhaseInitialResearch)
	if err = e.initialResearch(ctx, ""); err != nil {
		return err
	}
	if err = e.approveLoop(ctx, "initial_research", "Review the deployment plan", e.initialResearch); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhaseStructureAndImages)
	if err = e.structureAndImages(ctx); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhaseResourceResearch)
	if err = e.perResourceResearch(ctx, ""); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhasePrepareEnvironment)
	if err = e.prepareEnvironment(ctx); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhaseFirstApproach)
	if err = e.firstApproach(ctx, ""); err != nil {
		return err
	}
	if err = e.approveLoop(ctx, "first_approach", "Review the generated manifests", e.firstApproach); err != nil {
		return err
	}
	e.saveSnapshot("first_approach")

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhaseResetCluster)
	if err = e.resetCluster(ctx); err != nil {
		return err
	}

	if err = ctx.Err(); err != nil {
		return err
	}
	e.setPhase(PhaseTestAndImprove)
	if err = e.testAndImprove(ctx); err != nil {
		return err
	}

	e.setPhase(PhaseCompleted)
	e.saveSnapshot("completed")
	e.logger.Info("run completed",
		zap.String("run_id", e.runID),
		zap.Int("iterations", e.board.Iterations()),
		zap.Int("open_issues", len(e.board.Issues())))
	return nil
}

// setPhase advances the board phase and mirrors the transition to the
// progress sink.
func (e *Engine) setPhase(phase string) {
	e.board.SetPhase(phase)
	if e.progress != nil {
		e.progress.PhaseChanged(phase)
	}
}

// approveLoop pauses at an approval point and reruns the step with the
// operator's text until the operator approves. Automated mode approves
// immediately, as does an empty response.
func (e *Engine) approveLoop(ctx context.Context, step, message string, rerun func(ctx context.Context, feedback string) error) error {
	for {
		text, err := e.coordinator.WaitForApproval(ctx, step, message)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.EqualFold(text, "approve") {
			return nil
		}
		e.logger.Info("operator requested changes", zap.String("step", step))
		if err := rerun(ctx, text); err != nil {
			return err
		}
	}
}

// taskSpec describes one executor invocation.
type taskSpec struct {
	name        string
	agent       blackboard.AgentRole
	description string
	payload     map[string]any
	feedback    string
	export      blackboard.ExportOptions
}

// runTask sends one task to the executor, bracketing it with events and
// recording the completed work on the board. Operations returned by the
// task are applied; a rejected operation is logged, not fatal.
func (e *Engine) runTask(ctx context.Context, spec taskSpec) (*executor.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	boardView, err := e.board.Export(spec.export)
	if err != nil {
		return nil, fmt.Errorf("failed to export board for task %s: %w", spec.name, err)
	}

	e.pushEvent("task_started", spec.agent, spec.description, "")
	result, err := e.executor.Execute(ctx, executor.TaskInput{
		Task:        spec.name,
		Agent:       string(spec.agent),
		Description: spec.description,
		Blackboard:  boardView,
		Feedback:    spec.feedback,
		Payload:     spec.payload,
	})
	if err != nil {
		return nil, err
	}

	for _, res := range e.board.Apply(result.Operations) {
		if !res.Success {
			e.logger.Warn("task operation rejected",
				zap.String("task", spec.name),
				zap.String("path", res.Path),
				zap.String("error", res.Error))
		}
	}

	description := result.Raw
	if description == "" {
		description = spec.description
	}
	e.board.AddRecord(blackboard.Record{
		Agent:           spec.agent,
		TaskName:        spec.name,
		TaskDescription: description,
	})
	e.pushEvent("task_completed", spec.agent, spec.description, clip(result.Raw, eventOutputLimit))
	return result, nil
}

func (e *Engine) pushEvent(eventType string, agent blackboard.AgentRole, description, output string) {
	data := map[string]any{
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"type":             eventType,
		"agent_role":       string(agent),
		"task_description": description,
	}
	if output != "" {
		data["output"] = output
	}
	e.board.PushEvent(data)
}

// saveSnapshot persists the board under the milestone key. Failures are
// logged and swallowed; a missing snapshot never fails the run. Uses its own
// context so the terminal snapshot survives run cancellation.
func (e *Engine) saveSnapshot(milestone string) {
	if e.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := e.snapshots.Save(ctx, milestone, e.board); err != nil {
		e.logger.Warn("snapshot save failed",
			zap.String("milestone", milestone),
			zap.Error(err))
	}
}

// retryOpts builds the retry policy for one phase. Operator feedback, when
// present, seeds the feedback trail so the first attempt already carries it.
func (e *Engine) retryOpts(operatorFeedback string) retry.Options {
	opts := retry.Options{Delay: e.retryDelay, Logger: e.logger}
	if operatorFeedback != "" {
		fb := &retry.Feedback{}
		fb.Append("Operator feedback: " + operatorFeedback)
		opts.Feedback = fb
	}
	return opts
}

// decodeField round-trips a loosely typed task data value into out.
func decodeField(v, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
