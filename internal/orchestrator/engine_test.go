package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dyluth/drey/internal/executor"
	"github.com/dyluth/drey/pkg/blackboard"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []executor.TaskInput
	handle func(input executor.TaskInput) (*executor.TaskResult, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, input executor.TaskInput) (*executor.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	return f.handle(input)
}

func (f *fakeExecutor) callsFor(task string) []executor.TaskInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []executor.TaskInput
	for _, c := range f.calls {
		if c.Task == task {
			out = append(out, c)
		}
	}
	return out
}

type fakeCluster struct {
	mu         sync.Mutex
	applies    int
	deletes    int
	namespaces [][]string
	applyErrs  []error // consumed one per ApplyAll call, nil entries succeed
}

func (f *fakeCluster) ApplyAll(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies++
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "applied", nil
}

func (f *fakeCluster) DeleteAll(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return "deleted", nil
}

func (f *fakeCluster) EnsureNamespaces(ctx context.Context, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.namespaces = append(f.namespaces, append([]string(nil), names...))
	return nil
}

type fakeProvisioner struct {
	mu        sync.Mutex
	recreates int
}

func (f *fakeProvisioner) RecreateCluster(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreates++
	return nil
}

type fakeSnapshots struct {
	mu         sync.Mutex
	milestones []string
}

func (f *fakeSnapshots) Save(ctx context.Context, milestone string, board *blackboard.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.milestones = append(f.milestones, milestone)
	return nil
}

type progressRecorder struct {
	mu         sync.Mutex
	phases     []string
	iterations []int
}

func (p *progressRecorder) PhaseChanged(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *progressRecorder) IterationStarted(current, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.iterations = append(p.iterations, current)
}

type engineFixture struct {
	board     *blackboard.Board
	exec      *fakeExecutor
	cluster   *fakeCluster
	prov      *fakeProvisioner
	snaps     *fakeSnapshots
	workspace string
	engine    *Engine
}

func newTestEngine(t *testing.T, mutate ...func(*Options)) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		board:     blackboard.New(),
		exec:      &fakeExecutor{},
		cluster:   &fakeCluster{},
		prov:      &fakeProvisioner{},
		snaps:     &fakeSnapshots{},
		workspace: t.TempDir(),
	}
	opts := Options{
		Board:       fx.board,
		Executor:    fx.exec,
		Cluster:     fx.cluster,
		Provisioner: fx.prov,
		Workspace:   NewReconciler(fx.workspace, nil),
		Snapshots:   fx.snaps,
		InitRepo:    func(string) error { return nil },
		Mode:        blackboard.ModeAutomated,
		SettleDelay: time.Millisecond,
		RetryDelay:  time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	eng, err := NewEngine(opts)
	require.NoError(t, err)
	fx.engine = eng
	return fx
}

// scriptAll installs a handler that plays a full successful pipeline: two
// manifests, one image, one HIGH issue on the first test cycle and a clean
// second cycle.
func (fx *engineFixture) scriptAll(t *testing.T) {
	t.Helper()
	fx.exec.handle = func(input executor.TaskInput) (*executor.TaskResult, error) {
		switch input.Task {
		case taskInitialResearch:
			return &executor.TaskResult{Raw: "deploy nginx with a config map"}, nil
		case taskDefineStructure:
			return &executor.TaskResult{
				Raw: "two manifests",
				Data: map[string]any{"manifests": []any{
					map[string]any{"file_path": "manifests/web.yaml", "namespace": "web", "description": "frontend service"},
					map[string]any{"file_path": "manifests/rbac.yaml", "namespace": "n/a", "description": "cluster role"},
				}},
			}, nil
		case taskExtractImages:
			return &executor.TaskResult{Raw: "one image", Data: map[string]any{"images": []any{"nginx:1.27"}}}, nil
		case taskResourceResearch:
			resource, _ := input.Payload["resource"].(map[string]any)
			return &executor.TaskResult{Raw: fmt.Sprintf("researched %v", resource["file_path"])}, nil
		case taskFirstApproach:
			manifest, _ := input.Payload["manifest"].(map[string]any)
			rel, _ := manifest["file_path"].(string)
			path := filepath.Join(fx.workspace, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			content := "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: placeholder\n"
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return &executor.TaskResult{Raw: "created " + rel}, nil
		case taskTestCluster:
			if len(fx.exec.callsFor(taskTestCluster)) == 1 {
				return &executor.TaskResult{
					Raw: "service unreachable",
					Data: map[string]any{"issues": []any{map[string]any{
						"issue":                       "Service has no endpoints",
						"severity":                    "HIGH",
						"problem_description":         "the selector matches no pods",
						"possible_manifest_file_path": "manifests/web.yaml",
						"observations":                "kubectl get endpoints is empty",
					}}},
				}, nil
			}
			return &executor.TaskResult{Raw: "all checks passed", Data: map[string]any{"issues": []any{}}}, nil
		case taskImprove:
			return &executor.TaskResult{Raw: "fixed the selector"}, nil
		default:
			return nil, fmt.Errorf("unexpected task %s", input.Task)
		}
	}
}

func TestRunCompletesPipeline(t *testing.T) {
	defer goleak.VerifyNone(t)

	progress := &progressRecorder{}
	fx := newTestEngine(t, func(o *Options) { o.Progress = progress })
	fx.scriptAll(t)

	require.NoError(t, fx.engine.Run(context.Background(), "deploy nginx for the demo"))

	assert.Equal(t, PhaseCompleted, fx.board.Phase())
	assert.Equal(t, 2, fx.board.Iterations(), "second test cycle must converge")
	assert.Empty(t, fx.board.Issues())

	project := fx.board.Project()
	assert.Equal(t, "deploy nginx for the demo", project.UserRequest)
	assert.Equal(t, "deploy nginx with a config map", project.AdvancedPlan)

	assert.Equal(t, []string{"web"}, fx.board.Namespaces(), "n/a must not become a namespace")

	manifests := fx.board.Manifests()
	require.Len(t, manifests, 2)
	assert.Equal(t, "researched manifests/web.yaml", manifests[0].Description)
	assert.Equal(t, "researched manifests/rbac.yaml", manifests[1].Description)

	images := fx.board.Images()
	require.Len(t, images, 1)
	assert.Equal(t, "nginx:1.27", images[0].Tag)
	assert.Equal(t, "nginx", images[0].Repository)
	assert.Equal(t, "1.27", images[0].Version)

	assert.Len(t, fx.exec.callsFor(taskInitialResearch), 1)
	assert.Len(t, fx.exec.callsFor(taskDefineStructure), 1)
	assert.Len(t, fx.exec.callsFor(taskExtractImages), 1)
	assert.Len(t, fx.exec.callsFor(taskResourceResearch), 2)
	assert.Len(t, fx.exec.callsFor(taskFirstApproach), 2)
	require.Len(t, fx.exec.callsFor(taskTestCluster), 2)
	require.Len(t, fx.exec.callsFor(taskImprove), 1)

	// The tester never sees prior issues, the improver sees the HIGH ones.
	testerView := fx.exec.callsFor(taskTestCluster)[1].Blackboard
	assert.Empty(t, testerView["issues"])
	improverCall := fx.exec.callsFor(taskImprove)[0]
	improverIssues, _ := improverCall.Payload["issues"].([]map[string]any)
	require.Len(t, improverIssues, 1)
	assert.Equal(t, "Service has no endpoints", improverIssues[0]["issue"])

	assert.Equal(t, 2, fx.cluster.applies)
	assert.Equal(t, 2, fx.cluster.deletes)
	assert.Equal(t, 2, fx.prov.recreates, "prepare environment and the cluster reset")
	for _, names := range fx.cluster.namespaces {
		assert.Equal(t, []string{"web"}, names)
	}

	assert.Equal(t, []string{"first_approach", "completed"}, fx.snaps.milestones)
	assert.Len(t, fx.board.Events(), 10, "event ring stays capped")

	assert.Equal(t, []string{
		PhaseInitialResearch,
		PhaseStructureAndImages,
		PhaseResourceResearch,
		PhasePrepareEnvironment,
		PhaseFirstApproach,
		PhaseResetCluster,
		PhaseTestAndImprove,
		PhaseTesting,
		PhaseImproving,
		PhaseTesting,
		PhaseCompleted,
	}, progress.phases)
	assert.Equal(t, []int{1, 2}, progress.iterations)

	status := fx.board.InteractionState()
	assert.Equal(t, blackboard.StatusIdle, status.Status)
}

func TestRunAssistedApprovalLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	fx := newTestEngine(t, func(o *Options) { o.Mode = blackboard.ModeAssisted })
	fx.scriptAll(t)

	done := make(chan struct{})
	go func() {
		revised := false
		submit := func(text string) {
			fx.engine.Coordinator().SubmitFeedback(text)
			for fx.engine.Coordinator().Waiting() {
				select {
				case <-done:
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
		for {
			select {
			case <-done:
				return
			case <-time.After(2 * time.Millisecond):
			}
			state := fx.board.InteractionState()
			if !state.IsWaitingForInput {
				continue
			}
			if state.StepName == "initial_research" && !revised {
				revised = true
				submit("tighten the plan")
				continue
			}
			submit("approve")
		}
	}()

	err := fx.engine.Run(context.Background(), "deploy nginx for the demo")
	close(done)
	require.NoError(t, err)

	assert.Equal(t, PhaseCompleted, fx.board.Phase())

	researchCalls := fx.exec.callsFor(taskInitialResearch)
	require.Len(t, researchCalls, 2, "operator revision reruns the step")
	assert.Empty(t, researchCalls[0].Feedback)
	assert.Contains(t, researchCalls[1].Feedback, "Operator feedback: tighten the plan")
}

func TestRunFailureSetsPhase(t *testing.T) {
	fx := newTestEngine(t)
	fx.exec.handle = func(input executor.TaskInput) (*executor.TaskResult, error) {
		return nil, errors.New("no network access")
	}

	err := fx.engine.Run(context.Background(), "deploy nginx")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no network access")

	phase := fx.board.Phase()
	assert.True(t, strings.HasPrefix(phase, "pipeline failed: "), "got phase %q", phase)
	assert.Contains(t, phase, "no network access")

	assert.Len(t, fx.exec.calls, 3, "the phase gets its full retry budget")
	assert.Equal(t, []string{"failed"}, fx.snaps.milestones)
	assert.Equal(t, blackboard.StatusIdle, fx.board.InteractionState().Status)
}

func TestRunRejectsEmptyRequest(t *testing.T) {
	fx := newTestEngine(t)

	err := fx.engine.Run(context.Background(), "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user request is empty")
	assert.Equal(t, "Waiting for kickoff", fx.board.Phase())
}

func TestNewEngineValidation(t *testing.T) {
	board := blackboard.New()
	exec := &fakeExecutor{}
	cl := &fakeCluster{}
	ws := NewReconciler(t.TempDir(), nil)

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{"missing board", Options{Executor: exec, Cluster: cl, Workspace: ws}, "board is required"},
		{"missing executor", Options{Board: board, Cluster: cl, Workspace: ws}, "task executor is required"},
		{"missing cluster", Options{Board: board, Executor: exec, Workspace: ws}, "cluster manager is required"},
		{"missing workspace", Options{Board: board, Executor: exec, Cluster: cl}, "workspace reconciler is required"},
		{"bad mode", Options{Board: board, Executor: exec, Cluster: cl, Workspace: ws, Mode: "solo"}, "unknown interaction mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
