package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/drey/internal/retry"
	"github.com/dyluth/drey/pkg/blackboard"
)

// testAndImprove applies the manifests, tests the result and repairs what
// the tests find, up to maxIterations cycles. It returns nil both on
// convergence and on an exhausted budget; remaining issues stay on the
// board either way.
func (e *Engine) testAndImprove(ctx context.Context) error {
	for i := 0; i < e.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.board.IncrementIterations()
		if e.progress != nil {
			e.progress.IterationStarted(e.board.Iterations(), e.maxIterations)
		}

		e.setPhase(PhaseTesting)
		if err := e.testCluster(ctx); err != nil {
			return err
		}

		issues := e.board.Issues()
		if len(issues) == 0 {
			e.logger.Info("no issues left, converged",
				zap.Int("iteration", e.board.Iterations()))
			return nil
		}

		e.setPhase(PhaseImproving)
		if err := e.improve(ctx, groupIssues(issues)); err != nil {
			return err
		}
	}

	e.logger.Warn("iteration budget exhausted with issues remaining",
		zap.Int("iterations", e.board.Iterations()),
		zap.Int("issues", len(e.board.Issues())))
	return nil
}

// groupIssues picks what the repair pass works on: HIGH issues grouped by
// their suspected manifest, or, when none are HIGH, everything in one
// combined group.
func groupIssues(issues []blackboard.Issue) map[string][]blackboard.Issue {
	groups := make(map[string][]blackboard.Issue)
	for _, issue := range issues {
		if issue.Severity == blackboard.SeverityHigh {
			groups[issue.PossibleManifestFilePath] = append(groups[issue.PossibleManifestFilePath], issue)
		}
	}
	if len(groups) == 0 {
		groups["all"] = issues
	}
	return groups
}

// testCluster runs one full test cycle with a retry budget.
func (e *Engine) testCluster(ctx context.Context) error {
	_, _, err := retry.Do(ctx, taskTestCluster, e.retryOpts(""),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			return struct{}{}, e.testClusterOnce(ctx, fb.String())
		})
	return err
}

// testClusterOnce reconciles the workspace, applies the manifests, waits
// for the cluster to settle, collects issues and tears the deployment down
// again. An apply failure becomes a single HIGH issue and skips testing;
// the repair pass deals with it.
func (e *Engine) testClusterOnce(ctx context.Context, feedback string) error {
	if err := e.reconcileWorkspace(); err != nil {
		return err
	}

	if err := e.cluster.EnsureNamespaces(ctx, e.board.Namespaces()); err != nil {
		return err
	}

	if _, err := e.cluster.ApplyAll(ctx); err != nil {
		if _, delErr := e.cluster.DeleteAll(ctx); delErr != nil {
			e.logger.Error("rollback delete failed", zap.Error(delErr))
		}
		e.board.SetIssues([]blackboard.Issue{applyFailureIssue(e.scrubPaths(err.Error()))})
		e.logger.Error("apply failed, recorded as a HIGH issue")
		return nil
	}

	if err := e.settle(ctx); err != nil {
		return err
	}

	issues, err := e.collectIssues(ctx, feedback)
	if err != nil {
		return err
	}
	e.board.SetIssues(issues)

	if _, err := e.cluster.DeleteAll(ctx); err != nil {
		e.logger.Error("teardown delete failed", zap.Error(err))
	}
	return nil
}

// reconcileWorkspace removes files no manifest tracks and records what was
// removed so later tasks know the files are gone.
func (e *Engine) reconcileWorkspace() error {
	manifests := e.board.Manifests()
	tracked := make([]string, 0, len(manifests))
	for _, m := range manifests {
		tracked = append(tracked, m.FilePath)
	}

	removed, err := e.workspace.Reconcile(tracked)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}

	absRoot, err := filepath.Abs(e.workspace.Root())
	if err != nil {
		absRoot = e.workspace.Root()
	}
	lines := make([]string, 0, len(removed))
	for _, p := range removed {
		if rel, err := filepath.Rel(absRoot, p); err == nil {
			p = rel
		}
		lines = append(lines, "- "+p)
	}
	e.board.AddRecord(blackboard.Record{
		Agent:    blackboard.RoleEngineer,
		TaskName: "delete_untracked_files",
		TaskDescription: "The following files/directories were deleted as they are not part of any manifest:\n" +
			strings.Join(lines, "\n"),
	})
	return nil
}

// applyFailureIssue is the single HIGH issue standing in for test output
// when kubectl apply itself fails.
func applyFailureIssue(errText string) blackboard.Issue {
	return blackboard.Issue{
		Issue:                    "Error applying the manifests",
		Severity:                 blackboard.SeverityHigh,
		ProblemDescription:       errText + "\n\n Ignore any warnings, focus on the fatal errors",
		PossibleManifestFilePath: "see the description of the issue",
		Observations:             "Apply failed",
		CreatedAt:                time.Now().UTC(),
	}
}

// scrubPaths removes workspace paths from error text so issues read the
// same wherever the run executes.
func (e *Engine) scrubPaths(s string) string {
	if abs, err := filepath.Abs(e.workspace.Root()); err == nil {
		s = strings.ReplaceAll(s, abs, "")
	}
	return strings.ReplaceAll(s, e.workspace.Root(), "")
}

// settle gives the cluster time to converge after an apply, staying
// responsive to cancellation.
func (e *Engine) settle(ctx context.Context) error {
	deadline := time.Now().Add(e.settleDelay)
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// collectIssues runs the manifest validator and the external tester and
// merges their findings. The tester sees no prior issues in its board view,
// so every cycle reports fresh observations.
func (e *Engine) collectIssues(ctx context.Context, feedback string) ([]blackboard.Issue, error) {
	findings, err := e.validate(e.workspace.Root())
	if err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	result, err := e.runTask(ctx, taskSpec{
		name:        taskTestCluster,
		agent:       blackboard.RoleTester,
		description: "Test the deployed resources and report issues",
		feedback:    feedback,
		export: blackboard.ExportOptions{
			HideAdvancedPlan: true,
			LastRecords:      20,
		},
	})
	if err != nil {
		return nil, err
	}

	var issues []blackboard.Issue
	if raw, ok := result.Data["issues"]; ok {
		if err := decodeField(raw, &issues); err != nil {
			return nil, fmt.Errorf("tester returned malformed issues: %w", err)
		}
	}
	for _, f := range findings {
		issues = append(issues, blackboard.Issue{
			Issue:                    "Manifest failed validation",
			Severity:                 blackboard.SeverityMedium,
			ProblemDescription:       f.Message,
			PossibleManifestFilePath: f.Path,
			Observations:             "Reported by the manifest validator",
		})
	}

	now := time.Now().UTC()
	for i := range issues {
		if issues[i].CreatedAt.IsZero() {
			issues[i].CreatedAt = now
		}
		if err := issues[i].Validate(); err != nil {
			return nil, fmt.Errorf("tester issue %d is invalid: %w", i, err)
		}
	}
	return issues, nil
}

// improve runs one repair pass. All groups repair concurrently inside a
// single retried operation, so a failing group reruns the whole pass with
// the failure trail attached.
func (e *Engine) improve(ctx context.Context, groups map[string][]blackboard.Issue) error {
	_, _, err := retry.Do(ctx, taskImprove, e.retryOpts(""),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			g, gctx := errgroup.WithContext(ctx)
			for manifestPath, group := range groups {
				manifestPath, group := manifestPath, group
				g.Go(func() error {
					var issueMaps []map[string]any
					if err := decodeField(group, &issueMaps); err != nil {
						return err
					}
					_, err := e.runTask(gctx, taskSpec{
						name:        taskImprove,
						agent:       blackboard.RoleEngineer,
						description: fmt.Sprintf("Repair the issues attributed to %s", manifestPath),
						payload:     map[string]any{"issues": issueMaps},
						feedback:    fb.String(),
						export:      blackboard.DefaultExportOptions(),
					})
					return err
				})
			}
			return struct{}{}, g.Wait()
		})
	return err
}
