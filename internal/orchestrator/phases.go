package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/drey/internal/retry"
	"github.com/dyluth/drey/pkg/blackboard"
)

// initialResearch produces the detailed deployment plan from the user
// request and stores it as the advanced plan.
func (e *Engine) initialResearch(ctx context.Context, operatorFeedback string) error {
	_, _, err := retry.Do(ctx, taskInitialResearch, e.retryOpts(operatorFeedback),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			result, err := e.runTask(ctx, taskSpec{
				name:        taskInitialResearch,
				agent:       blackboard.RoleResearcher,
				description: "Research the user request and draft the deployment plan",
				feedback:    fb.String(),
				export:      blackboard.DefaultExportOptions(),
			})
			if err != nil {
				return struct{}{}, err
			}
			if strings.TrimSpace(result.Raw) == "" {
				return struct{}{}, errors.New("research produced no plan text")
			}
			e.board.SetAdvancedPlan(result.Raw)
			return struct{}{}, nil
		})
	return err
}

// structureAndImages runs defineStructure and getImages concurrently; the
// two write disjoint board fields.
func (e *Engine) structureAndImages(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.defineStructure(gctx, "") })
	g.Go(func() error { return e.getImages(gctx, "") })
	return g.Wait()
}

// defineStructure asks for the manifest layout and derives the namespace
// list from it. The "n/a" placeholder used by cluster-scoped manifests is
// not a namespace.
func (e *Engine) defineStructure(ctx context.Context, operatorFeedback string) error {
	_, _, err := retry.Do(ctx, taskDefineStructure, e.retryOpts(operatorFeedback),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			result, err := e.runTask(ctx, taskSpec{
				name:        taskDefineStructure,
				agent:       blackboard.RoleResearcher,
				description: "Define the manifest files the deployment needs",
				feedback:    fb.String(),
				export:      blackboard.DefaultExportOptions(),
			})
			if err != nil {
				return struct{}{}, err
			}

			raw, ok := result.Data["manifests"]
			if !ok {
				return struct{}{}, errors.New("task returned no manifests field")
			}
			var manifests []blackboard.Manifest
			if err := decodeField(raw, &manifests); err != nil {
				return struct{}{}, fmt.Errorf("task returned malformed manifests: %w", err)
			}
			if len(manifests) == 0 {
				return struct{}{}, errors.New("task returned an empty manifest list")
			}

			e.board.SetManifests(manifests)
			e.board.SetNamespaces(namespacesOf(manifests))
			return struct{}{}, nil
		})
	return err
}

// namespacesOf returns the distinct namespaces the manifests target, in
// first-seen order, dropping the "n/a" placeholder.
func namespacesOf(manifests []blackboard.Manifest) []string {
	seen := make(map[string]bool)
	var namespaces []string
	for _, m := range manifests {
		ns := m.Namespace
		if strings.TrimSpace(strings.ToLower(ns)) == "n/a" {
			continue
		}
		if seen[ns] {
			continue
		}
		seen[ns] = true
		namespaces = append(namespaces, ns)
	}
	return namespaces
}

// getImages extracts the image names the plan calls for, inspects each one
// concurrently and stores the merged results once all inspections finish.
func (e *Engine) getImages(ctx context.Context, operatorFeedback string) error {
	_, _, err := retry.Do(ctx, taskExtractImages, e.retryOpts(operatorFeedback),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			result, err := e.runTask(ctx, taskSpec{
				name:        taskExtractImages,
				agent:       blackboard.RoleResearcher,
				description: "List the container images the deployment needs",
				feedback:    fb.String(),
				export:      blackboard.DefaultExportOptions(),
			})
			if err != nil {
				return struct{}{}, err
			}

			raw, ok := result.Data["images"]
			if !ok {
				return struct{}{}, errors.New("task returned no images field")
			}
			var names []string
			if err := decodeField(raw, &names); err != nil {
				return struct{}{}, fmt.Errorf("task returned malformed image names: %w", err)
			}

			images := make([]blackboard.Image, len(names))
			g, gctx := errgroup.WithContext(ctx)
			for i, name := range names {
				i, name := i, name
				g.Go(func() error {
					img, err := e.inspectImage(gctx, name)
					if err != nil {
						return err
					}
					images[i] = img
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return struct{}{}, err
			}

			e.board.SetImages(images)
			return struct{}{}, nil
		})
	return err
}

// inspectImage resolves one image reference. Without an inspector wired the
// board still gets the reference itself, just no registry metadata.
func (e *Engine) inspectImage(ctx context.Context, ref string) (blackboard.Image, error) {
	repository, tag := splitImageRef(ref)
	if repository == "" {
		return blackboard.Image{}, fmt.Errorf("empty image reference %q", ref)
	}
	if e.inspector == nil {
		if tag == "" {
			tag = "latest"
		}
		return blackboard.Image{
			Tag:        repository + ":" + tag,
			Repository: repository,
			ImageName:  path.Base(repository),
			Version:    tag,
		}, nil
	}
	return e.inspector.Inspect(ctx, repository, tag)
}

// splitImageRef separates "repo:tag" into its parts. A colon inside the
// registry host (port) is not a tag separator.
func splitImageRef(ref string) (repository, tag string) {
	ref = strings.TrimSpace(ref)
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// perResourceResearch deepens each manifest's description with a dedicated
// research pass per manifest. Results pair with manifests by order.
func (e *Engine) perResourceResearch(ctx context.Context, operatorFeedback string) error {
	_, _, err := retry.Do(ctx, taskResourceResearch, e.retryOpts(operatorFeedback),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			manifests := e.board.Manifests()
			results := make([]string, len(manifests))

			g, gctx := errgroup.WithContext(ctx)
			for i, m := range manifests {
				i, m := i, m
				g.Go(func() error {
					var resource map[string]any
					if err := decodeField(m, &resource); err != nil {
						return err
					}
					result, err := e.runTask(gctx, taskSpec{
						name:        taskResourceResearch,
						agent:       blackboard.RoleResearcher,
						description: fmt.Sprintf("Research how to configure %s", m.FilePath),
						payload:     map[string]any{"resource": resource},
						feedback:    fb.String(),
						export:      blackboard.DefaultExportOptions(),
					})
					if err != nil {
						return err
					}
					results[i] = result.Raw
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return struct{}{}, err
			}

			updated := e.board.Manifests()
			if len(updated) != len(results) {
				e.logger.Warn("manifest count changed during research",
					zap.Int("results", len(results)),
					zap.Int("manifests", len(updated)))
			}
			for i := range updated {
				if i >= len(results) || results[i] == "" {
					continue
				}
				updated[i].Description = results[i]
			}
			e.board.SetManifests(updated)
			return struct{}{}, nil
		})
	return err
}

// prepareEnvironment starts the run from a clean slate: empty workspace,
// fresh cluster, namespaces in place.
func (e *Engine) prepareEnvironment(ctx context.Context) error {
	_, _, err := retry.Do(ctx, "prepare_environment", e.retryOpts(""),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			if err := e.workspace.Clear(); err != nil {
				return struct{}{}, fmt.Errorf("failed to clear workspace: %w", err)
			}
			if err := e.initRepo(e.workspace.Root()); err != nil {
				return struct{}{}, fmt.Errorf("failed to prepare workspace repository: %w", err)
			}
			if e.seedDir != "" {
				if err := e.workspace.Seed(e.seedDir); err != nil {
					return struct{}{}, fmt.Errorf("failed to seed workspace: %w", err)
				}
			}
			if e.provisioner != nil {
				if err := e.provisioner.RecreateCluster(ctx); err != nil {
					return struct{}{}, err
				}
			}
			if err := e.cluster.EnsureNamespaces(ctx, e.board.Namespaces()); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
	return err
}

// firstApproach writes the first version of every manifest, one task per
// manifest, each with its own retry budget.
func (e *Engine) firstApproach(ctx context.Context, operatorFeedback string) error {
	manifests := e.board.Manifests()
	if len(manifests) == 0 {
		return errors.New("no manifests to create")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range manifests {
		m := m
		g.Go(func() error {
			return e.firstApproachManifest(gctx, m, operatorFeedback)
		})
	}
	return g.Wait()
}

func (e *Engine) firstApproachManifest(ctx context.Context, m blackboard.Manifest, operatorFeedback string) error {
	opName := taskFirstApproach + ":" + m.FilePath
	_, _, err := retry.Do(ctx, opName, e.retryOpts(operatorFeedback),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			var manifest map[string]any
			if err := decodeField(m, &manifest); err != nil {
				return struct{}{}, err
			}
			if _, err := e.runTask(ctx, taskSpec{
				name:        taskFirstApproach,
				agent:       blackboard.RoleEngineer,
				description: fmt.Sprintf("Create the manifest %s", m.FilePath),
				payload:     map[string]any{"manifest": manifest},
				feedback:    fb.String(),
				export:      blackboard.DefaultExportOptions(),
			}); err != nil {
				return struct{}{}, err
			}
			// The task reports success through its output, the file on
			// disk is what apply will actually see.
			if err := e.manifestOnDisk(m.FilePath); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
	return err
}

// manifestOnDisk verifies the task wrote the manifest where apply will look
// for it. The error text goes back to the task as retry feedback.
func (e *Engine) manifestOnDisk(filePath string) error {
	rel := path.Clean(strings.ReplaceAll(filePath, "\\", "/"))
	rel = strings.TrimPrefix(rel, "/")
	abs := filepath.Join(e.workspace.Root(), filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return fmt.Errorf("manifest %s was not created on disk; create the file with the expected content and try again", filePath)
	}
	return nil
}

// resetCluster rebuilds the cluster after the first code approach so the
// test loop starts from a clean state.
func (e *Engine) resetCluster(ctx context.Context) error {
	_, _, err := retry.Do(ctx, "reset_cluster", e.retryOpts(""),
		func(ctx context.Context, fb *retry.Feedback) (struct{}, error) {
			if e.provisioner != nil {
				if err := e.provisioner.RecreateCluster(ctx); err != nil {
					return struct{}{}, err
				}
			}
			if err := e.cluster.EnsureNamespaces(ctx, e.board.Namespaces()); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, nil
		})
	return err
}
