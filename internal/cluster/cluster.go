// Package cluster drives kubectl and kind against the local test cluster.
// All calls shell out through a Runner so the pipeline never links a
// Kubernetes client library and tests can run without a cluster.
package cluster

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Manager applies and deletes the workspace manifests and keeps the
// namespaces they need in place.
type Manager struct {
	runner  Runner
	kubectl string
	dir     string
	logger  *zap.Logger
}

// NewManager returns a Manager operating on the manifest tree rooted at dir.
// kubectl names the binary to invoke; empty means "kubectl" from PATH.
func NewManager(runner Runner, kubectl, dir string, logger *zap.Logger) *Manager {
	if kubectl == "" {
		kubectl = "kubectl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{runner: runner, kubectl: kubectl, dir: dir, logger: logger.Named("cluster")}
}

// ApplyAll recursively applies every manifest under the workspace.
func (m *Manager) ApplyAll(ctx context.Context) (string, error) {
	out, err := m.runner.Run(ctx, m.kubectl, "apply", "-R", "-f", m.dir)
	if err != nil {
		return string(out), fmt.Errorf("failed to apply manifests: %w: %s", err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("applied manifests", zap.String("dir", m.dir))
	return string(out), nil
}

// DeleteAll recursively deletes every resource defined under the workspace.
func (m *Manager) DeleteAll(ctx context.Context) (string, error) {
	out, err := m.runner.Run(ctx, m.kubectl, "delete", "-R", "-f", m.dir)
	if err != nil {
		return string(out), fmt.Errorf("failed to delete manifests: %w: %s", err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("deleted manifests", zap.String("dir", m.dir))
	return string(out), nil
}

// DeleteManifest deletes the resources defined in a single manifest file.
func (m *Manager) DeleteManifest(ctx context.Context, path string) (string, error) {
	out, err := m.runner.Run(ctx, m.kubectl, "delete", "-f", path)
	if err != nil {
		return string(out), fmt.Errorf("failed to delete manifest %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// EnsureNamespaces creates every named namespace that does not exist yet.
// Existing namespaces, blank names and the "n/a" placeholder used by
// cluster-scoped manifests are skipped, so repeated calls are safe.
func (m *Manager) EnsureNamespaces(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || strings.EqualFold(name, "n/a") {
			continue
		}
		if _, err := m.runner.Run(ctx, m.kubectl, "get", "namespace", name); err == nil {
			continue
		}
		out, err := m.runner.Run(ctx, m.kubectl, "create", "namespace", name)
		if err != nil {
			if strings.Contains(string(out), "AlreadyExists") {
				continue
			}
			return fmt.Errorf("failed to create namespace %s: %w: %s", name, err, strings.TrimSpace(string(out)))
		}
		m.logger.Info("created namespace", zap.String("namespace", name))
	}
	return nil
}
