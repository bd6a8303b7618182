package cluster

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// KindOptions configures the kind cluster lifecycle.
type KindOptions struct {
	Path        string // kind binary, empty means "kind" from PATH
	Cluster     string // cluster name, empty means "kind"
	NodeVersion string // kindest/node tag, empty for kind's default image
	ConfigPath  string // optional kind config file
}

// KindManager tears down and rebuilds the local kind cluster so each run
// starts against a clean control plane.
type KindManager struct {
	runner  Runner
	kind    string
	cluster string
	image   string
	config  string
	logger  *zap.Logger
}

// NewKindManager returns a KindManager for the cluster described by opts.
func NewKindManager(runner Runner, opts KindOptions, logger *zap.Logger) *KindManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Path == "" {
		opts.Path = "kind"
	}
	if opts.Cluster == "" {
		opts.Cluster = "kind"
	}
	image := ""
	if opts.NodeVersion != "" {
		image = "kindest/node:" + opts.NodeVersion
	}
	return &KindManager{
		runner:  runner,
		kind:    opts.Path,
		cluster: opts.Cluster,
		image:   image,
		config:  opts.ConfigPath,
		logger:  logger.Named("kind"),
	}
}

// DeleteCluster removes the cluster. A cluster that does not exist is not an
// error.
func (k *KindManager) DeleteCluster(ctx context.Context) error {
	out, err := k.runner.Run(ctx, k.kind, "delete", "cluster", "--name", k.cluster)
	if err != nil {
		if strings.Contains(string(out), "not found") {
			k.logger.Info("cluster not found, nothing to delete", zap.String("cluster", k.cluster))
			return nil
		}
		return fmt.Errorf("failed to delete cluster %s: %w: %s", k.cluster, err, strings.TrimSpace(string(out)))
	}
	k.logger.Info("deleted cluster", zap.String("cluster", k.cluster))
	return nil
}

// CreateCluster creates the cluster with the configured node image.
func (k *KindManager) CreateCluster(ctx context.Context) error {
	args := []string{"create", "cluster", "--name", k.cluster}
	if k.image != "" {
		args = append(args, "--image", k.image)
	}
	if k.config != "" {
		args = append(args, "--config", k.config)
	}
	out, err := k.runner.Run(ctx, k.kind, args...)
	if err != nil {
		return fmt.Errorf("failed to create cluster %s: %w: %s", k.cluster, err, strings.TrimSpace(string(out)))
	}
	k.logger.Info("created cluster", zap.String("cluster", k.cluster), zap.String("image", k.image))
	return nil
}

// RecreateCluster deletes any existing cluster and creates a fresh one.
func (k *KindManager) RecreateCluster(ctx context.Context) error {
	if err := k.DeleteCluster(ctx); err != nil {
		return fmt.Errorf("failed to delete existing cluster: %w", err)
	}
	if err := k.CreateCluster(ctx); err != nil {
		return fmt.Errorf("failed to create new cluster: %w", err)
	}
	return nil
}
