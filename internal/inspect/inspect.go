// Package inspect enriches image references from the manifests with what the
// Docker daemon knows about them: digests, exposed ports, volumes,
// environment and the runtime users baked into the image.
package inspect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/dyluth/drey/pkg/blackboard"
)

// DockerAPI is the slice of the Docker client the inspector needs. The real
// *client.Client satisfies it.
type DockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ImageUser is one /etc/passwd entry from inside the image with UID >= 100.
type ImageUser struct {
	Name string
	UID  string
	GID  string
}

// Inspector looks up image details through the Docker daemon.
type Inspector struct {
	api    DockerAPI
	logger *zap.Logger
}

// New returns an Inspector on the given Docker API.
func New(api DockerAPI, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{api: api, logger: logger.Named("inspect")}
}

// Inspect pulls the image, inspects it and returns a populated Image record.
// User extraction runs the image once; its failure degrades the description
// instead of failing the inspection.
func (in *Inspector) Inspect(ctx context.Context, repository, tag string) (blackboard.Image, error) {
	if tag == "" {
		tag = "latest"
	}
	ref := repository + ":" + tag

	if err := in.pull(ctx, ref); err != nil {
		return blackboard.Image{}, err
	}

	info, _, err := in.api.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		return blackboard.Image{}, fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	img := blackboard.Image{
		Tag:            ref,
		Repository:     repository,
		ImageName:      path.Base(repository),
		Version:        tag,
		ManifestDigest: info.ID,
	}
	if len(info.RepoDigests) > 0 {
		img.PullableDigest = info.RepoDigests[0]
	}

	if cfg := info.Config; cfg != nil {
		for p := range cfg.ExposedPorts {
			img.Ports = append(img.Ports, p.Int())
		}
		sort.Ints(img.Ports)

		for v := range cfg.Volumes {
			img.Volumes = append(img.Volumes, v)
		}
		sort.Strings(img.Volumes)

		img.EnvironmentVariables = append([]string(nil), cfg.Env...)
	}

	users, err := in.imageUsers(ctx, ref)
	if err != nil {
		in.logger.Warn("failed to read image users", zap.String("image", ref), zap.Error(err))
	}
	img.Description = describe(info, users, err)

	return img, nil
}

func (in *Inspector) pull(ctx context.Context, ref string) error {
	reader, err := in.api.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	// The pull completes only once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	in.logger.Info("pulled image", zap.String("image", ref))
	return nil
}

// imageUsers runs the image once to read /etc/passwd and returns the entries
// with UID >= 100, the users a manifest securityContext would reference.
func (in *Inspector) imageUsers(ctx context.Context, ref string) ([]ImageUser, error) {
	resp, err := in.api.ContainerCreate(ctx, &container.Config{
		Image: ref,
		Cmd:   []string{"awk", "-F:", "$3>=100 {print $0}", "/etc/passwd"},
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create inspection container: %w", err)
	}
	defer func() {
		if err := in.api.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			in.logger.Warn("failed to remove inspection container", zap.String("container_id", resp.ID), zap.Error(err))
		}
	}()

	if err := in.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start inspection container: %w", err)
	}

	statusCh, errCh := in.api.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("failed to wait for inspection container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, fmt.Errorf("inspection container exited with code %d", status.StatusCode)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reader, err := in.api.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read inspection container logs: %w", err)
	}
	defer reader.Close()

	var stdout bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, io.Discard, reader); err != nil {
		return nil, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	return parsePasswd(&stdout), nil
}

// parsePasswd extracts name, UID and GID from passwd lines, skipping
// malformed entries.
func parsePasswd(r io.Reader) []ImageUser {
	var users []ImageUser
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 4 {
			continue
		}
		users = append(users, ImageUser{Name: parts[0], UID: parts[2], GID: parts[3]})
	}
	return users
}

// describe summarizes the runtime-relevant inspection findings into the
// free-text description stored on the board.
func describe(info types.ImageInspect, users []ImageUser, usersErr error) string {
	var parts []string
	if cfg := info.Config; cfg != nil {
		if cfg.User != "" {
			parts = append(parts, "runs as user "+cfg.User)
		}
		if cfg.WorkingDir != "" {
			parts = append(parts, "working dir "+cfg.WorkingDir)
		}
		if len(cfg.Entrypoint) > 0 {
			parts = append(parts, "entrypoint "+strings.Join(cfg.Entrypoint, " "))
		}
		if len(cfg.Cmd) > 0 {
			parts = append(parts, "cmd "+strings.Join(cfg.Cmd, " "))
		}
	}
	switch {
	case usersErr != nil:
		parts = append(parts, "users unavailable: "+usersErr.Error())
	case len(users) > 0:
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, fmt.Sprintf("%s(uid=%s,gid=%s)", u.Name, u.UID, u.GID))
		}
		parts = append(parts, "users "+strings.Join(names, ", "))
	}
	if len(parts) == 0 {
		return "no runtime configuration declared"
	}
	return strings.Join(parts, "; ")
}
