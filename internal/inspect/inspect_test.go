package inspect

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	pullErr     error
	inspect     types.ImageInspect
	inspectErr  error
	passwd      string
	runErr      error
	exitCode    int64
	pulled      []string
	removedIDs  []string
	createdCmds [][]string
}

func (f *fakeDocker) ImagePull(ctx context.Context, refStr string, options types.ImagePullOptions) (io.ReadCloser, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	f.pulled = append(f.pulled, refStr)
	return io.NopCloser(strings.NewReader("pull progress")), nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	return f.inspect, nil, f.inspectErr
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.runErr != nil {
		return container.CreateResponse{}, f.runErr
	}
	f.createdCmds = append(f.createdCmds, config.Cmd)
	return container.CreateResponse{ID: "ctr-1"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error, 1)
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(muxStdout(f.passwd))), nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.removedIDs = append(f.removedIDs, containerID)
	return nil
}

// muxStdout frames payload the way the Docker log stream does: one stdout
// frame per call.
func muxStdout(payload string) string {
	if payload == "" {
		return ""
	}
	header := make([]byte, 8)
	header[0] = 1 // stdout
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return string(header) + payload
}

func nginxInspect() types.ImageInspect {
	return types.ImageInspect{
		ID:          "sha256:config-digest",
		RepoDigests: []string{"docker.io/library/nginx@sha256:pullable"},
		Config: &container.Config{
			User:       "nginx",
			WorkingDir: "/",
			Entrypoint: []string{"/docker-entrypoint.sh"},
			Cmd:        []string{"nginx", "-g", "daemon off;"},
			Env:        []string{"PATH=/usr/sbin", "NGINX_VERSION=1.27.0"},
			ExposedPorts: nat.PortSet{
				nat.Port("443/tcp"): {},
				nat.Port("80/tcp"):  {},
			},
			Volumes: map[string]struct{}{"/var/cache/nginx": {}},
		},
	}
}

func TestInspect(t *testing.T) {
	fake := &fakeDocker{
		inspect: nginxInspect(),
		passwd:  "nginx:x:101:101:nginx user:/nonexistent:/bin/false\n",
	}
	in := New(fake, nil)

	img, err := in.Inspect(context.Background(), "library/nginx", "1.27.0")
	require.NoError(t, err)

	assert.Equal(t, "library/nginx:1.27.0", img.Tag)
	assert.Equal(t, "library/nginx", img.Repository)
	assert.Equal(t, "nginx", img.ImageName)
	assert.Equal(t, "1.27.0", img.Version)
	assert.Equal(t, "sha256:config-digest", img.ManifestDigest)
	assert.Equal(t, "docker.io/library/nginx@sha256:pullable", img.PullableDigest)
	assert.Equal(t, []int{80, 443}, img.Ports, "ports must be sorted numerically")
	assert.Equal(t, []string{"/var/cache/nginx"}, img.Volumes)
	assert.Equal(t, []string{"PATH=/usr/sbin", "NGINX_VERSION=1.27.0"}, img.EnvironmentVariables)

	assert.Contains(t, img.Description, "runs as user nginx")
	assert.Contains(t, img.Description, "users nginx(uid=101,gid=101)")

	assert.Equal(t, []string{"library/nginx:1.27.0"}, fake.pulled)
	assert.Equal(t, []string{"ctr-1"}, fake.removedIDs, "inspection container must be removed")
	require.Len(t, fake.createdCmds, 1)
	assert.Equal(t, "awk", fake.createdCmds[0][0])
}

func TestInspectDefaultsTag(t *testing.T) {
	fake := &fakeDocker{inspect: nginxInspect()}
	in := New(fake, nil)

	img, err := in.Inspect(context.Background(), "library/redis", "")
	require.NoError(t, err)
	assert.Equal(t, "library/redis:latest", img.Tag)
	assert.Equal(t, "latest", img.Version)
}

func TestInspectPullFailure(t *testing.T) {
	fake := &fakeDocker{pullErr: errors.New("no such image")}
	in := New(fake, nil)

	_, err := in.Inspect(context.Background(), "library/nope", "latest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to pull image library/nope:latest")
}

func TestInspectUserExtractionFailureIsNotFatal(t *testing.T) {
	fake := &fakeDocker{
		inspect:  nginxInspect(),
		exitCode: 1,
	}
	in := New(fake, nil)

	img, err := in.Inspect(context.Background(), "library/nginx", "latest")
	require.NoError(t, err, "a failing user probe must not fail the inspection")
	assert.Contains(t, img.Description, "users unavailable")
}

func TestParsePasswd(t *testing.T) {
	input := strings.Join([]string{
		"nginx:x:101:101:nginx:/nonexistent:/bin/false",
		"",
		"broken-line",
		"app:x:1000:1000:app:/home/app:/bin/sh",
	}, "\n")

	users := parsePasswd(strings.NewReader(input))
	require.Len(t, users, 2)
	assert.Equal(t, ImageUser{Name: "nginx", UID: "101", GID: "101"}, users[0])
	assert.Equal(t, ImageUser{Name: "app", UID: "1000", GID: "1000"}, users[1])
}
