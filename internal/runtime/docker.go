package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/tsingmao/xwm/internal/logger"
)

// queryLabel marks containers started by ImageVersions.
const queryLabel = "xwm.query"

// dockerAPI is the subset of the Docker Engine API used to query an image.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// ImageVersions reports the packages installed in a docker image by running
// pip in a short-lived container.
type ImageVersions struct {
	Image  string
	Python string

	client dockerAPI
	cache  versionCache
}

// NewImageVersions creates a version source that runs pip inside image.
//
// The Docker client is configured from the environment (DOCKER_HOST,
// DOCKER_TLS_VERIFY, DOCKER_CERT_PATH) and negotiates the API version.
//
// Returns:
//   - The version source
//   - Error if the Docker daemon is unreachable
func NewImageVersions(image, python string) (*ImageVersions, error) {
	if image == "" {
		return nil, fmt.Errorf("image is required")
	}

	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon is not accessible: %w", err)
	}

	return &ImageVersions{Image: image, Python: python, client: cli}, nil
}

// InstalledVersions implements models.VersionSource.
func (v *ImageVersions) InstalledVersions(ctx context.Context) (map[string]string, error) {
	return v.cache.get(ctx, v.query)
}

// query runs pip list in a throwaway container and returns its stdout.
func (v *ImageVersions) query(ctx context.Context) ([]byte, error) {
	python := v.Python
	if python == "" {
		python = "python3"
	}
	name := "xwm-query-" + uuid.NewString()[:8]

	resp, err := v.client.ContainerCreate(ctx,
		&container.Config{
			Image:      v.Image,
			Entrypoint: []string{python},
			Cmd:        pipListArgs,
			Labels:     map[string]string{queryLabel: "true"},
		},
		&container.HostConfig{NetworkMode: "none"},
		nil, nil, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("image %s not found locally, pull it first: %w", v.Image, err)
		}
		return nil, fmt.Errorf("failed to create query container: %w", err)
	}
	defer func() {
		// The request context may be cancelled already.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := v.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			logger.Warn("Failed to remove query container %s: %v", name, err)
		}
	}()

	logger.Debug("Probing installed packages in %s (container %s)", v.Image, name)
	if err := v.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start query container: %w", err)
	}

	statusCh, errCh := v.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed waiting for query container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("query container failed: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reader, err := v.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get query container logs: %w", err)
	}
	defer reader.Close()

	// Logs of a container without a TTY are multiplexed.
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, fmt.Errorf("failed to read query container logs: %w", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%s %s exited with code %d: %s",
			python, strings.Join(pipListArgs, " "), exitCode, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
