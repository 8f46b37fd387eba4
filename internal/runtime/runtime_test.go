package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsingmao/xwm/internal/config"
	"github.com/tsingmao/xwm/internal/models"
)

const pipList = `[{"name": "transformers", "version": "4.51.3"}, {"name": "qwen_vl_utils", "version": "0.0.8"}, {"name": "Torch", "version": "2.4.0+cu121"}]`

func TestParsePipList(t *testing.T) {
	got, err := ParsePipList([]byte(pipList))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"transformers":  "4.51.3",
		"qwen-vl-utils": "0.0.8",
		"torch":         "2.4.0+cu121",
	}, got)

	_, err = ParsePipList([]byte("WARNING: pip is outdated"))
	assert.Error(t, err)
}

func TestPipVersions(t *testing.T) {
	calls := 0
	p := NewPipVersions("/opt/venv/bin/python")
	p.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls++
		assert.Equal(t, "/opt/venv/bin/python", name)
		assert.Equal(t, pipListArgs, args)
		return []byte(pipList), nil
	}

	var src models.VersionSource = p
	versions, err := src.InstalledVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.51.3", versions["transformers"])

	_, err = src.InstalledVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPipVersionsFailureNotCached(t *testing.T) {
	fail := true
	p := NewPipVersions("")
	p.run = func(_ context.Context, name string, _ ...string) ([]byte, error) {
		assert.Equal(t, "python3", name)
		if fail {
			return nil, errors.New("exit status 1")
		}
		return []byte("[]"), nil
	}

	_, err := p.InstalledVersions(context.Background())
	assert.ErrorContains(t, err, "failed to list packages with python3")

	fail = false
	versions, err := p.InstalledVersions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestNewVersionSourceHost(t *testing.T) {
	src, err := NewVersionSource(config.RuntimeConfig{Python: "python3.11"})
	require.NoError(t, err)
	require.IsType(t, &PipVersions{}, src)
	assert.Equal(t, "python3.11", src.(*PipVersions).Python)
}

// fakeDocker records the query container lifecycle.
type fakeDocker struct {
	created  *container.Config
	host     *container.HostConfig
	started  bool
	removed  bool
	exitCode int64
	stdout   string
	stderr   string
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.created, f.host = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	f.started = true
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error)
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, container.RemoveOptions) error {
	f.removed = true
	return nil
}

func TestImageVersions(t *testing.T) {
	fake := &fakeDocker{stdout: pipList, stderr: "WARNING: running pip as root"}
	v := &ImageVersions{Image: "vllm/vllm-openai:v0.8.5", client: fake}

	versions, err := v.InstalledVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.0.8", versions["qwen-vl-utils"])

	assert.Equal(t, "vllm/vllm-openai:v0.8.5", fake.created.Image)
	assert.Equal(t, []string{"python3"}, []string(fake.created.Entrypoint))
	assert.Equal(t, pipListArgs, []string(fake.created.Cmd))
	assert.Equal(t, "true", fake.created.Labels[queryLabel])
	assert.Equal(t, container.NetworkMode("none"), fake.host.NetworkMode)
	assert.True(t, fake.started)
	assert.True(t, fake.removed)
}

func TestImageVersionsExitCode(t *testing.T) {
	fake := &fakeDocker{exitCode: 1, stderr: "/usr/bin/python3: No module named pip\n"}
	v := &ImageVersions{Image: "ubuntu:22.04", client: fake}

	_, err := v.InstalledVersions(context.Background())
	assert.ErrorContains(t, err, "exited with code 1: /usr/bin/python3: No module named pip")
	assert.True(t, fake.removed)
}

func TestRequirementsAgainstImage(t *testing.T) {
	v := &ImageVersions{Image: "img", client: &fakeDocker{stdout: pipList}}
	versions, err := v.InstalledVersions(context.Background())
	require.NoError(t, err)

	violations, err := models.CheckRequirements([]string{"transformers>=4.49", "qwen_vl_utils>=0.0.6", "decord"}, versions)
	require.NoError(t, err)
	assert.Equal(t, []models.Violation{{Requirement: "decord"}}, violations)
}
