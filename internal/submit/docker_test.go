package submit

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	images     map[string]bool
	builds     []string
	dockerfile string
	pulls      []string
	configs    []*container.Config
	hosts      []*container.HostConfig
	started    []string
	startErr   error
}

func (f *fakeDocker) ImageInspectWithRaw(_ context.Context, ref string) (types.ImageInspect, []byte, error) {
	if f.images[ref] {
		return types.ImageInspect{ID: "sha256:" + ref}, nil, nil
	}
	return types.ImageInspect{}, nil, errdefs.NotFound(errors.New("no such image: " + ref))
}

func (f *fakeDocker) ImageBuild(_ context.Context, buildCtx io.Reader, opts types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	tr := tar.NewReader(buildCtx)
	hdr, err := tr.Next()
	if err != nil {
		return types.ImageBuildResponse{}, err
	}
	if hdr.Name == "Dockerfile" {
		b, _ := io.ReadAll(tr)
		f.dockerfile = string(b)
	}
	f.builds = append(f.builds, opts.Tags...)
	for _, tag := range opts.Tags {
		f.images[tag] = true
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(`{"stream":"Successfully built"}` + "\n"))}, nil
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ types.ImagePullOptions) (io.ReadCloser, error) {
	f.pulls = append(f.pulls, ref)
	f.images[ref] = true
	return io.NopCloser(strings.NewReader(`{"status":"Pulling"}` + "\n")), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.configs = append(f.configs, cfg)
	f.hosts = append(f.hosts, host)
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, id string, _ types.ContainerStartOptions) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func TestDockerSubmitBuildsAndStarts(t *testing.T) {
	project := testProject()
	b := testBuilder(t, project)
	cli := &fakeDocker{images: map[string]bool{}}
	sub := NewDocker(cli, nil)

	d := build(t, b, release())
	h, err := sub.Submit(t.Context(), d)
	require.NoError(t, err)
	assert.Equal(t, Handle{TaskID: "0123456789abcdef0123", Name: d.Name()}, h)

	tag := ImageTag(project, d.Image())
	assert.Regexp(t, `^servo/build-x86_64-linux:[0-9a-f]{12}$`, tag)
	assert.Equal(t, []string{tag}, cli.builds)
	assert.Equal(t, testDockerfile, cli.dockerfile)
	assert.Equal(t, []string{"0123456789abcdef0123"}, cli.started)

	cfg := cli.configs[0]
	assert.Equal(t, tag, cfg.Image)
	assert.Equal(t, []string{"/bin/bash", "--login", "-x", "-e", "-c", "./mach build --release\n"}, []string(cfg.Cmd))
	assert.Equal(t, []string{"RUST_BACKTRACE=1"}, cfg.Env)
	assert.Equal(t, "10800", cfg.Labels[LabelMaxRunTime])
	assert.Equal(t, "servo-docker-worker", cfg.Labels[LabelWorkerType])
	assert.Equal(t, "project.servo.servo", cfg.Labels[LabelRoutePrefix])

	assert.Equal(t, []mount.Mount{{
		Type:   mount.TypeVolume,
		Source: "cargo-registry-cache",
		Target: "/root/.cargo/registry",
	}}, cli.hosts[0].Mounts)

	// The image is reused for the next task.
	_, err = sub.Submit(t.Context(), build(t, b, tidy()))
	require.NoError(t, err)
	assert.Len(t, cli.builds, 1)
}

func TestDockerSubmitPullsRegistryImage(t *testing.T) {
	b := testBuilder(t, testProject())
	cli := &fakeDocker{images: map[string]bool{}}
	spec := tidy()
	spec.Dockerfile, spec.Image = "", "ubuntu:22.04"

	_, err := NewDocker(cli, nil).Submit(t.Context(), build(t, b, spec))
	require.NoError(t, err)
	assert.Equal(t, []string{"docker.io/library/ubuntu:22.04"}, cli.pulls)
	assert.Empty(t, cli.builds)
}

func TestDockerSubmitStartFailure(t *testing.T) {
	b := testBuilder(t, testProject())
	cli := &fakeDocker{images: map[string]bool{}, startErr: errors.New("port is already allocated")}

	_, err := NewDocker(cli, nil).Submit(t.Context(), build(t, b, tidy()))
	assert.ErrorIs(t, err, ErrSubmission)
	assert.ErrorContains(t, err, "start container 0123456789ab")
}
