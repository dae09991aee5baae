package submit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"decision/internal/taskgraph"
	"decision/pkg/model"
)

// DockerAPI is the part of the Docker client the local backend uses.
type DockerAPI interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
}

// Label keys set on containers started by the Docker backend.
const (
	LabelProject     = "decision.project"
	LabelTask        = "decision.task"
	LabelRoutePrefix = "decision.route-prefix"
	LabelWorkerType  = "decision.worker-type"
	LabelMaxRunTime  = "decision.max-run-time"
)

// Docker hands descriptors to a local Docker daemon. Images are built from
// in-tree dockerfiles (or pulled) when missing, caches become named volumes,
// and the container is started without waiting for it: the daemon owns the
// task from then on. The max run time is recorded as a label only.
type Docker struct {
	cli    DockerAPI
	logger *zap.Logger
}

// NewDockerClient connects to the daemon configured by the DOCKER_* environment,
// or to host when it is set.
func NewDockerClient(host string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	return client.NewClientWithOpts(opts...)
}

func NewDocker(cli DockerAPI, logger *zap.Logger) *Docker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Docker{cli: cli, logger: logger}
}

func (e *Docker) Submit(ctx context.Context, d *taskgraph.TaskDescriptor) (Handle, error) {
	// 1. Make sure the image exists locally
	image, err := e.ensureImage(ctx, d.Project(), d.Image())
	if err != nil {
		return Handle{}, submissionError(d.Name(), err)
	}

	// 2. Create the container
	cfg, hostCfg := containerConfig(d, image)
	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return Handle{}, submissionError(d.Name(), fmt.Errorf("create container: %w", err))
	}
	for _, w := range resp.Warnings {
		e.logger.Warn("docker warning", zap.String("task", d.Name()), zap.String("warning", w))
	}

	// 3. Start it and leave it to the daemon
	if err := e.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return Handle{}, submissionError(d.Name(), fmt.Errorf("start container %s: %w", shortID(resp.ID), err))
	}

	e.logger.Info(fmt.Sprintf("Scheduled %s: %s", d.Name(), shortID(resp.ID)),
		zap.String("task", d.Name()), zap.String("container", resp.ID), zap.String("image", image))
	return Handle{TaskID: resp.ID, Name: d.Name()}, nil
}

// ImageTag is the local tag of an in-tree image: <project>/<name>:<digest12>.
func ImageTag(project *model.ProjectContext, img model.Image) string {
	return fmt.Sprintf("%s/%s:%s", strings.ToLower(project.ProjectName), strings.ToLower(img.Name), img.ShortDigest())
}

func (e *Docker) ensureImage(ctx context.Context, project *model.ProjectContext, img model.Image) (string, error) {
	ref := img.Reference
	if img.Kind == model.ImageInTree {
		ref = ImageTag(project, img)
	}

	_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		e.logger.Debug("image present", zap.String("image", ref))
		return ref, nil
	}
	if !client.IsErrNotFound(err) {
		return "", fmt.Errorf("inspect image %s: %w", ref, err)
	}

	if img.Kind == model.ImageRegistry {
		e.logger.Info("pulling image", zap.String("image", ref))
		out, err := e.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
		if err != nil {
			return "", fmt.Errorf("pull image %s: %w", ref, err)
		}
		defer out.Close()
		return ref, e.drain(out, ref)
	}

	// Same as the image-build task: a build context holding only the dockerfile.
	e.logger.Info("building image", zap.String("image", ref), zap.String("dockerfile", img.DockerfilePath))
	buildCtx, err := archive.Generate("Dockerfile", string(img.Dockerfile))
	if err != nil {
		return "", fmt.Errorf("build context for %s: %w", img.Name, err)
	}
	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{ref},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{LabelProject: project.ProjectName},
	})
	if err != nil {
		return "", fmt.Errorf("build image %s: %w", ref, err)
	}
	defer resp.Body.Close()
	return ref, e.drain(resp.Body, ref)
}

// drain consumes a build or pull progress stream; errors reported in the
// stream are returned.
func (e *Docker) drain(r io.Reader, ref string) error {
	var buf bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(r, &buf, 0, false, nil); err != nil {
		return fmt.Errorf("image %s: %w", ref, err)
	}
	e.logger.Debug("image ready", zap.String("image", ref), zap.Int("output_bytes", buf.Len()))
	return nil
}

func containerConfig(d *taskgraph.TaskDescriptor, image string) (*container.Config, *container.HostConfig) {
	project := d.Project()
	env := d.Env()
	envList := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		envList = append(envList, k+"="+env[k])
	}

	cfg := &container.Config{
		Image: image,
		Cmd:   append(append([]string{}, bashCommand...), d.Script()),
		Env:   envList,
		Tty:   false,
		Labels: map[string]string{
			LabelProject:     project.ProjectName,
			LabelTask:        d.Name(),
			LabelRoutePrefix: project.RoutePrefix,
			LabelWorkerType:  project.WorkerType,
			LabelMaxRunTime:  strconv.Itoa(d.MaxRunTimeMinutes() * 60),
		},
	}

	hostCfg := &container.HostConfig{}
	for _, c := range d.Cache() {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: c.Name,
			Target: c.MountPath,
		})
	}
	return cfg, hostCfg
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
