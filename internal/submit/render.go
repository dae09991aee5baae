package submit

import (
	"time"

	"decision/internal/queue"
	"decision/internal/taskgraph"
	"decision/pkg/model"
)

const (
	// ImageArtifact is the path image-build tasks save their image to.
	ImageArtifact = "image.tar.lz4"

	// BuilderImage runs image-build tasks (docker-in-docker with lz4).
	BuilderImage = "servobrowser/taskcluster-bootstrap:image-builder@sha256:" +
		"0a7d012ce444d62ffb9e7f06f0c52fedc24b68c2060711b313263367f7272d9d"

	imageBuildMaxRunTime = 20 * time.Minute
)

var bashCommand = []string{"/bin/bash", "--login", "-x", "-e", "-c"}

// graphInfo is what every task of one run shares.
type graphInfo struct {
	groupID string
	now     time.Time
}

func (g graphInfo) dependencies(project *model.ProjectContext, deps ...string) []string {
	out := make([]string, 0, len(deps)+1)
	if project.DecisionTaskID != "" {
		out = append(out, project.DecisionTaskID)
	}
	return append(out, deps...)
}

func (g graphInfo) base(project *model.ProjectContext, name string) *queue.Task {
	deadline := project.Deadline
	if deadline <= 0 {
		deadline = 24 * time.Hour
	}
	return &queue.Task{
		TaskGroupID:   g.groupID,
		SchedulerID:   project.SchedulerID,
		ProvisionerID: project.ProvisionerID,
		WorkerType:    project.WorkerType,
		Created:       queue.Time(g.now),
		Deadline:      queue.Time(g.now.Add(deadline)),
		Metadata: queue.Metadata{
			Name:   project.TaskName(name),
			Owner:  project.Repo.Owner,
			Source: project.Repo.Source,
		},
		Scopes: []string{},
		Routes: []string{},
		Extra:  map[string]any{},
		Payload: queue.Payload{
			Cache:     map[string]string{},
			Env:       map[string]string{},
			Artifacts: map[string]queue.Artifact{},
			Features:  map[string]bool{},
		},
	}
}

// renderTask turns a descriptor into the definition sent to the queue.
func (g graphInfo) renderTask(d *taskgraph.TaskDescriptor, image queue.Image, deps []string) *queue.Task {
	project := d.Project()
	t := g.base(project, d.Name())
	t.Dependencies = g.dependencies(project, deps...)
	t.Scopes = d.Scopes()
	t.Payload.Cache = d.CacheMap()
	t.Payload.MaxRunTime = d.MaxRunTimeMinutes() * 60
	t.Payload.Image = image
	t.Payload.Command = append(append([]string{}, bashCommand...), d.Script())
	t.Payload.Env = d.Env()
	return t
}

// renderImageBuild builds an in-tree dockerfile and publishes the image as an
// artifact, indexed under the project's image route until the cache expires.
func (g graphInfo) renderImageBuild(project *model.ProjectContext, img model.Image) *queue.Task {
	expires := queue.Time(g.now.Add(project.DockerImageCacheExpiry))

	t := g.base(project, "docker image build task for image: "+img.Name)
	t.Dependencies = g.dependencies(project)
	t.Routes = []string{"index." + project.ImageRoute(img.Digest)}
	t.Extra = map[string]any{"index": map[string]any{"expires": expires}}
	t.Payload.MaxRunTime = int(imageBuildMaxRunTime / time.Second)
	t.Payload.Image = queue.Image{Name: BuilderImage}
	t.Payload.Command = append(append([]string{}, bashCommand...),
		"echo \"$DOCKERFILE\" | docker build -t taskcluster-built -\n"+
			"docker save taskcluster-built | lz4 > /"+ImageArtifact+"\n")
	t.Payload.Env = map[string]string{"DOCKERFILE": string(img.Dockerfile)}
	t.Payload.Artifacts = map[string]queue.Artifact{
		"public/" + ImageArtifact: {Type: "file", Path: "/" + ImageArtifact, Expires: expires},
	}
	t.Payload.Features = map[string]bool{"dind": true}
	return t
}
