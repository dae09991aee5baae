package taskgraph

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"decision/pkg/model"
)

// repoPreamble clones the repository at the decision commit before the task's own command.
var repoPreamble = []string{
	"git clone --depth 1 $GITHUB_EVENT_CLONE_URL --branch $GITHUB_EVENT_BRANCH repo",
	"cd repo",
	"git checkout $GITHUB_EVENT_COMMIT_SHA",
}

// TaskDescriptor is a validated task, ready for submission. It cannot be
// modified after Build returns; accessors hand out copies.
type TaskDescriptor struct {
	name       string
	command    []string
	env        map[string]string
	image      model.Image
	maxRunTime int
	scopes     ScopeSet
	cache      []CacheMount
	withRepo   bool

	project *model.ProjectContext
}

func (d *TaskDescriptor) Name() string { return d.name }

// QualifiedName is the name prefixed with the project, as shown by the scheduler.
func (d *TaskDescriptor) QualifiedName() string { return d.project.TaskName(d.name) }

// Command returns the command lines as declared.
func (d *TaskDescriptor) Command() []string { return slices.Clone(d.command) }

// Script joins the command into one shell script, preceded by the clone
// preamble when the task runs inside the repository.
func (d *TaskDescriptor) Script() string {
	lines := d.command
	if d.withRepo {
		lines = append(slices.Clone(repoPreamble), d.command...)
	}
	return strings.Join(lines, "\n") + "\n"
}

// Env returns the task environment, including repository metadata for tasks
// that clone the repository.
func (d *TaskDescriptor) Env() map[string]string { return maps.Clone(d.env) }

func (d *TaskDescriptor) Image() model.Image {
	img := d.image
	img.Dockerfile = slices.Clone(d.image.Dockerfile)
	return img
}

func (d *TaskDescriptor) MaxRunTimeMinutes() int { return d.maxRunTime }

func (d *TaskDescriptor) Scopes() ScopeSet { return slices.Clone(d.scopes) }

// Cache returns the cache mounts sorted by name.
func (d *TaskDescriptor) Cache() []CacheMount { return slices.Clone(d.cache) }

// CacheMap returns the cache mounts keyed by cache name.
func (d *TaskDescriptor) CacheMap() map[string]string {
	out := make(map[string]string, len(d.cache))
	for _, c := range d.cache {
		out[c.Name] = c.MountPath
	}
	return out
}

func (d *TaskDescriptor) WithRepo() bool { return d.withRepo }

// Project is the context the descriptor was built against. It is shared, not owned.
func (d *TaskDescriptor) Project() *model.ProjectContext { return d.project }

func sortedMounts(cache map[string]string) []CacheMount {
	out := make([]CacheMount, 0, len(cache))
	for name, path := range cache {
		out = append(out, CacheMount{Name: name, MountPath: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
